package reconcile

import (
	"regexp"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
)

// FieldMatcher finds a value for one named field in free-form text.
// Matchers are pure; the reconciler tries them in order and keeps the first hit.
type FieldMatcher interface {
	Name() string
	Match(text, field string, fields []string) (string, bool)
}

// Preferrer is implemented by matchers that know which field names they suit.
// A preferred matcher is tried before the others for that field; every
// matcher is still tried for every field.
type Preferrer interface {
	Prefers(field string) bool
}

// orderFor puts matchers without preferences and those preferring field
// first, keeping the configured order within both groups.
func orderFor(matchers []FieldMatcher, field string) []FieldMatcher {
	first := make([]FieldMatcher, 0, len(matchers))
	var rest []FieldMatcher
	for _, m := range matchers {
		if p, ok := m.(Preferrer); ok && !p.Prefers(field) {
			rest = append(rest, m)
			continue
		}
		first = append(first, m)
	}
	return append(first, rest...)
}

// DefaultMatchers is the Brazilian-locale set: labelled values, dd/mm/yyyy dates,
// CNPJ/CPF identifiers and numbers, in that priority.
func DefaultMatchers() []FieldMatcher {
	return []FieldMatcher{
		LabelMatcher{},
		DateMatcher{Hints: dateHints},
		IdentifierMatcher{Patterns: BrazilianIdentifiers()},
		NumberMatcher{Hints: numberHints},
	}
}

var (
	dateHints   = []string{"data", "date", "vencimento", "emissao", "emissão", "nascimento", "validade", "dt_"}
	numberHints = []string{"valor", "total", "preco", "preço", "quantidade", "qtd", "numero", "número", "nota", "amount", "value", "price", "number", "count", "qty"}
)

func hinted(field string, hints []string) bool {
	lower := strings.ToLower(field)
	for _, hint := range hints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// LabelMatcher reads `field: value` or `field = value`. The value runs until the
// end of the line, a `;` or `|`, or the next label of another known field.
type LabelMatcher struct{}

func (LabelMatcher) Name() string { return "label" }

const labelCacheSize = 1024

// labelCache holds compiled label patterns. Field names come from callers, so
// the cache is bounded and evicts.
var labelCache = mustLabelCache()

func mustLabelCache() *ristretto.Cache[string, *regexp.Regexp] {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *regexp.Regexp]{
		NumCounters: labelCacheSize * 10,
		MaxCost:     labelCacheSize,
		BufferItems: 64,
	})
	if err != nil {
		panic(err)
	}
	return cache
}

func labelPattern(field string) *regexp.Regexp {
	if cached, ok := labelCache.Get(field); ok {
		return cached
	}
	re := regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])["']?` + regexp.QuoteMeta(field) + `["']?[ \t]*[:=][ \t]*`)
	labelCache.Set(field, re, 1)
	return re
}

func (LabelMatcher) Match(text, field string, fields []string) (string, bool) {
	for _, loc := range labelPattern(field).FindAllStringIndex(text, -1) {
		if value := labelValue(text[loc[1]:], fields); value != "" {
			return value, true
		}
	}
	return "", false
}

func labelValue(rest string, fields []string) string {
	if rest == "" {
		return ""
	}
	if q := rest[0]; q == '"' || q == '\'' {
		if end := strings.IndexByte(rest[1:], q); end >= 0 {
			return strings.TrimSpace(rest[1 : 1+end])
		}
	}

	end := len(rest)
	if i := strings.IndexAny(rest, "\r\n;|"); i >= 0 {
		end = i
	}
	for _, other := range fields {
		if loc := labelPattern(other).FindStringIndex(rest[:end]); loc != nil && loc[0] < end {
			end = loc[0]
		}
	}
	value := strings.TrimSpace(rest[:end])
	value = strings.TrimRight(value, ",}] \t")
	return strings.Trim(value, `"'`)
}

// DateMatcher picks the first plausible date. Hints name the fields it is
// preferred for.
type DateMatcher struct {
	Hints []string
}

func (DateMatcher) Name() string { return "date" }

func (m DateMatcher) Prefers(field string) bool { return hinted(field, m.Hints) }

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:0?[1-9]|[12]\d|3[01])/(?:0?[1-9]|1[0-2])/(?:\d{4}|\d{2})\b`),
	regexp.MustCompile(`\b(?:0?[1-9]|[12]\d|3[01])[.-](?:0?[1-9]|1[0-2])[.-]\d{4}\b`),
	regexp.MustCompile(`\b\d{4}-(?:0[1-9]|1[0-2])-(?:0[1-9]|[12]\d|3[01])\b`),
}

func (m DateMatcher) Match(text, _ string, _ []string) (string, bool) {
	for _, re := range datePatterns {
		if found := re.FindString(text); found != "" {
			return found, true
		}
	}
	return "", false
}

// IdentifierMatcher finds formatted registration numbers, preferring ones whose
// check digits validate.
type IdentifierMatcher struct {
	Patterns []IdentifierPattern
}

type IdentifierPattern struct {
	Name    string
	Hints   []string
	Pattern *regexp.Regexp
	Valid   func(digits string) bool
}

func (IdentifierMatcher) Name() string { return "identifier" }

func (m IdentifierMatcher) Prefers(field string) bool {
	for _, p := range m.Patterns {
		if hinted(field, p.Hints) {
			return true
		}
	}
	return false
}

// Match tries the patterns hinted for field first, then the rest.
func (m IdentifierMatcher) Match(text, field string, _ []string) (string, bool) {
	patterns := make([]IdentifierPattern, 0, len(m.Patterns))
	for _, p := range m.Patterns {
		if hinted(field, p.Hints) {
			patterns = append(patterns, p)
		}
	}
	for _, p := range m.Patterns {
		if !hinted(field, p.Hints) {
			patterns = append(patterns, p)
		}
	}
	for _, p := range patterns {
		candidates := p.Pattern.FindAllString(text, -1)
		for _, c := range candidates {
			if p.Valid == nil || p.Valid(onlyDigits(c)) {
				return c, true
			}
		}
		for _, c := range candidates {
			if strings.ContainsAny(c, "./-") {
				return c, true
			}
		}
	}
	return "", false
}

// NumberMatcher returns the first currency amount, else the first number.
type NumberMatcher struct {
	Hints []string
}

func (NumberMatcher) Name() string { return "number" }

func (m NumberMatcher) Prefers(field string) bool { return hinted(field, m.Hints) }

var (
	currencyPattern = regexp.MustCompile(`R\$\s*\d{1,3}(?:\.\d{3})*(?:,\d{2})?|R\$\s*\d+(?:,\d{2})?`)
	numberPattern   = regexp.MustCompile(`-?\d+(?:[.,]\d+)*`)
)

func (m NumberMatcher) Match(text, _ string, _ []string) (string, bool) {
	if found := currencyPattern.FindString(text); found != "" {
		return found, true
	}
	if found := numberPattern.FindString(text); found != "" {
		return found, true
	}
	return "", false
}
