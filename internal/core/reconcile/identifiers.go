package reconcile

import (
	"regexp"
	"strings"
)

// BrazilianIdentifiers returns CNPJ and CPF patterns with check-digit validation.
func BrazilianIdentifiers() []IdentifierPattern {
	return []IdentifierPattern{
		{
			Name:    "cnpj",
			Hints:   []string{"cnpj", "documento", "registro", "inscricao", "inscrição", "empresa_id"},
			Pattern: regexp.MustCompile(`\b\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}\b`),
			Valid:   ValidCNPJ,
		},
		{
			Name:    "cpf",
			Hints:   []string{"cpf", "documento", "registro"},
			Pattern: regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b`),
			Valid:   ValidCPF,
		},
	}
}

func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func repeated(digits string) bool {
	return strings.Count(digits, digits[:1]) == len(digits)
}

func ValidCNPJ(digits string) bool {
	if len(digits) != 14 || repeated(digits) {
		return false
	}
	first := mod11Digit(digits[:12], []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2})
	second := mod11Digit(digits[:12]+string(rune('0'+first)), []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2})
	return int(digits[12]-'0') == first && int(digits[13]-'0') == second
}

func mod11Digit(digits string, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += int(digits[i]-'0') * w
	}
	rest := sum % 11
	if rest < 2 {
		return 0
	}
	return 11 - rest
}

func ValidCPF(digits string) bool {
	if len(digits) != 11 || repeated(digits) {
		return false
	}
	for check := 9; check <= 10; check++ {
		sum := 0
		for i := 0; i < check; i++ {
			sum += int(digits[i]-'0') * (check + 1 - i)
		}
		d := sum * 10 % 11
		if d == 10 {
			d = 0
		}
		if int(digits[check]-'0') != d {
			return false
		}
	}
	return true
}
