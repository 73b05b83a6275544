// Package prompt renders the text sent to a language model for a document.
package prompt

import "strings"

const defaultInstruction = "Please provide a clear and accurate answer based on the context provided."

// Builder renders prompts. It holds no state; the zero value is ready to use.
type Builder struct{}

func NewBuilder() Builder {
	return Builder{}
}

// Build is deterministic in its inputs so the stored prompt can be reproduced for audit.
func (Builder) Build(context, question, format, example string) string {
	var b strings.Builder
	b.WriteString("Context: ")
	b.WriteString(context)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\n")
	b.WriteString(Directive(format, example))
	return b.String()
}

// Directive returns the formatting instruction appended after the question.
func Directive(format, example string) string {
	format = strings.TrimSpace(format)
	example = strings.TrimSpace(example)
	if format == "" {
		return defaultInstruction
	}

	var b strings.Builder
	b.WriteString("Answer ONLY with a value in exactly this format:\n")
	b.WriteString(format)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Output nothing except that value: no explanations, no markdown, no code fences.\n")
	b.WriteString("- Keep the field names exactly as given.\n")
	b.WriteString("- Fill every field with information from the context; use an empty string when a value is not present.\n")
	if example != "" {
		b.WriteString("- Mimic the structure of this example exactly:\n")
		b.WriteString(example)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
