package businessflow

import (
	"strings"

	"github.com/amirphl/massdispatch/models"
)

// Placeholder returns the literal placeholder text for a variable name
func Placeholder(name string) string {
	return "{" + name + "}"
}

// RenderTemplate substitutes every declared variable into body. A variable resolves to the
// caller-supplied value, else its declared default, else stays as the literal {name} so the
// operator can see what data was missing. Matching is exact and case-sensitive, and
// replacement is a single pass: substituted text is never scanned again.
func RenderTemplate(body string, declared []models.TemplateVariable, values map[string]string) string {
	if len(declared) == 0 {
		return body
	}

	pairs := make([]string, 0, len(declared)*2)
	seen := make(map[string]struct{}, len(declared))
	for _, v := range declared {
		if v.Name == "" {
			continue
		}
		if _, dup := seen[v.Name]; dup {
			continue
		}
		seen[v.Name] = struct{}{}
		pairs = append(pairs, Placeholder(v.Name), resolveVariable(v, values))
	}
	if len(pairs) == 0 {
		return body
	}

	return strings.NewReplacer(pairs...).Replace(body)
}

func resolveVariable(v models.TemplateVariable, values map[string]string) string {
	if value, ok := values[v.Name]; ok && value != "" {
		return value
	}
	if v.Default != nil {
		return *v.Default
	}
	return Placeholder(v.Name)
}
