package businessflow

import (
	"testing"

	"github.com/amirphl/massdispatch/models"
	"github.com/amirphl/massdispatch/utils"
	"github.com/stretchr/testify/assert"
)

func TestRenderTemplate(t *testing.T) {
	declared := []models.TemplateVariable{
		{Name: "name"},
		{Name: "city", Default: utils.ToPtr("Tehran")},
		{Name: "code"},
	}

	tests := []struct {
		name     string
		body     string
		declared []models.TemplateVariable
		values   map[string]string
		want     string
	}{
		{
			name:     "supplied values win",
			body:     "Hi {name} from {city}",
			declared: declared,
			values:   map[string]string{"name": "Sara", "city": "Shiraz"},
			want:     "Hi Sara from Shiraz",
		},
		{
			name:     "default used when value missing",
			body:     "Hi {name} from {city}",
			declared: declared,
			values:   map[string]string{"name": "Sara"},
			want:     "Hi Sara from Tehran",
		},
		{
			name:     "empty value falls back to default",
			body:     "{city}",
			declared: declared,
			values:   map[string]string{"city": ""},
			want:     "Tehran",
		},
		{
			name:     "missing value without default stays literal",
			body:     "Your code is {code}",
			declared: declared,
			values:   nil,
			want:     "Your code is {code}",
		},
		{
			name:     "non-ascii body keeps an unfilled placeholder",
			body:     "Hola {name}, tu código es {code}",
			declared: []models.TemplateVariable{{Name: "name"}, {Name: "code"}},
			values:   map[string]string{"name": "Ana"},
			want:     "Hola Ana, tu código es {code}",
		},
		{
			name:     "undeclared placeholders are untouched",
			body:     "{name} {other}",
			declared: declared,
			values:   map[string]string{"name": "Ali", "other": "x"},
			want:     "Ali {other}",
		},
		{
			name:     "repeated placeholder replaced everywhere",
			body:     "{name}, {name}!",
			declared: declared,
			values:   map[string]string{"name": "Ali"},
			want:     "Ali, Ali!",
		},
		{
			name:     "matching is case sensitive",
			body:     "{Name} {name}",
			declared: declared,
			values:   map[string]string{"name": "Ali"},
			want:     "{Name} Ali",
		},
		{
			name:     "substituted text is not rescanned",
			body:     "{name}",
			declared: declared,
			values:   map[string]string{"name": "{city}"},
			want:     "{city}",
		},
		{
			name:     "no declared variables returns body",
			body:     "plain {name}",
			declared: nil,
			values:   map[string]string{"name": "Ali"},
			want:     "plain {name}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderTemplate(tt.body, tt.declared, tt.values))
		})
	}
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, "{first_name}", Placeholder("first_name"))
}
