package web

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"VirtualDoctor/internal/nutrition"
)

func TestParseNutritionForm(t *testing.T) {
	tests := []struct {
		name       string
		form       nutritionForm
		wantFields []string
	}{
		{
			name: "valid",
			form: nutritionForm{Age: "30", Weight: "70.0", Height: "170", Goal: "lose weight", Duration: "1 week"},
		},
		{
			name:       "not numbers",
			form:       nutritionForm{Age: "thirty", Weight: "", Height: "1.7m", Goal: "gain weight", Duration: "2 weeks"},
			wantFields: []string{"age", "weight", "height"},
		},
		{
			name:       "out of range",
			form:       nutritionForm{Age: "121", Weight: "0.5", Height: "251", Goal: "maintain weight", Duration: "1 month"},
			wantFields: []string{"age", "weight", "height"},
		},
		{
			name:       "unknown choices",
			form:       nutritionForm{Age: "40", Weight: "80", Height: "180", Goal: "get fit", Duration: "1 year"},
			wantFields: []string{"goal", "duration"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, fields := parseNutritionForm(tt.form)
			got := make([]string, 0, len(fields))
			for f := range fields {
				got = append(got, f)
			}
			assert.ElementsMatch(t, tt.wantFields, got)
			if len(tt.wantFields) == 0 {
				assert.NoError(t, req.Validate())
			}
		})
	}
}

func TestParseNutritionForm_KeepsParseMessage(t *testing.T) {
	_, fields := parseNutritionForm(nutritionForm{Age: "x", Weight: "70", Height: "170", Goal: string(nutrition.GoalLose), Duration: "1 week"})
	assert.Equal(t, "must be a whole number", fields["age"])
}

func TestRenderMarkdown(t *testing.T) {
	out := string(renderMarkdown("# Plan\n\n- oats\n- walk\n\n<img src=x onerror=alert(1)>"))
	assert.Contains(t, out, "<h1")
	assert.Contains(t, out, "<li>oats</li>")
	assert.NotContains(t, out, "onerror")
}
