package nutrition

import (
	"context"
	"fmt"
	"math"
	"strings"

	"VirtualDoctor/internal/completion"
)

// SystemRole is the persona the plan is generated under.
const SystemRole = "You are a knowledgeable nutritionist and fitness expert."

// Form bounds enforced by Validate.
const (
	MinAge      = 1
	MaxAge      = 120
	MinWeightKg = 1.0
	MaxWeightKg = 300.0
	MinHeightCm = 50
	MaxHeightCm = 250
)

// Goal is what the plan aims for.
type Goal string

const (
	GoalLose     Goal = "lose weight"
	GoalGain     Goal = "gain weight"
	GoalMaintain Goal = "maintain weight"
)

// Goals lists the selectable goals in display order.
var Goals = []Goal{GoalLose, GoalGain, GoalMaintain}

// Durations lists the selectable plan lengths in display order.
var Durations = []string{"1 week", "2 weeks", "1 month"}

// Request holds the biometrics submitted from the nutrition form.
type Request struct {
	Age      int
	WeightKg float64
	HeightCm int
	Goal     Goal
	Duration string
}

// DefaultRequest is the form's initial state.
func DefaultRequest() Request {
	return Request{
		Age:      30,
		WeightKg: 70.0,
		HeightCm: 170,
		Goal:     GoalLose,
		Duration: Durations[0],
	}
}

// BMI derives the body mass index from weight and height.
func (r Request) BMI() float64 {
	m := float64(r.HeightCm) / 100
	return r.WeightKg / (m * m)
}

// Prompt renders the user prompt sent to the completion service.
func (r Request) Prompt() string {
	return fmt.Sprintf(
		"Create a nutrition and exercise plan for a %d-year-old person with a BMI of %.1f, aiming to %s over %s. Include daily meal plans and exercise routines.",
		r.Age, r.BMI(), r.Goal, r.Duration,
	)
}

// Category returns the WHO weight band for bmi.
func Category(bmi float64) string {
	switch {
	case math.IsNaN(bmi) || math.IsInf(bmi, 0):
		return "Unknown"
	case bmi < 18.5:
		return "Underweight"
	case bmi < 25:
		return "Normal weight"
	case bmi < 30:
		return "Overweight"
	default:
		return "Obese"
	}
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, field := range []string{"age", "weight", "height", "goal", "duration"} {
		if msg, ok := e.Fields[field]; ok {
			parts = append(parts, field+": "+msg)
		}
	}
	return "invalid nutrition request: " + strings.Join(parts, "; ")
}

// Validate checks the form bounds. It returns a *ValidationError.
func (r Request) Validate() error {
	fields := make(map[string]string)

	if r.Age < MinAge || r.Age > MaxAge {
		fields["age"] = fmt.Sprintf("must be between %d and %d", MinAge, MaxAge)
	}
	if math.IsNaN(r.WeightKg) || r.WeightKg < MinWeightKg || r.WeightKg > MaxWeightKg {
		fields["weight"] = fmt.Sprintf("must be between %.1f and %.1f kg", MinWeightKg, MaxWeightKg)
	}
	if r.HeightCm < MinHeightCm || r.HeightCm > MaxHeightCm {
		fields["height"] = fmt.Sprintf("must be between %d and %d cm", MinHeightCm, MaxHeightCm)
	}
	if !validGoal(r.Goal) {
		fields["goal"] = fmt.Sprintf("unknown goal %q", r.Goal)
	}
	if !validDuration(r.Duration) {
		fields["duration"] = fmt.Sprintf("unknown duration %q", r.Duration)
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func validGoal(g Goal) bool {
	for _, known := range Goals {
		if g == known {
			return true
		}
	}
	return false
}

func validDuration(d string) bool {
	for _, known := range Durations {
		if d == known {
			return true
		}
	}
	return false
}

// Completer is the completion call the builder depends on.
type Completer interface {
	Complete(ctx context.Context, systemRole, userPrompt string) completion.Result
}

// Builder generates nutrition and exercise plans.
type Builder struct {
	client Completer
}

func NewBuilder(client Completer) *Builder {
	return &Builder{client: client}
}

// BuildPlan asks the completion service for a plan. The request is not
// validated here; the form layer rejects out-of-range input first.
func (b *Builder) BuildPlan(ctx context.Context, req Request) completion.Result {
	return b.client.Complete(ctx, SystemRole, req.Prompt())
}
