package web

import (
	"fmt"
	"strconv"
	"strings"

	"VirtualDoctor/internal/nutrition"
	"VirtualDoctor/internal/session"
)

type menuItem struct {
	Label  string
	Slug   string
	Active bool
}

// nutritionForm keeps the submitted values as typed so an invalid form is
// shown back unchanged.
type nutritionForm struct {
	Age      string
	Weight   string
	Height   string
	Goal     string
	Duration string
}

type nutritionLimits struct {
	MinAge, MaxAge           int
	MinWeightKg, MaxWeightKg float64
	MinHeightCm, MaxHeightCm int
}

var limits = nutritionLimits{
	MinAge:      nutrition.MinAge,
	MaxAge:      nutrition.MaxAge,
	MinWeightKg: nutrition.MinWeightKg,
	MaxWeightKg: nutrition.MaxWeightKg,
	MinHeightCm: nutrition.MinHeightCm,
	MaxHeightCm: nutrition.MaxHeightCm,
}

type pageData struct {
	Title string
	Theme Theme
	Menu  []menuItem
	Error string

	// Home
	Tip           string
	TipIntervalMs int64

	// Doctor Chat
	Messages []session.Message

	// Nutrition
	Form        nutritionForm
	Limits      nutritionLimits
	Goals       []nutrition.Goal
	Durations   []string
	FieldErrors map[string]string
	BMI         string
	BMICategory string
	Plan        string
}

// pageRenderers fills in the page-specific part of pageData from the
// session.
var pageRenderers = map[session.Page]func(s *Server, sess *session.Session, data *pageData){
	session.PageHome:       renderHome,
	session.PageDoctorChat: renderChat,
	session.PageNutrition:  renderNutrition,
	session.PageAbout:      func(*Server, *session.Session, *pageData) {},
}

func (s *Server) newPageData(page session.Page) *pageData {
	menu := make([]menuItem, 0, len(session.Pages))
	for _, p := range session.Pages {
		menu = append(menu, menuItem{Label: p.String(), Slug: p.Slug(), Active: p == page})
	}
	return &pageData{
		Title:       page.String(),
		Theme:       s.theme,
		Menu:        menu,
		FieldErrors: map[string]string{},
	}
}

// pageFor builds the data for the session's page.
func (s *Server) pageFor(sess *session.Session, page session.Page) *pageData {
	data := s.newPageData(page)
	if fill, ok := pageRenderers[page]; ok {
		fill(s, sess, data)
	}
	return data
}

func renderHome(s *Server, _ *session.Session, data *pageData) {
	data.Tip = s.tips[0]
	data.TipIntervalMs = s.tipInterval.Milliseconds()
}

func renderChat(_ *Server, sess *session.Session, data *pageData) {
	data.Messages = sess.All()
}

func renderNutrition(_ *Server, sess *session.Session, data *pageData) {
	def := nutrition.DefaultRequest()
	data.Form = nutritionForm{
		Age:      strconv.Itoa(def.Age),
		Weight:   strconv.FormatFloat(def.WeightKg, 'f', 1, 64),
		Height:   strconv.Itoa(def.HeightCm),
		Goal:     string(def.Goal),
		Duration: def.Duration,
	}
	data.Limits = limits
	data.Goals = nutrition.Goals
	data.Durations = nutrition.Durations
	data.Plan = sess.NutritionPlan()
}

// parseNutritionForm converts the submitted form into a request. Fields that
// are not numbers are reported alongside the range checks.
func parseNutritionForm(form nutritionForm) (nutrition.Request, map[string]string) {
	fields := make(map[string]string)
	req := nutrition.Request{
		Goal:     nutrition.Goal(strings.TrimSpace(form.Goal)),
		Duration: strings.TrimSpace(form.Duration),
	}

	var err error
	if req.Age, err = strconv.Atoi(strings.TrimSpace(form.Age)); err != nil {
		fields["age"] = "must be a whole number"
	}
	if req.WeightKg, err = strconv.ParseFloat(strings.TrimSpace(form.Weight), 64); err != nil {
		fields["weight"] = "must be a number"
	}
	if req.HeightCm, err = strconv.Atoi(strings.TrimSpace(form.Height)); err != nil {
		fields["height"] = "must be a whole number"
	}

	if verr, ok := req.Validate().(*nutrition.ValidationError); ok {
		for field, msg := range verr.Fields {
			if _, seen := fields[field]; !seen {
				fields[field] = msg
			}
		}
	}
	return req, fields
}

func formatBMI(bmi float64) string {
	return fmt.Sprintf("%.1f", bmi)
}
