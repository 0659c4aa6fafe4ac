package web

// Theme holds the colours the stylesheet is rendered with. Values must be
// plain CSS colour literals.
type Theme struct {
	BackgroundFrom string
	BackgroundTo   string
	Sidebar        string
	Text           string
	Accent         string
	AccentHover    string
	AccentText     string
	TipBorder      string
}

// DefaultTheme is the dark indigo palette with orange accents.
func DefaultTheme() Theme {
	return Theme{
		BackgroundFrom: "#0f0c29",
		BackgroundTo:   "#302b63",
		Sidebar:        "#0f0c29",
		Text:           "#f5f0e1",
		Accent:         "#ff6e40",
		AccentHover:    "#ffc13b",
		AccentText:     "#1e3d59",
		TipBorder:      "#ff5733",
	}
}
