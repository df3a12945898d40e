package ui

import (
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Theme is the active color scheme.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

var currentTheme Theme = ThemeDark

// palette is the set of color roles the monitor renders with.
type palette struct {
	Bg, Surface, Border, Text, TextDim lipgloss.Color
	Accent, Green, Yellow, Red, Cyan   lipgloss.Color
}

var darkPalette = palette{
	Bg:      lipgloss.Color("#1e222a"),
	Surface: lipgloss.Color("#282c34"),
	Border:  lipgloss.Color("#3e4451"),
	Text:    lipgloss.Color("#abb2bf"),
	TextDim: lipgloss.Color("#5c6370"),
	Accent:  lipgloss.Color("#61afef"),
	Green:   lipgloss.Color("#98c379"),
	Yellow:  lipgloss.Color("#e5c07b"),
	Red:     lipgloss.Color("#e06c75"),
	Cyan:    lipgloss.Color("#56b6c2"),
}

var lightPalette = palette{
	Bg:      lipgloss.Color("#fafafa"),
	Surface: lipgloss.Color("#f0f0f1"),
	Border:  lipgloss.Color("#c9c9ca"),
	Text:    lipgloss.Color("#383a42"),
	TextDim: lipgloss.Color("#a0a1a7"),
	Accent:  lipgloss.Color("#4078f2"),
	Green:   lipgloss.Color("#50a14f"),
	Yellow:  lipgloss.Color("#c18401"),
	Red:     lipgloss.Color("#e45649"),
	Cyan:    lipgloss.Color("#0184bc"),
}

// Active colors, set by InitTheme.
var (
	ColorBg      lipgloss.Color
	ColorSurface lipgloss.Color
	ColorBorder  lipgloss.Color
	ColorText    lipgloss.Color
	ColorTextDim lipgloss.Color
	ColorAccent  lipgloss.Color
	ColorGreen   lipgloss.Color
	ColorYellow  lipgloss.Color
	ColorRed     lipgloss.Color
	ColorCyan    lipgloss.Color
)

// themeMu guards the color and style globals during live theme switches.
var themeMu sync.RWMutex

// InitTheme activates the named palette and rebuilds every style.
// Call before rendering; safe to call again on a system theme change.
func InitTheme(theme string) {
	themeMu.Lock()
	defer themeMu.Unlock()

	p := darkPalette
	currentTheme = ThemeDark
	if theme == "light" {
		p = lightPalette
		currentTheme = ThemeLight
	}

	ColorBg = p.Bg
	ColorSurface = p.Surface
	ColorBorder = p.Border
	ColorText = p.Text
	ColorTextDim = p.TextDim
	ColorAccent = p.Accent
	ColorGreen = p.Green
	ColorYellow = p.Yellow
	ColorRed = p.Red
	ColorCyan = p.Cyan

	initStyles()
}

// GetCurrentTheme returns the active theme.
func GetCurrentTheme() Theme {
	themeMu.RLock()
	defer themeMu.RUnlock()
	return currentTheme
}

func init() {
	InitTheme("dark")
}

var (
	TitleStyle     lipgloss.Style
	HeaderBarStyle lipgloss.Style
	StatusBarStyle lipgloss.Style
	KeyHintStyle   lipgloss.Style
	KeyDescStyle   lipgloss.Style

	PaneStyle        lipgloss.Style
	PaneFocusedStyle lipgloss.Style
	PaneTitleStyle   lipgloss.Style

	ListItemStyle         lipgloss.Style
	ListItemSelectedStyle lipgloss.Style
	ListMetaStyle         lipgloss.Style

	UserLabelStyle      lipgloss.Style
	AssistantLabelStyle lipgloss.Style
	MessageTimeStyle    lipgloss.Style
	MessageTextStyle    lipgloss.Style

	StatusOKStyle   lipgloss.Style
	StatusWarnStyle lipgloss.Style
	StatusErrStyle  lipgloss.Style

	SpinnerStyle lipgloss.Style
	DimStyle     lipgloss.Style

	ConnectedDotStyle    lipgloss.Style
	DisconnectedDotStyle lipgloss.Style
)

// initStyles rebuilds the style set from the active colors. Called by
// InitTheme with themeMu held.
func initStyles() {
	TitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent).
		Background(ColorSurface).
		Padding(0, 1)

	HeaderBarStyle = lipgloss.NewStyle().
		Background(ColorSurface).
		Foreground(ColorText)

	StatusBarStyle = lipgloss.NewStyle().
		Background(ColorSurface).
		Foreground(ColorTextDim)

	KeyHintStyle = lipgloss.NewStyle().
		Foreground(ColorAccent).
		Bold(true)

	KeyDescStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim)

	PaneStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1)

	PaneFocusedStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAccent).
		Padding(0, 1)

	PaneTitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorText)

	ListItemStyle = lipgloss.NewStyle().
		Foreground(ColorText)

	ListItemSelectedStyle = lipgloss.NewStyle().
		Foreground(ColorBg).
		Background(ColorAccent).
		Bold(true)

	ListMetaStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim)

	UserLabelStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorAccent)

	AssistantLabelStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorGreen)

	MessageTimeStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim)

	MessageTextStyle = lipgloss.NewStyle().
		Foreground(ColorText)

	StatusOKStyle = lipgloss.NewStyle().
		Foreground(ColorGreen)

	StatusWarnStyle = lipgloss.NewStyle().
		Foreground(ColorYellow)

	StatusErrStyle = lipgloss.NewStyle().
		Foreground(ColorRed)

	SpinnerStyle = lipgloss.NewStyle().
		Foreground(ColorAccent)

	DimStyle = lipgloss.NewStyle().
		Foreground(ColorTextDim)

	ConnectedDotStyle = lipgloss.NewStyle().
		Foreground(ColorGreen)

	DisconnectedDotStyle = lipgloss.NewStyle().
		Foreground(ColorRed)
}
