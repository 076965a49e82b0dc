// Package phase classifies remaining countdown time into display phases.
//
// Classify is total over non-negative seconds: the thresholds below are
// contiguous lower bounds, so every value falls into exactly one phase.
package phase

import "math"

type Phase string

const (
	Dormant  Phase = "dormant"
	Distant  Phase = "distant"
	Approach Phase = "approach"
	Imminent Phase = "imminent"
	Final    Phase = "final"
	Breach   Phase = "breach"

	// ConfigError is never returned by Classify; it labels the config-invalid frame.
	ConfigError Phase = "config_error"
)

// Theme is the color set a presentation layer applies for a phase.
type Theme struct {
	Primary    string `json:"primary"`
	Accent     string `json:"accent"`
	Background string `json:"background"`
}

// Info is the display metadata of a phase.
type Info struct {
	Phase        Phase  `json:"phase"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	PauseAmbient bool   `json:"pause_ambient"`
	InvertDigits bool   `json:"invert_digits"`
	Theme        Theme  `json:"theme"`
}

type threshold struct {
	min  float64 // seconds, inclusive
	info Info
}

const (
	minute = 60.0
	hour   = 60 * minute
	day    = 24 * hour
)

// Ordered from the largest lower bound down; the last entry must start at zero.
var table = []threshold{
	{min: 7 * day, info: Info{
		Phase:        Dormant,
		Name:         "Dormant",
		Description:  "The seal is far off. Feeds idle.",
		PauseAmbient: true,
		Theme:        Theme{Primary: "#5B6B73", Accent: "#8FA3AD", Background: "#0B0F12"},
	}},
	{min: day, info: Info{
		Phase:       Distant,
		Name:        "Distant",
		Description: "More than a day remains.",
		Theme:       Theme{Primary: "#7FB7BE", Accent: "#D3F3EE", Background: "#0A1416"},
	}},
	{min: hour, info: Info{
		Phase:       Approach,
		Name:        "Approach",
		Description: "The seal weakens within the day.",
		Theme:       Theme{Primary: "#E0C35A", Accent: "#F5E6A8", Background: "#14120A"},
	}},
	{min: 10 * minute, info: Info{
		Phase:       Imminent,
		Name:        "Imminent",
		Description: "Less than an hour to go.",
		Theme:       Theme{Primary: "#F08A4B", Accent: "#FFD0A8", Background: "#1A0F08"},
	}},
	{min: minute, info: Info{
		Phase:        Final,
		Name:         "Final Minutes",
		Description:  "Signal lock acquired.",
		InvertDigits: true,
		Theme:        Theme{Primary: "#FF4F4F", Accent: "#FFB3B3", Background: "#1C0707"},
	}},
	{min: 0, info: Info{
		Phase:        Breach,
		Name:         "Breach",
		Description:  "The seal is breaking.",
		PauseAmbient: true,
		InvertDigits: true,
		Theme:        Theme{Primary: "#FFFFFF", Accent: "#FF2D2D", Background: "#000000"},
	}},
}

var configErrorInfo = Info{
	Phase:        ConfigError,
	Name:         "Configuration Error",
	Description:  "Invalid configuration",
	PauseAmbient: true,
	Theme:        Theme{Primary: "#FF3B3B", Accent: "#FFB000", Background: "#120000"},
}

// Classify maps a remaining-seconds value to its phase.
// Negative input is classified by magnitude; NaN falls into the last phase.
func Classify(remainingSeconds float64) Info {
	v := math.Abs(remainingSeconds)
	for _, th := range table {
		if v >= th.min {
			return th.info
		}
	}
	return table[len(table)-1].info
}

// ConfigErrorInfo returns the metadata used while the configuration is invalid.
func ConfigErrorInfo() Info { return configErrorInfo }

// All returns every phase Classify can produce, from farthest to closest.
func All() []Info {
	out := make([]Info, 0, len(table))
	for _, th := range table {
		out = append(out, th.info)
	}
	return out
}
