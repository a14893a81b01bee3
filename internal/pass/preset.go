package pass

import "strings"

// Preset is a closed set of card styles. The zero value is PresetClassic.
type Preset int

const (
	PresetClassic Preset = iota
	PresetCafe
	PresetBakery
	PresetBeauty
	PresetRetail
)

// Palette holds the three pass colors as "#RRGGBB".
type Palette struct {
	Background string
	Foreground string
	Label      string
}

var presetNames = map[Preset]string{
	PresetClassic: "classic",
	PresetCafe:    "cafe",
	PresetBakery:  "bakery",
	PresetBeauty:  "beauty",
	PresetRetail:  "retail",
}

var presetPalettes = map[Preset]Palette{
	PresetClassic: {Background: "#1F2937", Foreground: "#FFFFFF", Label: "#9CA3AF"},
	PresetCafe:    {Background: "#4B2E2A", Foreground: "#FFF8F0", Label: "#D4A373"},
	PresetBakery:  {Background: "#F4E1C1", Foreground: "#3B2F2F", Label: "#8B5E3C"},
	PresetBeauty:  {Background: "#F9D5E5", Foreground: "#3D1E3F", Label: "#9B4F96"},
	PresetRetail:  {Background: "#0F4C81", Foreground: "#FFFFFF", Label: "#A7C7E7"},
}

// ParsePreset maps a stored preset name to a Preset. Unknown or empty names
// yield PresetClassic.
func ParsePreset(name string) Preset {
	name = strings.ToLower(strings.TrimSpace(name))
	for p, n := range presetNames {
		if n == name {
			return p
		}
	}
	return PresetClassic
}

func (p Preset) String() string {
	if n, ok := presetNames[p]; ok {
		return n
	}
	return presetNames[PresetClassic]
}

// Palette returns the default colors of the preset.
func (p Preset) Palette() Palette {
	if pal, ok := presetPalettes[p]; ok {
		return pal
	}
	return presetPalettes[PresetClassic]
}
