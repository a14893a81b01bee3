package pass

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

var labels = func() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for _, entry := range []struct {
		tag      language.Tag
		key, msg string
	}{
		{language.French, "Points", "Points"},
		{language.French, "Stamps", "Tampons"},
		{language.French, "Member", "Membre"},
		{language.French, "Information", "Informations"},
		{language.Spanish, "Points", "Puntos"},
		{language.Spanish, "Stamps", "Sellos"},
		{language.Spanish, "Member", "Socio"},
		{language.Spanish, "Information", "Información"},
	} {
		_ = b.SetString(entry.tag, entry.key, entry.msg)
	}
	return b
}()

func printerFor(locale string) *message.Printer {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return message.NewPrinter(tag, message.Catalog(labels))
}

// FormatPoints renders a balance with the locale's digit grouping.
func FormatPoints(locale string, points int64) string {
	return printerFor(locale).Sprintf("%d", points)
}

// FormatStamps renders "n / goal", clamping n to the goal.
func FormatStamps(stamps, goal int64) string {
	if goal > 0 && stamps > goal {
		stamps = goal
	}
	return fmt.Sprintf("%d / %d", stamps, goal)
}

func label(locale, key string) string {
	return printerFor(locale).Sprintf(key)
}

// rgb converts "#RRGGBB" to the "rgb(r, g, b)" form wallets expect.
func rgb(hex string) (string, bool) {
	r, g, b, ok := parseHex(hex)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("rgb(%d, %d, %d)", r, g, b), true
}

func parseHex(hex string) (uint8, uint8, uint8, bool) {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), true
}
