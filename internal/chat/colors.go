package chat

import (
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var userPalette = []lipgloss.Color{
	lipgloss.Color("111"),
	lipgloss.Color("157"),
	lipgloss.Color("216"),
	lipgloss.Color("36"),
	lipgloss.Color("183"),
	lipgloss.Color("230"),
}

var (
	textColor      = lipgloss.Color("252")
	blurText       = lipgloss.Color("245")
	metaColor      = lipgloss.Color("242")
	statusColor    = lipgloss.Color("244")
	noticeColor    = lipgloss.Color("203")
	reactionColor  = lipgloss.Color("220")
	highlightColor = lipgloss.Color("214")
	threadColor    = lipgloss.Color("75")
	caretColor     = lipgloss.Color("39")
	inputBg        = lipgloss.Color("235")
	pillBg         = lipgloss.Color("236")
)

// colorForUser picks a stable palette color from the user id.
func colorForUser(userID string) lipgloss.Color {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return userPalette[int(h.Sum32()%uint32(len(userPalette)))]
}

func contrastTextColor(color lipgloss.Color) lipgloss.Color {
	code, ok := parseColorCode(color)
	if !ok {
		return lipgloss.Color("231")
	}
	r, g, b := colorCodeToRGB(code)
	luminance := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
	if luminance > 128 {
		return lipgloss.Color("16")
	}
	return lipgloss.Color("231")
}

func parseColorCode(color lipgloss.Color) (int, bool) {
	trimmed := strings.TrimSpace(string(color))
	if trimmed == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

// colorCodeToRGB maps an xterm 256 color code to its approximate RGB value.
func colorCodeToRGB(code int) (int, int, int) {
	switch {
	case code < 16:
		standard := [16][3]int{
			{0, 0, 0}, {128, 0, 0}, {0, 128, 0}, {128, 128, 0},
			{0, 0, 128}, {128, 0, 128}, {0, 128, 128}, {192, 192, 192},
			{128, 128, 128}, {255, 0, 0}, {0, 255, 0}, {255, 255, 0},
			{0, 0, 255}, {255, 0, 255}, {0, 255, 255}, {255, 255, 255},
		}
		values := standard[code]
		return values[0], values[1], values[2]
	case code <= 231:
		index := code - 16
		level := func(value int) int {
			if value == 0 {
				return 0
			}
			return 55 + value*40
		}
		return level(index / 36), level((index % 36) / 6), level(index % 6)
	case code <= 255:
		gray := 8 + (code-232)*10
		return gray, gray, gray
	}
	return 128, 128, 128
}
