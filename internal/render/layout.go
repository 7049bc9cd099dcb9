package render

import (
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
)

// wrapText breaks text into lines no wider than maxWidth. Newlines are kept
// and runs of spaces collapse. gg only breaks on spaces, so a word wider than
// a line is split further by rune.
func wrapText(dc *gg.Context, face font.Face, text string, maxWidth float64) []string {
	dc.SetFontFace(face)
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var lines []string
	for _, para := range strings.Split(text, "\n") {
		para = strings.Join(strings.Fields(para), " ")
		if para == "" {
			lines = append(lines, "")
			continue
		}
		for _, line := range dc.WordWrap(para, maxWidth) {
			lines = append(lines, breakWord(dc, line, maxWidth)...)
		}
	}

	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func breakWord(dc *gg.Context, line string, maxWidth float64) []string {
	if w, _ := dc.MeasureString(line); w <= maxWidth {
		return []string{line}
	}
	var parts []string
	runes := []rune(line)
	for len(runes) > 0 {
		n := 1
		for n < len(runes) {
			if w, _ := dc.MeasureString(string(runes[:n+1])); w > maxWidth {
				break
			}
			n++
		}
		parts = append(parts, string(runes[:n]))
		runes = runes[n:]
	}
	return parts
}

// fitLine keeps the first wrapped line of s and marks the cut with "...".
func fitLine(dc *gg.Context, face font.Face, s string, maxWidth float64) string {
	dc.SetFontFace(face)
	if w, _ := dc.MeasureString(s); w <= maxWidth && !strings.Contains(s, "\n") {
		return s
	}
	ellipsis, _ := dc.MeasureString("...")
	lines := wrapText(dc, face, s, max(maxWidth-ellipsis, 1))
	if len(lines) == 0 {
		return "..."
	}
	return strings.TrimRight(lines[0], " ") + "..."
}
