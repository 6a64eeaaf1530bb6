// Package chart renders dashboard charts as standalone SVG documents.
package chart

import (
	"fmt"
	"html/template"
	"math"
	"strings"

	"github.com/grc-saas/grc/internal/scoring"
)

// Defaults for dashboard charts.
const (
	DefaultWidth   = 420
	DefaultHeight  = 420
	DefaultPadding = 40.0
)

// LevelColors maps risk levels to cell and bar fills.
var LevelColors = map[scoring.Level]string{
	scoring.LevelLow:      "#22c55e",
	scoring.LevelMedium:   "#eab308",
	scoring.LevelHigh:     "#f97316",
	scoring.LevelCritical: "#dc2626",
}

// Opts customises a chart.
type Opts struct {
	Title       string
	Description string
	AxisColor   string
	Padding     float64
}

// Matrix counts risks by likelihood (row) and impact (column), both 1-based
// ratings stored at index rating-1.
type Matrix [scoring.MaxRating][scoring.MaxRating]int

// Add counts one assessment. Out-of-range ratings are ignored.
func (m *Matrix) Add(likelihood, impact int) {
	if likelihood < scoring.MinRating || likelihood > scoring.MaxRating || impact < scoring.MinRating || impact > scoring.MaxRating {
		return
	}
	m[likelihood-1][impact-1]++
}

// Total returns the number of counted risks.
func (m Matrix) Total() int {
	n := 0
	for _, row := range m {
		for _, v := range row {
			n += v
		}
	}
	return n
}

// Heatmap renders the likelihood x impact grid. Cells are coloured by the
// level of their score; likelihood grows upwards.
func Heatmap(width, height int, m Matrix, opts Opts) (string, error) {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	padding := opts.Padding
	if padding <= 0 {
		padding = DefaultPadding
	}
	gridW := float64(width) - 2*padding
	gridH := float64(height) - 2*padding
	if gridW <= 0 || gridH <= 0 {
		return "", fmt.Errorf("chart: viewport too small")
	}
	axisColor := fallback(opts.AxisColor, "#475569")
	cellW := gridW / scoring.MaxRating
	cellH := gridH / scoring.MaxRating

	var b strings.Builder
	writeHeader(&b, width, height, opts, "Risk heatmap", "Risks by likelihood and impact")

	for l := scoring.MinRating; l <= scoring.MaxRating; l++ {
		y := padding + float64(scoring.MaxRating-l)*cellH
		for i := scoring.MinRating; i <= scoring.MaxRating; i++ {
			x := padding + float64(i-1)*cellW
			level := scoring.RiskLevel(scoring.RiskScore(l, i))
			count := m[l-1][i-1]
			opacity := 0.35
			if count > 0 {
				opacity = 1
			}
			fmt.Fprintf(&b, `<rect x="%.2f" y="%.2f" width="%.2f" height="%.2f" fill="%s" fill-opacity="%.2f" stroke="#ffffff" stroke-width="2" data-likelihood="%d" data-impact="%d" data-level="%s"></rect>`,
				x, y, cellW, cellH, LevelColors[level], opacity, l, i, level)
			if count > 0 {
				fmt.Fprintf(&b, `<text x="%.2f" y="%.2f" fill="#111827" font-size="14" text-anchor="middle" dominant-baseline="middle">%d</text>`,
					x+cellW/2, y+cellH/2, count)
			}
		}
		fmt.Fprintf(&b, `<text x="%.2f" y="%.2f" fill="%s" font-size="10" text-anchor="end">%d</text>`, padding-6, y+cellH/2+4, axisColor, l)
	}
	for i := scoring.MinRating; i <= scoring.MaxRating; i++ {
		fmt.Fprintf(&b, `<text x="%.2f" y="%.2f" fill="%s" font-size="10" text-anchor="middle">%d</text>`,
			padding+(float64(i)-0.5)*cellW, padding+gridH+14, axisColor, i)
	}
	fmt.Fprintf(&b, `<text x="%.2f" y="%.2f" fill="%s" font-size="11" text-anchor="middle">Impact</text>`, padding+gridW/2, float64(height)-8, axisColor)
	fmt.Fprintf(&b, `<text x="12" y="%.2f" fill="%s" font-size="11" text-anchor="middle" transform="rotate(-90 12 %.2f)">Likelihood</text>`, padding+gridH/2, axisColor, padding+gridH/2)
	b.WriteString("</svg>")
	return b.String(), nil
}

// LevelBars renders one bar per risk level in ascending severity.
func LevelBars(width, height int, counts map[scoring.Level]int, opts Opts) (string, error) {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight / 2
	}
	padding := opts.Padding
	if padding <= 0 {
		padding = DefaultPadding
	}
	chartW := float64(width) - 2*padding
	chartH := float64(height) - 2*padding
	if chartW <= 0 || chartH <= 0 {
		return "", fmt.Errorf("chart: viewport too small")
	}
	axisColor := fallback(opts.AxisColor, "#475569")
	levels := []scoring.Level{scoring.LevelLow, scoring.LevelMedium, scoring.LevelHigh, scoring.LevelCritical}

	maxVal := 0
	for _, lvl := range levels {
		if counts[lvl] > maxVal {
			maxVal = counts[lvl]
		}
	}
	scale := 0.0
	if maxVal > 0 {
		scale = chartH / float64(maxVal)
	}
	groupW := chartW / float64(len(levels))
	barW := groupW * 0.6
	bottom := padding + chartH

	var b strings.Builder
	writeHeader(&b, width, height, opts, "Risk levels", "Risks per level")
	fmt.Fprintf(&b, `<line x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f" stroke="%s" stroke-width="1"></line>`, padding, bottom, padding+chartW, bottom, axisColor)
	for i, lvl := range levels {
		h := math.Max(0, float64(counts[lvl])*scale)
		x := padding + float64(i)*groupW + (groupW-barW)/2
		fmt.Fprintf(&b, `<rect x="%.2f" y="%.2f" width="%.2f" height="%.2f" fill="%s" aria-label="%s"></rect>`,
			x, bottom-h, barW, h, LevelColors[lvl], template.HTMLEscapeString(string(lvl)))
		fmt.Fprintf(&b, `<text x="%.2f" y="%.2f" fill="%s" font-size="10" text-anchor="middle">%d</text>`, x+barW/2, bottom-h-4, axisColor, counts[lvl])
		fmt.Fprintf(&b, `<text x="%.2f" y="%.2f" fill="%s" font-size="10" text-anchor="middle">%s</text>`, x+barW/2, bottom+14, axisColor, template.HTMLEscapeString(string(lvl)))
	}
	b.WriteString("</svg>")
	return b.String(), nil
}

func writeHeader(b *strings.Builder, width, height int, opts Opts, title, desc string) {
	titleID := makeID(fallback(opts.Title, title), "title")
	descID := makeID(fallback(opts.Title, title), "desc")
	fmt.Fprintf(b, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" role="img" aria-labelledby="%s %s">`, width, height, titleID, descID)
	fmt.Fprintf(b, `<title id="%s">%s</title>`, titleID, template.HTMLEscapeString(fallback(opts.Title, title)))
	fmt.Fprintf(b, `<desc id="%s">%s</desc>`, descID, template.HTMLEscapeString(fallback(opts.Description, desc)))
}

func fallback(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func makeID(base, suffix string) string {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, strings.ToLower(strings.TrimSpace(base)))
	cleaned = strings.Trim(cleaned, "-")
	if cleaned == "" {
		cleaned = "chart"
	}
	return cleaned + "-" + suffix
}
