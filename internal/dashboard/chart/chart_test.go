package chart

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grc-saas/grc/internal/scoring"
)

func TestHeatmapColoursCellsByLevel(t *testing.T) {
	var m Matrix
	m.Add(5, 5)
	m.Add(5, 5)
	m.Add(1, 2)
	m.Add(0, 3)
	m.Add(6, 1)
	assert.Equal(t, 3, m.Total())

	out, err := Heatmap(0, 0, m, Opts{Title: "Risk <heatmap>"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "<svg"))
	assert.True(t, strings.HasSuffix(out, "</svg>"))
	assert.Equal(t, 25, strings.Count(out, "<rect"))
	assert.Contains(t, out, "Risk &lt;heatmap&gt;")
	assert.Contains(t, out, `data-likelihood="5" data-impact="5" data-level="critical"`)
	assert.Contains(t, out, `data-likelihood="1" data-impact="2" data-level="low"`)
	assert.Contains(t, out, `data-likelihood="3" data-impact="4" data-level="high"`)
	assert.Contains(t, out, ">2</text>")
}

func TestHeatmapRejectsTinyViewport(t *testing.T) {
	_, err := Heatmap(40, 40, Matrix{}, Opts{Padding: 30})
	assert.Error(t, err)
}

func TestLevelBars(t *testing.T) {
	out, err := LevelBars(0, 0, map[scoring.Level]int{scoring.LevelLow: 4, scoring.LevelCritical: 1}, Opts{})
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(out, "<rect"))
	assert.Contains(t, out, `aria-label="critical"`)
	assert.Contains(t, out, LevelColors[scoring.LevelHigh])

	empty, err := LevelBars(0, 0, nil, Opts{})
	require.NoError(t, err)
	assert.Contains(t, empty, `height="0.00"`)
}
