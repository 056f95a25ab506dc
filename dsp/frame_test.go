package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPlanSubframes(t *testing.T) {
	t.Run("even split", func(t *testing.T) {
		plan := PlanSubframes(10000, 2000, 25.6, 100)
		require.Len(t, plan, 5)
		for k, win := range plan {
			assert.Equal(t, k, win.Index)
			assert.Equal(t, 100+intRound(float64(k)*2000*25.6), win.Start)
			assert.Equal(t, 2000, win.Symbols)
			assert.Equal(t, 2000*k, win.SymbolOffset)
		}
		assert.Equal(t, 100+256000, plan[4].End)
	})

	t.Run("ragged tail", func(t *testing.T) {
		plan := PlanSubframes(10, 3, 4, 0)
		require.Len(t, plan, 4)
		assert.Equal(t, []int{3, 3, 3, 1}, symbolCounts(plan))
		assert.Equal(t, 36, plan[3].Start)
		assert.Equal(t, 40, plan[3].End)
	})

	t.Run("zero size means whole frame", func(t *testing.T) {
		plan := PlanSubframes(500, 0, 4, 7)
		require.Len(t, plan, 1)
		assert.Equal(t, 500, plan[0].Symbols)
		assert.Equal(t, 7, plan[0].Start)
		assert.Equal(t, 7+2000, plan[0].End)
	})

	t.Run("oversized subframe", func(t *testing.T) {
		plan := PlanSubframes(500, 9999, 4, 0)
		require.Len(t, plan, 1)
		assert.Equal(t, 500, plan[0].Symbols)
	})
}

func TestPlanSubframesProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(1, 5000).Draw(t, "total")
		size := rapid.IntRange(0, total+10).Draw(t, "size")
		sps := rapid.Float64Range(1, 64).Draw(t, "sps")
		origin := rapid.IntRange(0, 10000).Draw(t, "origin")

		plan := PlanSubframes(total, size, sps, origin)
		if len(plan) == 0 {
			t.Fatalf("no windows planned")
		}

		covered := 0
		for k, win := range plan {
			if win.Index != k {
				t.Fatalf("window %d carries index %d", k, win.Index)
			}
			if win.Symbols < 1 {
				t.Fatalf("window %d covers no symbols", k)
			}
			if win.End <= win.Start {
				t.Fatalf("window %d is empty: [%d, %d)", k, win.Start, win.End)
			}
			if win.SymbolOffset != covered {
				t.Fatalf("window %d starts at symbol %d, want %d", k, win.SymbolOffset, covered)
			}
			covered += win.Symbols
		}
		if covered != total {
			t.Fatalf("windows cover %d symbols, want %d", covered, total)
		}

		// Boundaries are all derived from the origin, so adjacent
		// windows share them exactly.
		if plan[0].Start != origin {
			t.Fatalf("first window starts at %d, want %d", plan[0].Start, origin)
		}
		for k := 1; k < len(plan); k++ {
			if plan[k].Start != plan[k-1].End {
				t.Fatalf("gap between window %d and %d: %d != %d",
					k-1, k, plan[k-1].End, plan[k].Start)
			}
		}
	})
}

func TestIntRound(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{0.4, 0}, {0.5, 1}, {2.4999, 2}, {-0.4, 0}, {-0.6, -1}, {51200.0000000003, 51200},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, intRound(tt.in), "intRound(%v)", tt.in)
	}
}

func symbolCounts(plan []SubframeWindow) []int {
	out := make([]int, len(plan))
	for i, win := range plan {
		out[i] = win.Symbols
	}
	return out
}
