package collapse

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ctslater/mops-daymops/internal/tracklet"
)

func TestCellID_Unique(t *testing.T) {
	seen := make(map[int64][2]int64)
	for x := int64(-20); x <= 20; x++ {
		for y := int64(-20); y <= 20; y++ {
			id := cellID(x, y)
			if prev, ok := seen[id]; ok {
				t.Fatalf("cellID(%d, %d) collides with %v", x, y, prev)
			}
			seen[id] = [2]int64{x, y}
		}
	}
}

func TestGrid_NeighboursWrapRA(t *testing.T) {
	g := newGrid(0.5, 0.5, 4)
	g.insert(0, tracklet.Motion{RA: 359.9, Dec: 10})
	g.insert(1, tracklet.Motion{RA: 0.1, Dec: 10.2})
	g.insert(2, tracklet.Motion{RA: 180, Dec: 10})
	g.insert(3, tracklet.Motion{RA: 0.1, Dec: -10})

	assert.ElementsMatch(t, []int{0, 1}, g.neighbours(tracklet.Motion{RA: 0.0, Dec: 10}))
	assert.ElementsMatch(t, []int{2}, g.neighbours(tracklet.Motion{RA: 180.2, Dec: 9.7}))
}

func TestGrid_WideToleranceVisitsEachCellOnce(t *testing.T) {
	g := newGrid(200, 1, 2)
	assert.Equal(t, int64(1), g.raCells)

	g.insert(0, tracklet.Motion{RA: 10, Dec: 0})
	g.insert(1, tracklet.Motion{RA: 300, Dec: 0})
	assert.Equal(t, []int{0, 1}, g.neighbours(tracklet.Motion{RA: 100, Dec: 0}))
}

func TestGrid_ZeroToleranceStillIndexes(t *testing.T) {
	g := newGrid(0, 0, 1)
	m := tracklet.Motion{RA: 359.9999999, Dec: -89.9999999}
	g.insert(7, m)
	assert.Equal(t, []int{7}, g.neighbours(m))
}
