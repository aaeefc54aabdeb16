package collapse

import (
	"math"

	"github.com/ctslater/mops-daymops/internal/tracklet"
)

// minCellSize bounds the grid resolution so zigzag-encoded cell numbers
// stay small enough for the pairing function to fit in an int64.
const minCellSize = 1e-6

// grid indexes fitted motions by their (RA, Dec) position at the normal
// epoch. Cells are at least as large as the RA and Dec tolerances, so every
// compatible pair lies in the same or an adjacent cell. RA cells tile
// [0, 360) exactly and wrap at zero.
type grid struct {
	raCells   int64
	raWidth   float64
	decHeight float64
	cells     map[int64][]int // Cell ID → node indices
}

func newGrid(tolRA, tolDec float64, sizeHint int) *grid {
	n := int64(math.Floor(360.0 / math.Max(tolRA, minCellSize)))
	if n < 1 {
		n = 1
	}
	return &grid{
		raCells:   n,
		raWidth:   360.0 / float64(n),
		decHeight: math.Max(tolDec, minCellSize),
		cells:     make(map[int64][]int, sizeHint),
	}
}

func (g *grid) cellOf(ra, dec float64) (int64, int64) {
	rc := int64(math.Floor(tracklet.NormalizeRA(ra) / g.raWidth))
	if rc >= g.raCells {
		rc = g.raCells - 1
	}
	return rc, int64(math.Floor(dec / g.decHeight))
}

func (g *grid) insert(node int, m tracklet.Motion) {
	id := cellID(g.cellOf(m.RA, m.Dec))
	g.cells[id] = append(g.cells[id], node)
}

// neighbours returns the nodes in the 3x3 block of cells around m.
func (g *grid) neighbours(m tracklet.Motion) []int {
	rc, dc := g.cellOf(m.RA, m.Dec)

	var raCols []int64
	if g.raCells <= 3 {
		for c := int64(0); c < g.raCells; c++ {
			raCols = append(raCols, c)
		}
	} else {
		raCols = []int64{(rc - 1 + g.raCells) % g.raCells, rc, (rc + 1) % g.raCells}
	}

	var out []int
	for _, c := range raCols {
		for dy := int64(-1); dy <= 1; dy++ {
			out = append(out, g.cells[cellID(c, dc+dy)]...)
		}
	}
	return out
}

// cellID combines two cell coordinates into one key using zigzag encoding
// followed by Szudzik's pairing function.
func cellID(x, y int64) int64 {
	var a, b int64
	if x >= 0 {
		a = 2 * x
	} else {
		a = -2*x - 1
	}
	if y >= 0 {
		b = 2 * y
	} else {
		b = -2*y - 1
	}

	if a >= b {
		return a*a + a + b
	}
	return a + b*b
}
