// Package plot renders debugging views of a linking run: a static PNG of
// the sky with each tracklet drawn as a polyline, and an interactive HTML
// page of the same data.
package plot

import (
	"fmt"
	"image/color"
	"io"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/ctslater/mops-daymops/internal/detection"
	"github.com/ctslater/mops-daymops/internal/tracklet"
)

// Size of the PNG in inches.
const (
	pngWidth  = 10 * vg.Inch
	pngHeight = 8 * vg.Inch
)

// skyPoint returns d's position with RA unwrapped next to raRef so tracks
// crossing RA 0 stay contiguous.
func skyPoint(d detection.Detection, raRef float64) plotter.XY {
	return plotter.XY{X: raRef + tracklet.WrapDelta(d.RA-raRef), Y: d.Dec}
}

// Sky builds the sky plot: every detection as a grey dot and every tracklet
// as a coloured polyline in epoch order.
func Sky(store *detection.Store, s tracklet.Set, title string) (*plot.Plot, error) {
	if err := s.Validate(store.Len()); err != nil {
		return nil, err
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "RA (deg)"
	p.Y.Label.Text = "Dec (deg)"

	dets := store.All()
	if len(dets) == 0 {
		return p, nil
	}
	raRef := dets[0].RA
	pts := make(plotter.XYs, len(dets))
	for k, d := range dets {
		pts[k] = skyPoint(d, raRef)
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return nil, fmt.Errorf("detections: %w", err)
	}
	scatter.GlyphStyle.Color = color.Gray{Y: 160}
	scatter.GlyphStyle.Radius = vg.Points(1)
	p.Add(scatter)

	colors := palette(len(s))
	for k, t := range s {
		tdets := t.Detections(store)
		sortByEpoch(tdets)
		line := make(plotter.XYs, len(tdets))
		for n, d := range tdets {
			line[n] = skyPoint(d, raRef)
		}
		l, err := plotter.NewLine(line)
		if err != nil {
			return nil, fmt.Errorf("tracklet %d: %w", k, err)
		}
		l.LineStyle.Color = colors[k]
		l.LineStyle.Width = vg.Points(1)
		p.Add(l)
	}
	return p, nil
}

// WriteSkyPNG renders Sky as a PNG to w.
func WriteSkyPNG(w io.Writer, store *detection.Store, s tracklet.Set, title string) error {
	p, err := Sky(store, s, title)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(pngWidth, pngHeight, "png")
	if err != nil {
		return fmt.Errorf("render png: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SaveSkyPNG renders Sky to the file at path.
func SaveSkyPNG(path string, store *detection.Store, s tracklet.Set, title string) error {
	p, err := Sky(store, s, title)
	if err != nil {
		return err
	}
	return p.Save(pngWidth, pngHeight, path)
}

func sortByEpoch(dets []detection.Detection) {
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].EpochMJD < dets[j].EpochMJD })
}
