package plot

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/ctslater/mops-daymops/internal/detection"
	"github.com/ctslater/mops-daymops/internal/tracklet"
)

// maxHTMLSeries caps the tracklets drawn individually on the HTML page;
// the rest only contribute to the length histogram.
const maxHTMLSeries = 500

// WriteSkyHTML renders an interactive page with a sky scatter of the
// detections, one series per tracklet (up to maxHTMLSeries) and a
// histogram of tracklet lengths.
func WriteSkyHTML(w io.Writer, store *detection.Store, s tracklet.Set, title string) error {
	if err := s.Validate(store.Len()); err != nil {
		return err
	}

	dets := store.All()
	raRef := 0.0
	if len(dets) > 0 {
		raRef = dets[0].RA
	}

	sky := charts.NewScatter()
	sky.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "800px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("detections=%d tracklets=%d", len(dets), len(s))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)

	all := make([]opts.ScatterData, len(dets))
	var b bounds
	for k, d := range dets {
		p := skyPoint(d, raRef)
		b.add(p.X, p.Y)
		all[k] = opts.ScatterData{Value: []interface{}{p.X, p.Y, d.ID}}
	}
	if len(dets) > 0 {
		pad := max(b.maxX-b.minX, b.maxY-b.minY, 1e-3) * 0.05
		sky.SetGlobalOptions(
			charts.WithXAxisOpts(opts.XAxis{Min: b.minX - pad, Max: b.maxX + pad, Name: "RA (deg)", NameLocation: "middle", NameGap: 25}),
			charts.WithYAxisOpts(opts.YAxis{Min: b.minY - pad, Max: b.maxY + pad, Name: "Dec (deg)", NameLocation: "middle", NameGap: 30}),
		)
	}
	sky.AddSeries("detections", all,
		charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: "#a0a0a0"}),
	)

	n := min(len(s), maxHTMLSeries)
	colors := palette(n)
	for k := 0; k < n; k++ {
		tdets := s[k].Detections(store)
		sortByEpoch(tdets)
		data := make([]opts.ScatterData, len(tdets))
		for i, d := range tdets {
			p := skyPoint(d, raRef)
			data[i] = opts.ScatterData{Value: []interface{}{p.X, p.Y, d.ID}}
		}
		sky.AddSeries(s[k].String(), data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: hexColor(colors[k])}),
		)
	}

	page := components.NewPage()
	page.AddCharts(sky, lengthHistogram(s))
	return page.Render(w)
}

func lengthHistogram(s tracklet.Set) *charts.Bar {
	counts := make(map[int]int)
	for _, t := range s {
		counts[t.Len()]++
	}
	lens := make([]int, 0, len(counts))
	for l := range counts {
		lens = append(lens, l)
	}
	sort.Ints(lens)

	x := make([]string, len(lens))
	y := make([]opts.BarData, len(lens))
	for k, l := range lens {
		x[k] = strconv.Itoa(l)
		y[k] = opts.BarData{Value: counts[l]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Detections per tracklet"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).AddSeries("tracklets", y,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)
	return bar
}

type bounds struct {
	minX, maxX, minY, maxY float64
	n                      int
}

func (b *bounds) add(x, y float64) {
	if b.n == 0 {
		b.minX, b.maxX, b.minY, b.maxY = x, x, y, y
	} else {
		b.minX, b.maxX = min(b.minX, x), max(b.maxX, x)
		b.minY, b.maxY = min(b.minY, y), max(b.maxY, y)
	}
	b.n++
}
