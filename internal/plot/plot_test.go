package plot

import (
	"bytes"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctslater/mops-daymops/internal/detection"
	"github.com/ctslater/mops-daymops/internal/testutil"
	"github.com/ctslater/mops-daymops/internal/tracklet"
)

func crossing() (*detection.Store, tracklet.Set) {
	epochs := []float64{53736, 53736.01, 53736.02}
	// The first object crosses RA 0 between its second and third sightings.
	a := testutil.Linear(1, 359.995, 0, 0.5, 0.2, 53736, epochs...)
	b := testutil.Linear(100, 0.5, 1, -0.3, 0.1, 53736, epochs...)
	store := testutil.Store(append(a, b...)...)
	return store, tracklet.Set{tracklet.New(0, 1, 2), tracklet.New(3, 4, 5)}
}

func TestSky_UnwrapsRA(t *testing.T) {
	store, _ := crossing()
	ref := store.At(0).RA
	p := skyPoint(store.At(2), ref)
	assert.Greater(t, p.X, 360.0)
	assert.InDelta(t, 360.005, p.X, 1e-9)
}

func TestWriteSkyPNG(t *testing.T) {
	store, set := crossing()
	var buf bytes.Buffer
	require.NoError(t, WriteSkyPNG(&buf, store, set, "night 53736"))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())
}

func TestSaveSkyPNG(t *testing.T) {
	store, set := crossing()
	path := filepath.Join(t.TempDir(), "sky.png")
	require.NoError(t, SaveSkyPNG(path, store, set, "night"))
}

func TestSky_InvalidIndex(t *testing.T) {
	store, _ := crossing()
	_, err := Sky(store, tracklet.Set{tracklet.New(0, 99)}, "bad")
	assert.ErrorIs(t, err, tracklet.ErrInvalidIndex)
}

func TestSky_Empty(t *testing.T) {
	p, err := Sky(detection.NewStore(0), nil, "empty")
	require.NoError(t, err)
	assert.Equal(t, "empty", p.Title.Text)
}

func TestWriteSkyHTML(t *testing.T) {
	store, set := crossing()
	var buf bytes.Buffer
	require.NoError(t, WriteSkyHTML(&buf, store, set, "night 53736"))

	html := buf.String()
	assert.True(t, strings.Contains(html, "echarts"))
	assert.True(t, strings.Contains(html, "night 53736"))
	assert.True(t, strings.Contains(html, "Detections per tracklet"))
	assert.True(t, strings.Contains(html, "[0 1 2]"))
}

func TestPalette(t *testing.T) {
	assert.Nil(t, palette(0))
	cs := palette(3)
	require.Len(t, cs, 3)
	assert.NotEqual(t, cs[0], cs[1])
	assert.Equal(t, "#ff0000", hexColor(color.RGBA{R: 255, A: 255}))
	assert.Equal(t, "#0a0b0c", hexColor(color.RGBA{R: 10, G: 11, B: 12, A: 255}))
}
