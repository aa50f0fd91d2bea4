package model

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestPNG(t *testing.T, w, h int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 128, A: 255})
		}
	}

	path := filepath.Join(t.TempDir(), "test.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))

	return path
}

func TestLoadImage(t *testing.T) {
	path := writeTestPNG(t, 64, 48)

	img, err := LoadImage(path, 32)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3, 32, 32}, img.Shape)
	assert.Len(t, img.Data, 3*32*32)

	plane := 32 * 32
	// Red channel saturated -> normalized 1; green empty -> -1
	assert.InDelta(t, 1.0, float64(img.Data[0]), 0.01)
	assert.InDelta(t, -1.0, float64(img.Data[plane]), 0.01)

	for _, v := range img.Data {
		assert.GreaterOrEqual(t, float64(v), -1.0-1e-3)
		assert.LessOrEqual(t, float64(v), 1.0+1e-3)
	}
}

func TestLoadImageMissingFile(t *testing.T) {
	_, err := LoadImage(filepath.Join(t.TempDir(), "nope.png"), 32)
	assert.Error(t, err)
}

func TestLoadImageDefaultSize(t *testing.T) {
	path := writeTestPNG(t, 16, 16)

	img, err := LoadImage(path, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, DefaultImageSize, DefaultImageSize}, img.Shape)
}
