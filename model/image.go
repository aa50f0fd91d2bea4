package model

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"nano-chat-go/engine"
)

// DefaultImageSize is the side length vision models are fed with
const DefaultImageSize = 224

// LoadImage decodes an uploaded image file and preprocesses it into the
// CHW float32 tensor shape vision models expect: resized square, values
// scaled to [0, 1] and normalized around 0.5.
func LoadImage(path string, size int) (*engine.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	if size <= 0 {
		size = DefaultImageSize
	}

	bounds := src.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, fmt.Errorf("image has empty bounds")
	}

	data := make([]float32, 3*size*size)
	plane := size * size

	// Nearest-neighbor resize; models this size are not sensitive to the
	// resampling kernel.
	for y := 0; y < size; y++ {
		sy := bounds.Min.Y + y*srcH/size
		for x := 0; x < size; x++ {
			sx := bounds.Min.X + x*srcW/size
			r, g, b, _ := src.At(sx, sy).RGBA()

			idx := y*size + x
			data[idx] = normalizeChannel(r)
			data[plane+idx] = normalizeChannel(g)
			data[2*plane+idx] = normalizeChannel(b)
		}
	}

	return &engine.Image{
		Data:  data,
		Shape: []int64{1, 3, int64(size), int64(size)},
	}, nil
}

func normalizeChannel(v uint32) float32 {
	// RGBA returns 16-bit channels; scale to [0,1] then center on 0.5
	return (float32(v)/65535.0 - 0.5) / 0.5
}
