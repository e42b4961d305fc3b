package predictor

import (
	"fmt"
	"math"

	"github.com/Brownie44l1/deblur/internal/imageio"
	"gorgonia.org/tensor"
)

type batch struct {
	image  *tensor.Dense
	mask   *tensor.Dense
	height int
	width  int
}

// PaddedSize returns the padded extent for n. It always adds at least one
// row or column, so an extent that is already a multiple of block grows by
// a full block.
func PaddedSize(n, block int) int {
	return (n/block + 1) * block
}

// Normalize maps an intensity to [-1, 1] with mean 0.5 and std 0.5.
func Normalize(v uint8) float32 {
	return (float32(v)/255 - 0.5) / 0.5
}

// Denormalize maps a network output in [-1, 1] back to an intensity.
// Values outside the range saturate.
func Denormalize(x float32) uint8 {
	v := (x + 1) / 2 * 255
	switch {
	case math.IsNaN(float64(v)), v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}

// BinarizeMask rounds v/255 to 0 or 1.
func BinarizeMask(v uint8) float32 {
	return float32(math.Round(float64(v) / 255))
}

func (p *Predictor) preprocess(img, mask *imageio.Array) (*batch, error) {
	if img == nil || len(img.Pix) == 0 {
		return nil, fmt.Errorf("image is empty")
	}
	if len(img.Pix) != img.Height*img.Width*img.Channels {
		return nil, fmt.Errorf("image buffer holds %d values, want %dx%dx%d",
			len(img.Pix), img.Height, img.Width, img.Channels)
	}
	if mask != nil {
		if mask.Height != img.Height || mask.Width != img.Width {
			return nil, fmt.Errorf("mask is %dx%d, image is %dx%d",
				mask.Width, mask.Height, img.Width, img.Height)
		}
		if mask.Channels != 1 && mask.Channels != img.Channels {
			return nil, fmt.Errorf("mask has %d channels, image has %d", mask.Channels, img.Channels)
		}
	}

	h, w, c := img.Height, img.Width, img.Channels
	ph, pw := PaddedSize(h, p.opts.BlockSize), PaddedSize(w, p.opts.BlockSize)

	imgData := make([]float32, c*ph*pw)
	maskData := make([]float32, c*ph*pw)
	plane := ph * pw

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pixelIndex := y*pw + x
			for ch := 0; ch < c; ch++ {
				imgData[ch*plane+pixelIndex] = Normalize(img.At(y, x, ch))

				m := float32(1)
				if mask != nil {
					mc := ch
					if mask.Channels == 1 {
						mc = 0
					}
					m = BinarizeMask(mask.At(y, x, mc))
				}
				maskData[ch*plane+pixelIndex] = m
			}
		}
	}

	return &batch{
		image:  tensor.New(tensor.WithShape(1, c, ph, pw), tensor.WithBacking(imgData)),
		mask:   tensor.New(tensor.WithShape(1, c, ph, pw), tensor.WithBacking(maskData)),
		height: h,
		width:  w,
	}, nil
}

// postprocess turns a (1, C, H', W') prediction into a channel-last image
// cropped to height x width.
func postprocess(pred *tensor.Dense, height, width int) (*imageio.Array, error) {
	shape := pred.Shape()
	if len(shape) != 4 || shape[0] != 1 {
		return nil, fmt.Errorf("prediction has shape %v, want (1, C, H, W)", shape)
	}
	c, ph, pw := shape[1], shape[2], shape[3]
	if ph < height || pw < width {
		return nil, fmt.Errorf("prediction %dx%d is smaller than image %dx%d", pw, ph, width, height)
	}
	data, ok := pred.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("prediction is %v, want float32", pred.Dtype())
	}

	out := imageio.NewArray(height, width, c)
	plane := ph * pw
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			for ch := 0; ch < c; ch++ {
				out.Set(y, x, ch, Denormalize(data[ch*plane+y*pw+x]))
			}
		}
	}
	return out, nil
}
