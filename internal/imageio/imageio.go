// Package imageio converts raster files to and from channel-last uint8
// arrays, the layout the predictor works on.
package imageio

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"
)

type ChannelOrder int

const (
	BGR ChannelOrder = iota
	RGB
)

func (o ChannelOrder) String() string {
	if o == RGB {
		return "rgb"
	}
	return "bgr"
}

func ParseChannelOrder(s string) (ChannelOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bgr":
		return BGR, nil
	case "rgb":
		return RGB, nil
	default:
		return BGR, fmt.Errorf("unknown channel order %q (want bgr or rgb)", s)
	}
}

// Array is a Height x Width x Channels block of 8-bit intensities stored
// row-major, channel-last.
type Array struct {
	Height   int
	Width    int
	Channels int
	Pix      []uint8
}

func NewArray(height, width, channels int) *Array {
	return &Array{
		Height:   height,
		Width:    width,
		Channels: channels,
		Pix:      make([]uint8, height*width*channels),
	}
}

func (a *Array) Index(y, x, c int) int {
	return (y*a.Width+x)*a.Channels + c
}

func (a *Array) At(y, x, c int) uint8 {
	return a.Pix[a.Index(y, x, c)]
}

func (a *Array) Set(y, x, c int, v uint8) {
	a.Pix[a.Index(y, x, c)] = v
}

// FromImage copies img into a 3-channel array in the given order.
func FromImage(img image.Image, order ChannelOrder) *Array {
	src := imaging.Clone(img)
	width, height := src.Bounds().Dx(), src.Bounds().Dy()
	arr := NewArray(height, width, 3)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := src.PixOffset(x, y)
			r, g, b := src.Pix[i], src.Pix[i+1], src.Pix[i+2]
			if order == BGR {
				r, b = b, r
			}
			j := arr.Index(y, x, 0)
			arr.Pix[j], arr.Pix[j+1], arr.Pix[j+2] = r, g, b
		}
	}
	return arr
}

// ToImage converts a 3-channel array in the given order back to an image.
func (a *Array) ToImage(order ChannelOrder) (*image.NRGBA, error) {
	if a.Channels != 3 {
		return nil, fmt.Errorf("cannot encode %d-channel array", a.Channels)
	}
	img := image.NewNRGBA(image.Rect(0, 0, a.Width, a.Height))
	for y := 0; y < a.Height; y++ {
		for x := 0; x < a.Width; x++ {
			j := a.Index(y, x, 0)
			r, g, b := a.Pix[j], a.Pix[j+1], a.Pix[j+2]
			if order == BGR {
				r, b = b, r
			}
			i := img.PixOffset(x, y)
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = r, g, b, 0xff
		}
	}
	return img, nil
}

// Load decodes an image file into a 3-channel array.
func Load(path string, order ChannelOrder) (*Array, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return FromImage(img, order), nil
}

// LoadMask decodes a mask file into a single-channel luma array of the given
// size. Masks of another size are resampled with nearest neighbour so that
// binary masks stay binary.
func LoadMask(path string, width, height int) (*Array, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode mask %s: %w", path, err)
	}
	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		log.Warn().
			Str("mask", path).
			Int("mask_width", b.Dx()).
			Int("mask_height", b.Dy()).
			Int("image_width", width).
			Int("image_height", height).
			Msg("Mask size differs from image, resampling")
		img = resize.Resize(uint(width), uint(height), img, resize.NearestNeighbor)
	}
	return MaskFromImage(img), nil
}

func MaskFromImage(img image.Image) *Array {
	bounds := img.Bounds()
	arr := NewArray(bounds.Dy(), bounds.Dx(), 1)
	for y := 0; y < arr.Height; y++ {
		for x := 0; x < arr.Width; x++ {
			gray := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			arr.Pix[y*arr.Width+x] = gray.Y
		}
	}
	return arr
}

// Save encodes a 3-channel array; the format follows the file extension.
func Save(a *Array, path string, order ChannelOrder) error {
	img, err := a.ToImage(order)
	if err != nil {
		return err
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
