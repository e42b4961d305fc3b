package predictor

import (
	"errors"
	"testing"

	"github.com/Brownie44l1/deblur/internal/cfg"
	"github.com/Brownie44l1/deblur/internal/imageio"
	"github.com/Brownie44l1/deblur/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// identityGenerator returns its first input unchanged.
type identityGenerator struct {
	mode       model.Mode
	seenModes  []model.Mode
	seenInputs [][]*tensor.Dense
	err        error
	panicMsg   string
	closed     bool
}

func (g *identityGenerator) Forward(inputs ...*tensor.Dense) (*tensor.Dense, error) {
	g.seenModes = append(g.seenModes, g.mode)
	g.seenInputs = append(g.seenInputs, inputs)
	if g.panicMsg != "" {
		panic(g.panicMsg)
	}
	if g.err != nil {
		return nil, g.err
	}
	return inputs[0], nil
}

func (g *identityGenerator) SetMode(mode model.Mode) model.Mode {
	prev := g.mode
	g.mode = mode
	return prev
}

func (g *identityGenerator) Close() error {
	g.closed = true
	return nil
}

func syntheticImage(height, width int) *imageio.Array {
	img := imageio.NewArray(height, width, 3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(y, x, 0, uint8((x*7+y)%256))
			img.Set(y, x, 1, uint8((y*13)%256))
			img.Set(y, x, 2, uint8((x*y)%256))
		}
	}
	return img
}

func TestPredictIdentityReconstructsImage(t *testing.T) {
	gen := &identityGenerator{}
	p := New(gen, Options{BlockSize: 32, IgnoreMask: true})
	img := syntheticImage(100, 100)

	out, err := p.Predict(img, nil)
	require.NoError(t, err)

	assert.Equal(t, 100, out.Height)
	assert.Equal(t, 100, out.Width)
	assert.Equal(t, 3, out.Channels)
	for i, v := range img.Pix {
		want := Denormalize(Normalize(v))
		if out.Pix[i] != want {
			t.Fatalf("pixel %d: got %d, want %d", i, out.Pix[i], want)
		}
		assert.InDelta(t, float64(v), float64(out.Pix[i]), 1)
	}

	require.Len(t, gen.seenInputs, 1)
	require.Len(t, gen.seenInputs[0], 1, "mask must not be fed when ignored")
	assert.Equal(t, tensor.Shape{1, 3, 128, 128}, gen.seenInputs[0][0].Shape())
}

func TestPredictOutputSizeMatchesInput(t *testing.T) {
	sizes := [][2]int{{1, 1}, {31, 33}, {32, 32}, {64, 17}, {97, 250}}
	for _, size := range sizes {
		p := New(&identityGenerator{}, Options{BlockSize: 32, IgnoreMask: true})
		out, err := p.Predict(syntheticImage(size[0], size[1]), nil)
		require.NoError(t, err)
		assert.Equal(t, size[0], out.Height)
		assert.Equal(t, size[1], out.Width)
	}
}

func TestPredictRunsInBatchStatsModeAndRestores(t *testing.T) {
	gen := &identityGenerator{}
	p := New(gen, Options{IgnoreMask: true})

	_, err := p.Predict(syntheticImage(8, 8), nil)
	require.NoError(t, err)
	assert.Equal(t, []model.Mode{model.ModeBatchStats}, gen.seenModes)
	assert.Equal(t, model.ModeEval, gen.mode)

	gen.err = errors.New("boom")
	_, err = p.Predict(syntheticImage(8, 8), nil)
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, model.ModeEval, gen.mode)
}

func TestPredictRestoresModeOnPanic(t *testing.T) {
	gen := &identityGenerator{panicMsg: "kernel crashed"}
	p := New(gen, Options{IgnoreMask: true})

	assert.PanicsWithValue(t, "kernel crashed", func() {
		_, _ = p.Predict(syntheticImage(4, 4), nil)
	})
	assert.Equal(t, model.ModeEval, gen.mode)
}

func TestPredictFeedsMaskWhenEnabled(t *testing.T) {
	gen := &identityGenerator{}
	p := New(gen, Options{BlockSize: 32, IgnoreMask: false})

	mask := imageio.NewArray(10, 12, 1)
	for i := range mask.Pix {
		mask.Pix[i] = 255
	}
	mask.Set(0, 0, 0, 0)

	_, err := p.Predict(syntheticImage(10, 12), mask)
	require.NoError(t, err)

	require.Len(t, gen.seenInputs[0], 2)
	maskTensor := gen.seenInputs[0][1]
	assert.Equal(t, tensor.Shape{1, 3, 32, 32}, maskTensor.Shape())

	data := maskTensor.Data().([]float32)
	plane := 32 * 32
	for ch := 0; ch < 3; ch++ {
		assert.Equal(t, float32(0), data[ch*plane], "masked-out pixel in channel %d", ch)
		assert.Equal(t, float32(1), data[ch*plane+1], "masked-in pixel in channel %d", ch)
		assert.Equal(t, float32(0), data[ch*plane+12], "padding column in channel %d", ch)
		assert.Equal(t, float32(0), data[ch*plane+10*32], "padding row in channel %d", ch)
	}
}

func TestPredictRejectsBadInput(t *testing.T) {
	p := New(&identityGenerator{}, Options{})

	_, err := p.Predict(nil, nil)
	assert.ErrorContains(t, err, "empty")

	_, err = p.Predict(syntheticImage(8, 8), imageio.NewArray(8, 9, 1))
	assert.ErrorContains(t, err, "mask is 9x8")

	_, err = p.Predict(syntheticImage(8, 8), imageio.NewArray(8, 8, 2))
	assert.ErrorContains(t, err, "2 channels")

	broken := syntheticImage(8, 8)
	broken.Pix = broken.Pix[:10]
	_, err = p.Predict(broken, nil)
	assert.ErrorContains(t, err, "buffer")
}

func TestNewDefaultsBlockSize(t *testing.T) {
	p := New(&identityGenerator{}, Options{})
	assert.Equal(t, 32, p.opts.BlockSize)
}

func TestCloseClosesGenerator(t *testing.T) {
	gen := &identityGenerator{}
	require.NoError(t, New(gen, Options{}).Close())
	assert.True(t, gen.closed)
}

func TestLoadUnknownModel(t *testing.T) {
	settings := cfg.Default()
	settings.Model = "pix2pix"
	_, err := Load(settings)
	assert.ErrorIs(t, err, model.ErrUnknownModel)
}

func TestLoadMissingWeights(t *testing.T) {
	settings := cfg.Default()
	settings.Model = "fpn_inception"
	settings.WeightsPath = t.TempDir() + "/missing.onnx"
	_, err := Load(settings)
	assert.ErrorContains(t, err, "failed to load fpn_inception")
}
