// Package predictor runs a generator over a single image: it pads the image
// to the network's block size, runs the forward pass with normalization
// layers on batch statistics, and crops the reconstruction back.
package predictor

import (
	"fmt"

	"github.com/Brownie44l1/deblur/internal/cfg"
	"github.com/Brownie44l1/deblur/internal/imageio"
	"github.com/Brownie44l1/deblur/internal/model"
	"github.com/rs/zerolog/log"
	"gorgonia.org/tensor"
)

type Options struct {
	BlockSize int
	// IgnoreMask keeps the mask out of the forward pass.
	IgnoreMask bool
}

type Predictor struct {
	gen  model.Generator
	opts Options
}

func New(gen model.Generator, opts Options) *Predictor {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 32
	}
	return &Predictor{gen: gen, opts: opts}
}

// Load builds the generator named by settings.Model from settings.WeightsPath.
func Load(settings cfg.Settings) (*Predictor, error) {
	arch, err := model.LookupArchitecture(settings.Model)
	if err != nil {
		return nil, err
	}
	gen, err := model.NewGenerator(arch, settings.WeightsPath, model.RuntimeOptions{
		SharedLibrary:  settings.Runtime.SharedLibrary,
		CUDA:           settings.Runtime.CUDA,
		IntraOpThreads: settings.Runtime.IntraOpThreads,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", arch.Name, err)
	}

	blockSize := settings.BlockSize
	if blockSize <= 0 {
		blockSize = arch.BlockSize
	}
	return New(gen, Options{BlockSize: blockSize, IgnoreMask: settings.IgnoreMask}), nil
}

func (p *Predictor) Close() error {
	return p.gen.Close()
}

// Predict reconstructs img. mask may be nil, in which case every pixel is
// treated as masked in.
func (p *Predictor) Predict(img, mask *imageio.Array) (*imageio.Array, error) {
	batch, err := p.preprocess(img, mask)
	if err != nil {
		return nil, err
	}

	inputs := []*tensor.Dense{batch.image}
	if !p.opts.IgnoreMask {
		inputs = append(inputs, batch.mask)
	}
	pred, err := p.forward(inputs...)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Ints("input_shape", batch.image.Shape()).
		Ints("output_shape", pred.Shape()).
		Msg("Forward pass done")

	return postprocess(pred, batch.height, batch.width)
}

// forward runs the generator with batch-statistics normalization and
// restores the previous mode on every exit path.
func (p *Predictor) forward(inputs ...*tensor.Dense) (*tensor.Dense, error) {
	prev := p.gen.SetMode(model.ModeBatchStats)
	defer p.gen.SetMode(prev)

	out, err := p.gen.Forward(inputs...)
	if err != nil {
		return nil, fmt.Errorf("forward pass failed: %w", err)
	}
	return out, nil
}
