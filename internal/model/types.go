package model

import (
	"errors"
	"fmt"
	"sort"

	"gorgonia.org/tensor"
)

var (
	ErrUnknownModel  = errors.New("unknown model")
	ErrModeMismatch  = errors.New("generator mode mismatch")
	ErrInputMismatch = errors.New("generator input mismatch")
)

// Mode selects how normalization layers inside the generator behave.
type Mode int

const (
	// ModeEval uses the running statistics stored with the weights.
	ModeEval Mode = iota
	// ModeBatchStats uses statistics of the batch being processed.
	ModeBatchStats
)

func (m Mode) String() string {
	switch m {
	case ModeEval:
		return "eval"
	case ModeBatchStats:
		return "batch_stats"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Generator is an image-to-image network. Inputs and the output are
// float32 tensors laid out as (batch, channels, height, width).
type Generator interface {
	Forward(inputs ...*tensor.Dense) (*tensor.Dense, error)
	// SetMode switches the normalization mode and returns the previous one.
	SetMode(mode Mode) Mode
	Close() error
}

type Architecture struct {
	Name string
	// AcceptsMask reports whether the exported graph may take the mask as
	// a second input.
	AcceptsMask bool
	BlockSize   int
}

var architectures = map[string]Architecture{
	"fpn_inception":        {Name: "fpn_inception", BlockSize: 32},
	"fpn_inception_simple": {Name: "fpn_inception_simple", BlockSize: 32},
	"fpn_mobilenet":        {Name: "fpn_mobilenet", BlockSize: 32},
	"fpn_dense":            {Name: "fpn_dense", BlockSize: 32},
	"unet_seresnext":       {Name: "unet_seresnext", AcceptsMask: true, BlockSize: 32},
}

func LookupArchitecture(name string) (Architecture, error) {
	arch, ok := architectures[name]
	if !ok {
		return Architecture{}, fmt.Errorf("%w: %q (supported: %v)", ErrUnknownModel, name, Architectures())
	}
	return arch, nil
}

// Architectures returns the supported architecture names in sorted order.
func Architectures() []string {
	names := make([]string, 0, len(architectures))
	for name := range architectures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type RuntimeOptions struct {
	SharedLibrary  string
	CUDA           bool
	IntraOpThreads int
}
