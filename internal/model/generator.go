package model

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// onnxGenerator runs a generator graph exported to ONNX. The graph is
// exported with normalization layers in training mode, so it only produces
// valid results while the generator is in ModeBatchStats.
type onnxGenerator struct {
	arch       Architecture
	session    *ort.DynamicAdvancedSession
	inputNames []string
	outputName string
	exported   Mode
	mode       Mode
	// ownsEnv is set when this generator initialized the ONNX environment
	// and is therefore the one to destroy it.
	ownsEnv    bool
}

// NewGenerator loads the weights of arch from an ONNX file.
func NewGenerator(arch Architecture, weightsPath string, opts RuntimeOptions) (Generator, error) {
	info, err := os.Stat(weightsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat weights: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("weights path %q is a directory", weightsPath)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("weights file %q is empty", weightsPath)
	}

	ownsEnv := false
	if !ort.IsInitialized() {
		if opts.SharedLibrary != "" {
			ort.SetSharedLibraryPath(opts.SharedLibrary)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
		ownsEnv = true
	}

	inputs, outputs, err := ort.GetInputOutputInfo(weightsPath)
	if err != nil {
		releaseEnvironment(ownsEnv)
		return nil, fmt.Errorf("failed to inspect weights: %w", err)
	}
	inputNames, outputName, err := bindGraph(arch, inputs, outputs)
	if err != nil {
		releaseEnvironment(ownsEnv)
		return nil, err
	}

	options, err := sessionOptions(opts)
	if err != nil {
		releaseEnvironment(ownsEnv)
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(weightsPath, inputNames, []string{outputName}, options)
	if err != nil {
		releaseEnvironment(ownsEnv)
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	log.Info().
		Str("model", arch.Name).
		Str("weights", weightsPath).
		Strs("inputs", inputNames).
		Str("output", outputName).
		Bool("cuda", opts.CUDA).
		Msg("Generator loaded")

	return &onnxGenerator{
		arch:       arch,
		session:    session,
		inputNames: inputNames,
		outputName: outputName,
		exported:   ModeBatchStats,
		mode:       ModeEval,
		ownsEnv:    ownsEnv,
	}, nil
}

func bindGraph(arch Architecture, inputs, outputs []ort.InputOutputInfo) ([]string, string, error) {
	maxInputs := 1
	if arch.AcceptsMask {
		maxInputs = 2
	}
	if len(inputs) == 0 || len(inputs) > maxInputs {
		return nil, "", fmt.Errorf("%w: %s expects up to %d inputs, graph has %d",
			ErrInputMismatch, arch.Name, maxInputs, len(inputs))
	}
	if len(outputs) == 0 {
		return nil, "", fmt.Errorf("%w: graph has no outputs", ErrInputMismatch)
	}
	names := make([]string, len(inputs))
	for i, in := range inputs {
		if in.DataType != ort.TensorElementDataTypeFloat {
			return nil, "", fmt.Errorf("%w: input %q has element type %v, want float", ErrInputMismatch, in.Name, in.DataType)
		}
		names[i] = in.Name
	}
	return names, outputs[0].Name, nil
}

func sessionOptions(opts RuntimeOptions) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if opts.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}
	if opts.CUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()
			return nil, fmt.Errorf("failed to create CUDA options: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("failed to enable CUDA: %w", err)
		}
	}
	return options, nil
}

func (g *onnxGenerator) SetMode(mode Mode) Mode {
	prev := g.mode
	g.mode = mode
	return prev
}

func (g *onnxGenerator) Forward(inputs ...*tensor.Dense) (*tensor.Dense, error) {
	if g.mode != g.exported {
		return nil, fmt.Errorf("%w: %s runs in %s mode, generator is in %s",
			ErrModeMismatch, g.arch.Name, g.exported, g.mode)
	}
	if len(inputs) != len(g.inputNames) {
		return nil, fmt.Errorf("%w: graph takes %d inputs, got %d",
			ErrInputMismatch, len(g.inputNames), len(inputs))
	}

	feeds := make([]ort.ArbitraryTensor, len(inputs))
	for i, in := range inputs {
		data, ok := in.Data().([]float32)
		if !ok {
			return nil, fmt.Errorf("%w: input %d is %v, want float32", ErrInputMismatch, i, in.Dtype())
		}
		t, err := ort.NewTensor(toORTShape(in.Shape()), data)
		if err != nil {
			return nil, fmt.Errorf("failed to create input tensor %q: %w", g.inputNames[i], err)
		}
		defer t.Destroy()
		feeds[i] = t
	}

	results := []ort.ArbitraryTensor{nil}
	if err := g.session.Run(feeds, results); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer results[0].Destroy()

	out, ok := results[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: output %q is not a float32 tensor", ErrInputMismatch, g.outputName)
	}
	data := make([]float32, len(out.GetData()))
	copy(data, out.GetData())

	return tensor.New(tensor.WithShape(fromORTShape(out.GetShape())...), tensor.WithBacking(data)), nil
}

func (g *onnxGenerator) Close() error {
	if g.session != nil {
		if err := g.session.Destroy(); err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
		g.session = nil
	}
	if !g.ownsEnv {
		return nil
	}
	g.ownsEnv = false
	return ort.DestroyEnvironment()
}

func releaseEnvironment(owned bool) {
	if !owned {
		return
	}
	if err := ort.DestroyEnvironment(); err != nil {
		log.Warn().Err(err).Msg("Failed to destroy ONNX environment")
	}
}

func toORTShape(s tensor.Shape) ort.Shape {
	dims := make([]int64, len(s))
	for i, d := range s {
		dims[i] = int64(d)
	}
	return ort.NewShape(dims...)
}

func fromORTShape(s ort.Shape) []int {
	dims := make([]int, len(s))
	for i, d := range s {
		dims[i] = int(d)
	}
	return dims
}
