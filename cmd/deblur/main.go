package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/Brownie44l1/deblur/internal/batch"
	"github.com/Brownie44l1/deblur/internal/cfg"
	"github.com/Brownie44l1/deblur/internal/imageio"
	"github.com/Brownie44l1/deblur/internal/metrics"
	"github.com/Brownie44l1/deblur/internal/predictor"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	MaskPattern string `short:"m" long:"mask-pattern" description:"Glob of masks, paired with images by file name"`
	WeightsPath string `short:"w" long:"weights-path" description:"ONNX generator weights (default from config)"`
	OutDir      string `short:"o" long:"out-dir" description:"Output directory (default from config)"`
	Config      string `short:"c" long:"config" default:"config/config.yaml" description:"YAML config file"`
	Model       string `long:"model" description:"Architecture override"`
	UseMask     bool   `long:"use-mask" description:"Feed the mask to the generator"`
	LogLevel    string `long:"log-level" description:"Log level: debug, info, warn, error"`
	NoProgress  bool   `long:"no-progress" description:"Disable the progress bar"`

	Args struct {
		ImagePattern string `positional-arg-name:"img-pattern" required:"yes"`
	} `positional-args:"yes"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env")
	}

	opts := &Options{}
	parser := flags.NewParser(opts, flags.Default)
	parser.Name = "deblur"
	parser.Usage = "[OPTIONS] <img-pattern>"
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		log.Fatal().Err(err).Msg("deblur failed")
	}
}

func run(opts *Options) error {
	settings, err := loadSettings(opts)
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(settings.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	order, err := imageio.ParseChannelOrder(settings.ChannelOrder)
	if err != nil {
		return err
	}

	log.Info().
		Str("model", settings.Model).
		Str("weights", settings.WeightsPath).
		Str("out_dir", settings.OutDir).
		Bool("ignore_mask", settings.IgnoreMask).
		Msg("Loading predictor")

	p, err := predictor.Load(settings)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to release generator")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var progress io.Writer = os.Stderr
	if opts.NoProgress {
		progress = nil
	}

	m := metrics.New()
	_, runErr := batch.Run(ctx, p, batch.Job{
		ImagePattern: opts.Args.ImagePattern,
		MaskPattern:  opts.MaskPattern,
		OutDir:       settings.OutDir,
		Order:        order,
		Progress:     progress,
		Metrics:      m,
	})

	if settings.MetricsFile != "" {
		if err := m.WriteTextfile(settings.MetricsFile); err != nil {
			log.Warn().Err(err).Msg("Failed to export metrics")
		}
	}
	return runErr
}

// loadSettings reads the config file, applies flag overrides and only then
// validates, so --model can stand in for a missing model key.
func loadSettings(opts *Options) (cfg.Settings, error) {
	settings, err := cfg.Load(opts.Config)
	if err != nil {
		return cfg.Settings{}, err
	}
	applyFlags(&settings, opts)
	if err := settings.Validate(); err != nil {
		return cfg.Settings{}, err
	}
	return settings, nil
}

func applyFlags(settings *cfg.Settings, opts *Options) {
	if opts.Model != "" {
		settings.Model = opts.Model
	}
	if opts.WeightsPath != "" {
		settings.WeightsPath = opts.WeightsPath
	}
	if opts.OutDir != "" {
		settings.OutDir = opts.OutDir
	}
	if opts.UseMask {
		settings.IgnoreMask = false
	}
	if opts.LogLevel != "" {
		settings.LogLevel = opts.LogLevel
	}
}
