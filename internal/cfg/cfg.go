package cfg

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var ErrMissingModel = errors.New("model name is required")

const DefaultPath = "config/config.yaml"

type Settings struct {
	Model        string
	WeightsPath  string
	OutDir       string
	IgnoreMask   bool
	BlockSize    int
	ChannelOrder string
	Runtime      RuntimeSettings
	MetricsFile  string
	LogLevel     string
}

type RuntimeSettings struct {
	SharedLibrary  string
	CUDA           bool
	IntraOpThreads int
}

type ConfigFile struct {
	Model        string `yaml:"model"`
	WeightsPath  string `yaml:"weights_path"`
	OutDir       string `yaml:"out_dir"`
	IgnoreMask   *bool  `yaml:"ignore_mask"`
	BlockSize    int    `yaml:"block_size"`
	ChannelOrder string `yaml:"channel_order"`

	Runtime struct {
		SharedLibrary  string `yaml:"shared_library"`
		CUDA           bool   `yaml:"cuda"`
		IntraOpThreads int    `yaml:"intra_op_threads"`
	} `yaml:"runtime"`

	MetricsFile string `yaml:"metrics_file"`
	LogLevel    string `yaml:"log_level"`
}

func Default() Settings {
	return Settings{
		WeightsPath:  "best_fpn.onnx",
		OutDir:       "submit/",
		IgnoreMask:   true,
		BlockSize:    32,
		ChannelOrder: "bgr",
		LogLevel:     "info",
	}
}

// Load reads the YAML config at path and applies DEBLUR_* environment
// overrides. The result is not validated: callers apply their own overrides
// first and then call Validate.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	settings := fromFile(config)
	applyEnv(&settings)
	return settings, nil
}

func fromFile(config ConfigFile) Settings {
	s := Default()
	s.Model = config.Model
	if config.WeightsPath != "" {
		s.WeightsPath = config.WeightsPath
	}
	if config.OutDir != "" {
		s.OutDir = config.OutDir
	}
	if config.IgnoreMask != nil {
		s.IgnoreMask = *config.IgnoreMask
	}
	if config.BlockSize != 0 {
		s.BlockSize = config.BlockSize
	}
	if config.ChannelOrder != "" {
		s.ChannelOrder = config.ChannelOrder
	}
	if config.LogLevel != "" {
		s.LogLevel = config.LogLevel
	}
	s.MetricsFile = config.MetricsFile
	s.Runtime = RuntimeSettings{
		SharedLibrary:  config.Runtime.SharedLibrary,
		CUDA:           config.Runtime.CUDA,
		IntraOpThreads: config.Runtime.IntraOpThreads,
	}
	return s
}

func applyEnv(s *Settings) {
	s.Model = getEnvOrDefault("DEBLUR_MODEL", s.Model)
	s.WeightsPath = getEnvOrDefault("DEBLUR_WEIGHTS_PATH", s.WeightsPath)
	s.OutDir = getEnvOrDefault("DEBLUR_OUT_DIR", s.OutDir)
	s.Runtime.SharedLibrary = getEnvOrDefault("DEBLUR_ORT_LIBRARY", s.Runtime.SharedLibrary)
	s.Runtime.CUDA = getBoolFromEnvOrDefault("DEBLUR_CUDA", s.Runtime.CUDA)
	s.LogLevel = getEnvOrDefault("DEBLUR_LOG_LEVEL", s.LogLevel)
	s.MetricsFile = getEnvOrDefault("DEBLUR_METRICS_FILE", s.MetricsFile)
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.Model) == "" {
		return ErrMissingModel
	}
	if s.WeightsPath == "" {
		return fmt.Errorf("weights path is required")
	}
	if s.OutDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if s.BlockSize <= 0 {
		return fmt.Errorf("block size must be positive, got %d", s.BlockSize)
	}
	if s.Runtime.IntraOpThreads < 0 {
		return fmt.Errorf("intra-op threads must not be negative, got %d", s.Runtime.IntraOpThreads)
	}
	if _, err := zerolog.ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", s.LogLevel, err)
	}
	switch strings.ToLower(s.ChannelOrder) {
	case "bgr", "rgb":
	default:
		return fmt.Errorf("channel order must be bgr or rgb, got %q", s.ChannelOrder)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolFromEnvOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
