package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Brownie44l1/deblur/internal/cfg"
	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	opts := &Options{}
	rest, err := flags.ParseArgs(opts, []string{
		"-m", "masks/*.png",
		"--weights-path", "w.onnx",
		"--use-mask",
		"blurred/*.png",
	})
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, "blurred/*.png", opts.Args.ImagePattern)
	assert.Equal(t, "masks/*.png", opts.MaskPattern)
	assert.Equal(t, "w.onnx", opts.WeightsPath)
	assert.Equal(t, "config/config.yaml", opts.Config)
	assert.True(t, opts.UseMask)
}

func TestParseOptionsRequiresPattern(t *testing.T) {
	_, err := flags.ParseArgs(&Options{}, []string{"--no-progress"})
	assert.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	settings := cfg.Default()
	settings.Model = "fpn_inception"

	applyFlags(&settings, &Options{})
	assert.Equal(t, "fpn_inception", settings.Model)
	assert.Equal(t, "best_fpn.onnx", settings.WeightsPath)
	assert.True(t, settings.IgnoreMask)

	applyFlags(&settings, &Options{
		Model:       "fpn_mobilenet",
		WeightsPath: "mobile.onnx",
		OutDir:      "out",
		UseMask:     true,
		LogLevel:    "debug",
	})
	assert.Equal(t, "fpn_mobilenet", settings.Model)
	assert.Equal(t, "mobile.onnx", settings.WeightsPath)
	assert.Equal(t, "out", settings.OutDir)
	assert.False(t, settings.IgnoreMask)
	assert.Equal(t, "debug", settings.LogLevel)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DEBLUR_MODEL", "DEBLUR_WEIGHTS_PATH", "DEBLUR_OUT_DIR", "DEBLUR_CUDA", "DEBLUR_ORT_LIBRARY", "DEBLUR_LOG_LEVEL", "DEBLUR_METRICS_FILE"} {
		t.Setenv(key, "")
	}
}

func TestLoadSettingsModelFlagReplacesMissingKey(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "weights_path: mobile.onnx\n")

	settings, err := loadSettings(&Options{Config: path, Model: "fpn_mobilenet"})
	require.NoError(t, err)
	assert.Equal(t, "fpn_mobilenet", settings.Model)
	assert.Equal(t, "mobile.onnx", settings.WeightsPath)

	_, err = loadSettings(&Options{Config: path})
	assert.ErrorIs(t, err, cfg.ErrMissingModel)
}

func TestLoadSettingsValidatesFlagValues(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "model: fpn_inception\n")

	_, err := loadSettings(&Options{Config: path, LogLevel: "verbose"})
	assert.ErrorContains(t, err, "invalid log level")

	settings, err := loadSettings(&Options{Config: path, LogLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", settings.LogLevel)
}
