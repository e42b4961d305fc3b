// Package batch drives a predictor over every image matched by a glob
// pattern, one image at a time.
package batch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Brownie44l1/deblur/internal/imageio"
	"github.com/Brownie44l1/deblur/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

type Predictor interface {
	Predict(img, mask *imageio.Array) (*imageio.Array, error)
}

type Job struct {
	ImagePattern string
	MaskPattern  string
	OutDir       string
	Order        imageio.ChannelOrder
	// Progress is where the progress bar is drawn; nil disables it.
	Progress io.Writer
	Metrics  *metrics.Metrics
}

type Summary struct {
	Processed int
	Duration  time.Duration
}

// Run processes every pair sequentially. The first failure stops the run.
func Run(ctx context.Context, p Predictor, job Job) (Summary, error) {
	start := time.Now()
	m := job.Metrics
	if m == nil {
		m = metrics.New()
	}
	defer func() {
		m.RunDuration.Set(time.Since(start).Seconds())
	}()

	pairs, err := Pairs(job.ImagePattern, job.MaskPattern)
	if err != nil {
		return Summary{}, err
	}
	if err := os.MkdirAll(job.OutDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	log.Info().
		Int("images", len(pairs)).
		Bool("masks", job.MaskPattern != "").
		Str("out_dir", job.OutDir).
		Msg("Starting batch")

	bar := newProgressBar(len(pairs), job.Progress)
	summary := Summary{}
	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, fmt.Errorf("batch interrupted after %d images: %w", summary.Processed, err)
		}
		if err := processPair(p, pair, job, m); err != nil {
			m.ImageFailures.Inc()
			summary.Duration = time.Since(start)
			return summary, fmt.Errorf("failed to process %s: %w", pair.Image, err)
		}
		m.ImagesProcessed.Inc()
		summary.Processed++
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	summary.Duration = time.Since(start)
	log.Info().
		Int("processed", summary.Processed).
		Dur("duration", summary.Duration).
		Msg("Batch finished")
	return summary, nil
}

func processPair(p Predictor, pair Pair, job Job, m *metrics.Metrics) error {
	img, err := imageio.Load(pair.Image, job.Order)
	if err != nil {
		return err
	}

	var mask *imageio.Array
	if pair.Mask != "" {
		mask, err = imageio.LoadMask(pair.Mask, img.Width, img.Height)
		if err != nil {
			return err
		}
	}

	m.ImagePixels.Observe(float64(img.Width * img.Height))
	start := time.Now()
	pred, err := p.Predict(img, mask)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	m.InferenceSeconds.Observe(elapsed.Seconds())

	out := filepath.Join(job.OutDir, pair.Name)
	if err := imageio.Save(pred, out, job.Order); err != nil {
		return err
	}

	log.Debug().
		Str("image", pair.Image).
		Str("mask", pair.Mask).
		Str("output", out).
		Int("width", img.Width).
		Int("height", img.Height).
		Dur("duration", elapsed).
		Msg("Image reconstructed")
	return nil
}

func newProgressBar(total int, w io.Writer) *progressbar.ProgressBar {
	if w == nil {
		return progressbar.DefaultSilent(int64(total))
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("deblurring"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("img"),
		progressbar.OptionShowIts(),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
	)
}
