// internal/service/imaging/engine.go

package imaging

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/dustin/go-humanize"

	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
)

var (
	// ErrCompressionTooLarge means both floors were reached and the result is
	// still above the hard ceiling. The photo has to be retaken.
	ErrCompressionTooLarge = errors.New("photo too complex to compress")

	// ErrEmptyImage is returned for a zero-length input
	ErrEmptyImage = errors.New("empty image")

	// ErrInvalidImage wraps decode failures
	ErrInvalidImage = errors.New("invalid image")
)

// Codec decodes, scales and encodes rasters
type Codec interface {
	Decode(data []byte) (image.Image, error)
	Scale(src image.Image, width, height int) image.Image
	Encode(img image.Image, quality float64) ([]byte, error)
}

// Observer receives the outcome of every compression
type Observer interface {
	ObserveCompression(preset string, attempts, size int, err error)
}

// Pass is one encode performed during a compression
type Pass struct {
	Dimension int     `json:"dimension,omitempty"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Quality   float64 `json:"quality"`
	Size      int     `json:"size"`
}

// Result is an encoded JPEG with the parameters that produced it
type Result struct {
	Preset       string  `json:"preset"`
	Data         []byte  `json:"-"`
	SourceWidth  int     `json:"sourceWidth"`
	SourceHeight int     `json:"sourceHeight"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Dimension    int     `json:"dimension,omitempty"`
	Quality      float64 `json:"quality"`
	Attempts     int     `json:"attempts"`
	Passes       []Pass  `json:"passes"`
}

// Size returns the encoded byte length
func (r *Result) Size() int {
	return len(r.Data)
}

// Base64 returns the payload in standard base64
func (r *Result) Base64() string {
	return base64.StdEncoding.EncodeToString(r.Data)
}

// DataURL returns the payload as a JPEG data URL
func (r *Result) DataURL() string {
	return "data:image/jpeg;base64," + r.Base64()
}

// Engine compresses images under a byte budget
type Engine struct {
	codec    Codec
	logger   logging.Logger
	observer Observer
}

// NewEngine creates an engine. logger and observer may be nil.
func NewEngine(codec Codec, logger logging.Logger, observer Observer) *Engine {
	if logger == nil {
		logger = logging.Noop()
	}
	return &Engine{
		codec:    codec,
		logger:   logger,
		observer: observer,
	}
}

// Compress encodes data under the preset's budget. progress may be nil.
func (e *Engine) Compress(ctx context.Context, data []byte, preset Preset, progress ProgressFunc) (*Result, error) {
	tracker := newTracker(progress)

	res, err := e.compress(ctx, data, preset, tracker)
	if err != nil {
		tracker.fail(err)
	} else {
		tracker.emit(StepReady)
	}

	attempts, size := 0, 0
	if res != nil {
		attempts, size = res.Attempts, res.Size()
	}
	if e.observer != nil {
		e.observer.ObserveCompression(preset.Name, attempts, size, err)
	}

	if err != nil {
		e.logger.Warn(ctx, "compression failed",
			logging.String("preset", preset.Name),
			logging.String("input", humanize.IBytes(uint64(len(data)))),
			logging.Err(err))
		return nil, err
	}

	e.logger.Debug(ctx, "compression finished",
		logging.String("preset", preset.Name),
		logging.String("input", humanize.IBytes(uint64(len(data)))),
		logging.String("output", humanize.IBytes(uint64(res.Size()))),
		logging.Int("attempts", res.Attempts),
		logging.Float("quality", res.Quality))
	return res, nil
}

func (e *Engine) compress(ctx context.Context, data []byte, preset Preset, tracker *tracker) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	tracker.emit(StepReading)
	src, err := e.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: zero size raster", ErrInvalidImage)
	}

	res := &Result{
		Preset:       preset.Name,
		SourceWidth:  b.Dx(),
		SourceHeight: b.Dy(),
	}

	switch preset.Policy {
	case PolicySchedule:
		err = e.runSchedule(ctx, src, preset, res, tracker)
	default:
		err = e.runAdaptive(ctx, src, preset, res, tracker)
	}
	return res, err
}

// runAdaptive exhausts quality at each resolution tier before shrinking
func (e *Engine) runAdaptive(ctx context.Context, src image.Image, p Preset, res *Result, tracker *tracker) error {
	dim := p.MaxDimension
	quality := p.StartQuality

	tracker.emit(StepResizing)
	surface := e.rasterize(src, dim)

	tracker.emit(StepCompressing)
	data, err := e.encode(surface, dim, quality, res)
	if err != nil {
		return err
	}

	attempts := 0
	for len(data) > p.Target && attempts < p.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return err
		}

		if quality > p.MinQuality {
			quality = math.Max(p.MinQuality, round2(quality-p.QualityStep))
		} else if dim > p.MinDimension {
			dim = max(p.MinDimension, int(math.Floor(float64(dim)*p.DimensionFactor)))
			quality = p.StartQuality
			tracker.emit(StepResizing)
			surface = e.rasterize(src, dim)
			tracker.emit(StepCompressing)
		} else {
			// both floors reached
			break
		}

		attempts++
		if data, err = e.encode(surface, dim, quality, res); err != nil {
			return err
		}
	}

	res.Attempts = attempts
	res.Data = data
	res.Dimension = dim
	res.Quality = quality
	res.Width = surface.Bounds().Dx()
	res.Height = surface.Bounds().Dy()

	ceiling := int(float64(p.Target) * p.CeilingFactor)
	if len(data) > ceiling {
		return fmt.Errorf("%w: %s exceeds %s", ErrCompressionTooLarge,
			humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(ceiling)))
	}
	return nil
}

// runSchedule accepts the first step meeting the budget, else the fallback
func (e *Engine) runSchedule(ctx context.Context, src image.Image, p Preset, res *Result, tracker *tracker) error {
	b := src.Bounds()
	steps := append(append([]Step(nil), p.Steps...), p.Fallback)

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		w := scaleSide(b.Dx(), step.Scale)
		h := scaleSide(b.Dy(), step.Scale)

		tracker.emit(StepResizing)
		surface := src
		if w != b.Dx() || h != b.Dy() {
			surface = e.codec.Scale(src, w, h)
		}

		tracker.emit(StepCompressing)
		data, err := e.encode(surface, 0, step.Quality, res)
		if err != nil {
			return err
		}

		res.Data = data
		res.Quality = step.Quality
		res.Width = w
		res.Height = h
		res.Attempts = i

		if len(data) <= p.Target {
			return nil
		}
	}

	// the fallback encode is returned regardless of size
	return nil
}

func (e *Engine) rasterize(src image.Image, dim int) image.Image {
	b := src.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), dim)
	if w == b.Dx() && h == b.Dy() {
		return src
	}
	return e.codec.Scale(src, w, h)
}

func (e *Engine) encode(surface image.Image, dim int, quality float64, res *Result) ([]byte, error) {
	data, err := e.codec.Encode(surface, quality)
	if err != nil {
		return nil, fmt.Errorf("error encoding jpeg: %w", err)
	}
	res.Passes = append(res.Passes, Pass{
		Dimension: dim,
		Width:     surface.Bounds().Dx(),
		Height:    surface.Bounds().Dy(),
		Quality:   quality,
		Size:      len(data),
	})
	return data, nil
}

// fitWithin constrains the longer side to dim without upscaling. The
// shorter side is rounded half up.
func fitWithin(width, height, dim int) (int, int) {
	longer := max(width, height)
	if longer <= dim {
		return width, height
	}
	scaled := func(side int) int {
		return max(1, (2*side*dim+longer)/(2*longer))
	}
	if width >= height {
		return dim, scaled(height)
	}
	return scaled(width), dim
}

func scaleSide(side int, scale float64) int {
	return max(1, int(math.Round(float64(side)*scale)))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
