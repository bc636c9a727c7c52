// Package export turns segments into extraction requests for the transcoder.
package export

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"path/filepath"

	"github.com/andresmejia3/cameo/internal/detlog"
	"github.com/andresmejia3/cameo/internal/geometry"
	"github.com/andresmejia3/cameo/internal/segment"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxDimension   = 800
	DefaultFingerprintLen = 10
	DefaultExtension      = ".mp4"
)

// ErrUnorderedLog is returned when the log's frames do not strictly increase.
var ErrUnorderedLog = errors.New("detection log is not ordered by frame")

// ScalePair scales a coverage rectangle's width and height independently.
type ScalePair struct {
	W float64 `yaml:"w" json:"w"`
	H float64 `yaml:"h" json:"h"`
}

// Variants is the cartesian product of parameters to export.
type Variants struct {
	Gaps   []float64   `yaml:"gaps"`
	Scales []ScalePair `yaml:"scales"`
	Pads   []float64   `yaml:"pads"`
}

// Validate rejects empty lists, negative gaps/pads and negative or non-finite scales.
func (v Variants) Validate() error {
	if len(v.Gaps) == 0 || len(v.Scales) == 0 || len(v.Pads) == 0 {
		return errors.New("variants need at least one gap, scale and pad")
	}
	for _, g := range v.Gaps {
		if g < 0 || math.IsNaN(g) || math.IsInf(g, 0) {
			return errors.Errorf("invalid gap %v", g)
		}
	}
	for _, p := range v.Pads {
		if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return errors.Errorf("invalid pad %v", p)
		}
	}
	for _, s := range v.Scales {
		if s.W < 0 || s.H < 0 || math.IsNaN(s.W) || math.IsNaN(s.H) || math.IsInf(s.W, 0) || math.IsInf(s.H, 0) {
			return errors.Wrapf(geometry.ErrInvalidGeometry, "scale %v", s)
		}
	}
	return nil
}

// Size is a rescale target in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Request is everything the transcoder needs to cut one clip.
type Request struct {
	Source      string        `json:"source"`
	Seek        float64       `json:"seek"`     // seconds, may be negative; the transcoder clamps it
	Duration    float64       `json:"duration"` // seconds
	StartFrame  int           `json:"start_frame"`
	EndFrame    int           `json:"end_frame"`
	FrameCount  int           `json:"frame_count"`
	Crop        geometry.Crop `json:"crop"`
	Rescale     *Size         `json:"rescale,omitempty"`
	Fingerprint string        `json:"fingerprint"`
	Output      string        `json:"output"`

	Gap   float64   `json:"gap"`
	Scale ScalePair `json:"scale"`
	Pad   float64   `json:"pad"`
}

// Plan is the set of requests produced for one source.
type Plan struct {
	Source     string
	Segments   map[float64]int // segment count per gap
	Requests   []Request
	Skipped    int // crops that collapsed after clipping
	Duplicates int // identical requests produced by different variants
	Collisions int // fingerprints disambiguated with a suffix
}

// Planner computes extraction requests. The zero value uses defaults.
type Planner struct {
	OutputDir      string
	MaxDimension   int
	FingerprintLen int
	Extension      string
	Logger         zerolog.Logger
}

// Plan builds one request per (gap, scale, pad, segment) combination.
func (p *Planner) Plan(source string, lg *detlog.Log, v Variants) (*Plan, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if !lg.Ordered() {
		return nil, errors.Wrapf(ErrUnorderedLog, "%s", lg.Path)
	}

	logger := p.Logger.With().Str("component", "export").Str("source", source).Logger()
	plan := &Plan{Source: source, Segments: make(map[float64]int)}
	// identical requests from different variants share one output
	assigned := make(map[requestKey]bool)
	taken := make(map[string]bool)

	for _, gap := range v.Gaps {
		segs := segment.Collect(lg.Detections, lg.Source.FPS, gap)
		plan.Segments[gap] = len(segs)

		for _, scale := range v.Scales {
			for _, pad := range v.Pads {
				for _, seg := range segs {
					req, err := p.request(source, lg.Source, seg, gap, scale, pad)
					if err != nil {
						return nil, err
					}
					if !req.Crop.Valid() {
						plan.Skipped++
						logger.Warn().
							Int("start_frame", seg.FrameStart()).
							Str("crop", req.Crop.Filter()).
							Msg("crop collapsed after clipping, skipping")
						continue
					}

					key := keyOf(req)
					if assigned[key] {
						plan.Duplicates++
						continue
					}
					assigned[key] = true

					if base := req.Fingerprint; taken[p.outputPath(req)] {
						plan.Collisions++
						for n := 1; taken[p.outputPath(req)]; n++ {
							req.Fingerprint = fmt.Sprintf("%s-%d", base, n)
						}
						logger.Warn().
							Str("fingerprint", base).
							Str("renamed", req.Fingerprint).
							Msg("fingerprint collision between distinct requests")
					}
					taken[p.outputPath(req)] = true
					req.Output = p.outputPath(req)
					plan.Requests = append(plan.Requests, req)
				}
			}
		}
	}

	logger.Debug().
		Int("requests", len(plan.Requests)).
		Int("skipped", plan.Skipped).
		Int("duplicates", plan.Duplicates).
		Msg("export plan ready")
	return plan, nil
}

func (p *Planner) request(source string, src detlog.FrameSource, seg segment.Segment, gap float64, scale ScalePair, pad float64) (Request, error) {
	scaled, err := seg.Coverage().ScaleFromCenter(scale.W, scale.H)
	if err != nil {
		return Request{}, err
	}
	crop := scaled.ClipTo(float64(src.Width), float64(src.Height)).Round().Crop()

	padFrames := int(math.RoundToEven(pad * src.FPS))
	frameCount := seg.FrameSpan() + 2*padFrames

	req := Request{
		Source:     source,
		Seek:       seg.StartSeconds() - pad,
		Duration:   float64(frameCount) / src.FPS,
		StartFrame: seg.FrameStart(),
		EndFrame:   seg.FrameEnd(),
		FrameCount: frameCount,
		Crop:       crop,
		Gap:        gap,
		Scale:      scale,
		Pad:        pad,
	}
	if crop.Valid() {
		req.Rescale = rescale(crop, p.maxDimension())
	}
	req.Fingerprint = Fingerprint(source, crop, seg.FrameStart(), seg.FrameEnd(), p.fingerprintLen())
	return req, nil
}

func (p *Planner) outputPath(req Request) string {
	ext := p.Extension
	if ext == "" {
		ext = DefaultExtension
	}
	name := fmt.Sprintf("%06x_%d_%s%s", req.StartFrame, req.FrameCount, req.Fingerprint, ext)
	return filepath.Join(p.OutputDir, name)
}

func (p *Planner) maxDimension() int {
	if p.MaxDimension > 0 {
		return p.MaxDimension
	}
	return DefaultMaxDimension
}

func (p *Planner) fingerprintLen() int {
	if p.FingerprintLen > 0 {
		return p.FingerprintLen
	}
	return DefaultFingerprintLen
}

// Fingerprint hashes the source path, crop size and frame range, truncated to n hex chars.
func Fingerprint(source string, crop geometry.Crop, startFrame, endFrame, n int) string {
	input := fmt.Sprintf("%s-%dx%d-%d-%d", source, crop.Width, crop.Height, startFrame, endFrame)
	sum := sha256.Sum256([]byte(input))
	digest := hex.EncodeToString(sum[:])
	if n > len(digest) {
		n = len(digest)
	}
	return digest[:n]
}

// rescale returns a target that fits maxDim on the longer side, or nil when the crop already fits.
// Dimensions are rounded down to even numbers for the encoder.
func rescale(crop geometry.Crop, maxDim int) *Size {
	longer := max(crop.Width, crop.Height)
	if longer <= maxDim {
		return nil
	}
	k := float64(maxDim) / float64(longer)
	return &Size{
		Width:  evenFloor(float64(crop.Width) * k),
		Height: evenFloor(float64(crop.Height) * k),
	}
}

func evenFloor(v float64) int {
	n := int(math.Floor(v)) &^ 1
	if n < 2 {
		return 2
	}
	return n
}

// requestKey is the part of a request that decides whether two requests are the same clip.
type requestKey struct {
	seek       float64
	frameCount int
	startFrame int
	endFrame   int
	crop       geometry.Crop
}

func keyOf(r Request) requestKey {
	return requestKey{
		seek:       r.Seek,
		frameCount: r.FrameCount,
		startFrame: r.StartFrame,
		endFrame:   r.EndFrame,
		crop:       r.Crop,
	}
}
