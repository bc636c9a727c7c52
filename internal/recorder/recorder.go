// Package recorder walks a decoded frame stream, asks a matcher for the target face
// and writes every hit to a detection log.
package recorder

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/andresmejia3/cameo/internal/detlog"
	"github.com/andresmejia3/cameo/internal/geometry"
	"github.com/andresmejia3/cameo/internal/utils"
	"github.com/rs/zerolog"
)

const megabyte = 1024 * 1024

// Matcher finds the target person in a JPEG frame. Boxes are in the frame's own pixels.
type Matcher interface {
	Match(frame []byte) ([]geometry.Rect, error)
}

// Recorder holds the sampling policy. The zero value matches every frame at full resolution.
type Recorder struct {
	// SkipFrames leading frames are never matched (intros, title cards).
	SkipFrames int
	// MissStride is the distance to the next matched frame after a miss. A hit always
	// checks the very next frame.
	MissStride int
	// Downscale is the factor the decoder shrank frames by; boxes are multiplied back.
	Downscale int
	// OnFrame, when set, is called once per decoded frame (progress reporting).
	OnFrame func()
	Logger  zerolog.Logger
}

// Stats summarizes one recording.
type Stats struct {
	Frames  int // decoded
	Matched int // sent to the matcher
	Hits    int // frames written to the log
}

// Record reads concatenated JPEG frames from frames and writes the header plus one line per
// frame where the matcher found the target. A matcher error aborts the recording.
func (r *Recorder) Record(ctx context.Context, frames io.Reader, src detlog.FrameSource, m Matcher, out *detlog.Writer) (Stats, error) {
	var stats Stats
	if err := out.WriteHeader(src); err != nil {
		return stats, err
	}

	missStride := max(r.MissStride, 1)
	scale := float64(max(r.Downscale, 1))
	logger := r.Logger.With().Str("component", "recorder").Logger()

	scanner := bufio.NewScanner(frames)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	next := r.SkipFrames
	for frameNo := 0; scanner.Scan(); frameNo++ {
		stats.Frames++
		if r.OnFrame != nil {
			r.OnFrame()
		}
		if frameNo < next {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		stats.Matched++
		rects, err := m.Match(scanner.Bytes())
		if err != nil {
			return stats, fmt.Errorf("matcher failed on frame %d: %w", frameNo, err)
		}
		if len(rects) == 0 {
			next = frameNo + missStride
			continue
		}

		// the first match wins when the matcher reports several
		rect := rects[0].Scale(scale).ClipTo(float64(src.Width), float64(src.Height))
		if rect.Validate() != nil || rect.Width() <= 0 || rect.Height() <= 0 {
			logger.Warn().Int("frame", frameNo).Msg("match outside the frame, ignoring")
			next = frameNo + missStride
			continue
		}
		if err := out.WriteDetection(detlog.Detection{Frame: frameNo, Rect: rect}); err != nil {
			return stats, err
		}
		stats.Hits++
		next = frameNo + 1
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("frame scanner failed: %w", err)
	}

	logger.Debug().
		Int("frames", stats.Frames).
		Int("matched", stats.Matched).
		Int("hits", stats.Hits).
		Msg("recording finished")
	return stats, out.Flush()
}
