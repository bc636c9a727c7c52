// Package segment groups an ordered detection stream into time segments.
package segment

import (
	"iter"
	"math"
	"slices"

	"github.com/andresmejia3/cameo/internal/detlog"
	"github.com/andresmejia3/cameo/internal/geometry"
)

// MinDetections is the smallest run that counts as an appearance. Shorter runs are noise.
const MinDetections = 2

// Segment is a run of detections whose consecutive gaps stay within the threshold.
// It is immutable: accessors return copies.
type Segment struct {
	fps        float64
	detections []detlog.Detection
}

// Len is the number of detections in the segment.
func (s Segment) Len() int { return len(s.detections) }

// FPS of the source the segment was cut from.
func (s Segment) FPS() float64 { return s.fps }

// Detections returns a copy of the member detections.
func (s Segment) Detections() []detlog.Detection {
	return slices.Clone(s.detections)
}

func (s Segment) FrameStart() int { return s.detections[0].Frame }
func (s Segment) FrameEnd() int   { return s.detections[len(s.detections)-1].Frame }

// FrameSpan is the number of frames from the first to the last detection, inclusive.
func (s Segment) FrameSpan() int { return s.FrameEnd() - s.FrameStart() + 1 }

func (s Segment) StartSeconds() float64 { return float64(s.FrameStart()) / s.fps }
func (s Segment) EndSeconds() float64   { return float64(s.FrameEnd()) / s.fps }

// Coverage is the bounding box over every detection in the segment.
func (s Segment) Coverage() geometry.Rect {
	cov := s.detections[0].Rect
	for _, d := range s.detections[1:] {
		cov = cov.Union(d.Rect)
	}
	return cov
}

// AvgCenter is the mean detection center, truncated to whole pixels.
func (s Segment) AvgCenter() geometry.Point {
	var x, y float64
	for _, d := range s.detections {
		c := d.Rect.Center()
		x += c.X
		y += c.Y
	}
	n := float64(len(s.detections))
	return geometry.Point{X: math.Trunc(x / n), Y: math.Trunc(y / n)}
}

// MeanCenterToTopLeft averages the center-to-corner offsets of the detections.
func (s Segment) MeanCenterToTopLeft() geometry.Point {
	return s.meanOffset(geometry.Rect.CenterToTopLeft)
}

// MeanCenterToBottomRight averages the center-to-corner offsets of the detections.
func (s Segment) MeanCenterToBottomRight() geometry.Point {
	return s.meanOffset(geometry.Rect.CenterToBottomRight)
}

func (s Segment) meanOffset(offset func(geometry.Rect) geometry.Point) geometry.Point {
	var x, y float64
	for _, d := range s.detections {
		p := offset(d.Rect)
		x += p.X
		y += p.Y
	}
	n := float64(len(s.detections))
	return geometry.Point{X: x / n, Y: y / n}
}

// EffectiveGap is the gap threshold actually applied: never less than one frame.
func EffectiveGap(maxGapSeconds, fps float64) float64 {
	return math.Max(maxGapSeconds, 1/fps)
}

// Group walks dets once and yields every run of at least MinDetections detections
// whose consecutive gaps are <= EffectiveGap. A gap exactly at the threshold does
// not split. dets must be ordered by frame (detlog.Log.Ordered).
//
// The sequence keeps no state between iterations; ranging over it twice yields
// the same segments. A non-positive or non-finite fps, or a non-finite maxGapSeconds,
// yields no segments.
func Group(dets []detlog.Detection, fps, maxGapSeconds float64) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		if len(dets) == 0 || !(fps > 0) || math.IsInf(fps, 0) ||
			math.IsNaN(maxGapSeconds) || math.IsInf(maxGapSeconds, 0) {
			return
		}
		threshold := EffectiveGap(maxGapSeconds, fps)

		start := 0
		for i := 1; i <= len(dets); i++ {
			if i < len(dets) && float64(dets[i].Frame-dets[i-1].Frame)/fps <= threshold {
				continue
			}
			// run [start, i) is closed
			if i-start >= MinDetections {
				seg := Segment{fps: fps, detections: slices.Clone(dets[start:i])}
				if !yield(seg) {
					return
				}
			}
			start = i
		}
	}
}

// Collect groups dets and returns the segments as a slice.
func Collect(dets []detlog.Detection, fps, maxGapSeconds float64) []Segment {
	return slices.Collect(Group(dets, fps, maxGapSeconds))
}

// FromLog groups a whole log using its header fps.
func FromLog(lg *detlog.Log, maxGapSeconds float64) iter.Seq[Segment] {
	return Group(lg.Detections, lg.Source.FPS, maxGapSeconds)
}
