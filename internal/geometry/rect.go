package geometry

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// ErrInvalidGeometry is returned for non-finite coordinates, inverted edges or unsupported scale factors.
var ErrInvalidGeometry = errors.New("invalid geometry")

// Rect is an axis-aligned box in pixel space. Coordinates stay floating point while
// transforms are applied and become integral once Round is called.
// Every transform returns a new Rect.
type Rect struct {
	XMin float64
	YMin float64
	XMax float64
	YMax float64
}

// Point is a 2D position or offset.
type Point struct {
	X float64
	Y float64
}

// Crop describes an ffmpeg crop: output size and top-left offset.
type Crop struct {
	Width  int
	Height int
	X      int
	Y      int
}

// New builds a Rect from its corners and validates it.
func New(xMin, yMin, xMax, yMax float64) (Rect, error) {
	r := Rect{XMin: xMin, YMin: yMin, XMax: xMax, YMax: yMax}
	if err := r.Validate(); err != nil {
		return Rect{}, err
	}
	return r, nil
}

// FromTRBL builds a Rect from the face-recognition ordering (top, right, bottom, left).
func FromTRBL(top, right, bottom, left float64) (Rect, error) {
	return New(left, top, right, bottom)
}

// Validate rejects non-finite coordinates and inverted edges.
func (r Rect) Validate() error {
	for _, v := range [4]float64{r.XMin, r.YMin, r.XMax, r.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrapf(ErrInvalidGeometry, "non-finite coordinate in %v", r)
		}
	}
	if r.XMin > r.XMax || r.YMin > r.YMax {
		return errors.Wrapf(ErrInvalidGeometry, "inverted rectangle %v", r)
	}
	return nil
}

func (r Rect) Width() float64  { return r.XMax - r.XMin }
func (r Rect) Height() float64 { return r.YMax - r.YMin }

// Center returns the midpoint of the box.
func (r Rect) Center() Point {
	return Point{
		X: (r.XMin + r.XMax) / 2,
		Y: (r.YMin + r.YMax) / 2,
	}
}

// CenterToTopLeft returns the offset from the center to the top-left corner (positive for a valid box).
func (r Rect) CenterToTopLeft() Point {
	c := r.Center()
	return Point{X: c.X - r.XMin, Y: c.Y - r.YMin}
}

// CenterToBottomRight returns the offset from the center to the bottom-right corner.
func (r Rect) CenterToBottomRight() Point {
	c := r.Center()
	return Point{X: r.XMax - c.X, Y: r.YMax - c.Y}
}

// ScaleFromCenter multiplies the half-width by wFactor and the half-height by hFactor,
// keeping the center fixed. A zero factor yields a degenerate box.
func (r Rect) ScaleFromCenter(wFactor, hFactor float64) (Rect, error) {
	for _, f := range [2]float64{wFactor, hFactor} {
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return Rect{}, errors.Wrapf(ErrInvalidGeometry, "scale factor %v", f)
		}
	}
	if err := r.Validate(); err != nil {
		return Rect{}, err
	}

	c := r.Center()
	tl := r.CenterToTopLeft()
	br := r.CenterToBottomRight()
	return Rect{
		XMin: c.X - tl.X*wFactor,
		YMin: c.Y - tl.Y*hFactor,
		XMax: c.X + br.X*wFactor,
		YMax: c.Y + br.Y*hFactor,
	}, nil
}

// ClipTo clamps the top-left corner to >= 0 and the bottom-right corner to the frame size.
// The opposite corners are left alone, so a box entirely outside the frame collapses
// to zero or negative size. Callers must check the result before using it.
func (r Rect) ClipTo(frameWidth, frameHeight float64) Rect {
	return Rect{
		XMin: math.Max(r.XMin, 0),
		YMin: math.Max(r.YMin, 0),
		XMax: math.Min(r.XMax, frameWidth),
		YMax: math.Min(r.YMax, frameHeight),
	}
}

// Round rounds every coordinate half-to-even.
func (r Rect) Round() Rect {
	return Rect{
		XMin: math.RoundToEven(r.XMin),
		YMin: math.RoundToEven(r.YMin),
		XMax: math.RoundToEven(r.XMax),
		YMax: math.RoundToEven(r.YMax),
	}
}

// Crop rounds the box and converts it to a crop descriptor. Width and height are
// taken from the rounded edges so they never drift from the offsets.
func (r Rect) Crop() Crop {
	rr := r.Round()
	return Crop{
		Width:  int(rr.XMax) - int(rr.XMin),
		Height: int(rr.YMax) - int(rr.YMin),
		X:      int(rr.XMin),
		Y:      int(rr.YMin),
	}
}

// Empty reports whether the box has no area.
func (r Rect) Empty() bool {
	return r.XMax <= r.XMin || r.YMax <= r.YMin
}

// Union returns the smallest box covering both r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		XMin: math.Min(r.XMin, o.XMin),
		YMin: math.Min(r.YMin, o.YMin),
		XMax: math.Max(r.XMax, o.XMax),
		YMax: math.Max(r.YMax, o.YMax),
	}
}

// Scale multiplies every coordinate by k. Used to map boxes found on a downscaled
// frame back to native resolution.
func (r Rect) Scale(k float64) Rect {
	return Rect{XMin: r.XMin * k, YMin: r.YMin * k, XMax: r.XMax * k, YMax: r.YMax * k}
}

// Filter returns the crop in ffmpeg filter syntax (w:h:x:y).
func (c Crop) Filter() string {
	return fmt.Sprintf("%d:%d:%d:%d", c.Width, c.Height, c.X, c.Y)
}

// Valid reports whether the crop has a positive area.
func (c Crop) Valid() bool {
	return c.Width > 0 && c.Height > 0
}
