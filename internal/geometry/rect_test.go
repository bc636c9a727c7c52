package geometry

import (
	"errors"
	"math"
	"testing"
)

const eps = 1e-9

func TestCenterAndOffsets(t *testing.T) {
	r := Rect{XMin: 50, YMin: 100, XMax: 200, YMax: 300}

	if c := r.Center(); c != (Point{X: 125, Y: 200}) {
		t.Errorf("Expected center {125 200}, got %v", c)
	}
	if tl := r.CenterToTopLeft(); tl != (Point{X: 75, Y: 100}) {
		t.Errorf("Expected top-left offset {75 100}, got %v", tl)
	}
	if br := r.CenterToBottomRight(); br != (Point{X: 75, Y: 100}) {
		t.Errorf("Expected bottom-right offset {75 100}, got %v", br)
	}
	if r.Width() != 150 || r.Height() != 200 {
		t.Errorf("Expected 150x200, got %vx%v", r.Width(), r.Height())
	}
}

func TestFromTRBL(t *testing.T) {
	r, err := FromTRBL(100, 200, 300, 50)
	if err != nil {
		t.Fatalf("FromTRBL failed: %v", err)
	}
	want := Rect{XMin: 50, YMin: 100, XMax: 200, YMax: 300}
	if r != want {
		t.Errorf("Expected %v, got %v", want, r)
	}

	// right < left
	if _, err := FromTRBL(100, 10, 300, 50); !errors.Is(err, ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry for inverted box, got %v", err)
	}
}

func TestValidateNonFinite(t *testing.T) {
	tests := []Rect{
		{XMin: math.NaN(), YMin: 0, XMax: 1, YMax: 1},
		{XMin: 0, YMin: 0, XMax: math.Inf(1), YMax: 1},
		{XMin: 0, YMin: math.Inf(-1), XMax: 1, YMax: 1},
	}
	for _, r := range tests {
		if err := r.Validate(); !errors.Is(err, ErrInvalidGeometry) {
			t.Errorf("Validate(%v) = %v, want ErrInvalidGeometry", r, err)
		}
	}
}

func TestScaleFromCenter(t *testing.T) {
	r := Rect{XMin: 10, YMin: 10, XMax: 100, YMax: 100}

	tests := []struct {
		name   string
		w, h   float64
		want   Rect
		wantOK bool
	}{
		{"Identity", 1, 1, r, true},
		{"Expand width only", 2, 1, Rect{XMin: -35, YMin: 10, XMax: 145, YMax: 100}, true},
		{"Shrink", 0.5, 0.5, Rect{XMin: 32.5, YMin: 32.5, XMax: 77.5, YMax: 77.5}, true},
		{"Degenerate", 0, 0, Rect{XMin: 55, YMin: 55, XMax: 55, YMax: 55}, true},
		{"Negative width factor", -1, 1, Rect{}, false},
		{"NaN height factor", 1, math.NaN(), Rect{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ScaleFromCenter(tt.w, tt.h)
			if !tt.wantOK {
				if !errors.Is(err, ErrInvalidGeometry) {
					t.Fatalf("Expected ErrInvalidGeometry, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ScaleFromCenter failed: %v", err)
			}
			if math.Abs(got.XMin-tt.want.XMin) > eps || math.Abs(got.YMin-tt.want.YMin) > eps ||
				math.Abs(got.XMax-tt.want.XMax) > eps || math.Abs(got.YMax-tt.want.YMax) > eps {
				t.Errorf("ScaleFromCenter(%v, %v) = %v, want %v", tt.w, tt.h, got, tt.want)
			}
			if c := got.Center(); math.Abs(c.X-55) > eps || math.Abs(c.Y-55) > eps {
				t.Errorf("Center moved to %v", c)
			}
		})
	}
}

func TestScaleDoesNotMutate(t *testing.T) {
	r := Rect{XMin: 10, YMin: 10, XMax: 100, YMax: 100}
	orig := r
	if _, err := r.ScaleFromCenter(3, 3); err != nil {
		t.Fatal(err)
	}
	_ = r.ClipTo(20, 20)
	_ = r.Round()
	if r != orig {
		t.Errorf("Receiver was mutated: %v", r)
	}
}

func TestClipToIsProjection(t *testing.T) {
	rects := []Rect{
		{XMin: -35, YMin: 10, XMax: 145, YMax: 100},
		{XMin: 10, YMin: 10, XMax: 20, YMax: 20},
		{XMin: 500, YMin: 500, XMax: 600, YMax: 600},
	}
	for _, r := range rects {
		once := r.ClipTo(80, 80)
		twice := once.ClipTo(80, 80)
		if once != twice {
			t.Errorf("ClipTo not idempotent for %v: %v then %v", r, once, twice)
		}
	}
}

func TestClipOutsideCollapses(t *testing.T) {
	r := Rect{XMin: 500, YMin: 500, XMax: 600, YMax: 600}.ClipTo(80, 80)
	if !r.Empty() {
		t.Errorf("Expected empty rectangle, got %v", r)
	}
	if r.Crop().Valid() {
		t.Errorf("Expected invalid crop, got %+v", r.Crop())
	}
}

func TestScaleClipRoundScenario(t *testing.T) {
	r := Rect{XMin: 10, YMin: 10, XMax: 100, YMax: 100}
	scaled, err := r.ScaleFromCenter(2, 1)
	if err != nil {
		t.Fatal(err)
	}
	got := scaled.ClipTo(80, 80).Round()
	want := Rect{XMin: 0, YMin: 10, XMax: 80, YMax: 80}
	if got != want {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestRoundHalfToEven(t *testing.T) {
	r := Rect{XMin: 0.5, YMin: 1.5, XMax: 2.5, YMax: 3.4999}.Round()
	want := Rect{XMin: 0, YMin: 2, XMax: 2, YMax: 3}
	if r != want {
		t.Errorf("Expected %v, got %v", want, r)
	}
}

func TestCropUsesRoundedEdges(t *testing.T) {
	// Rounding the raw width (11.0) would give 11, the rounded edges give 12.
	r := Rect{XMin: 0.5, YMin: 0.5, XMax: 11.5, YMax: 10.4}
	c := r.Crop()
	// XMin -> 0, XMax -> 12, YMin -> 0, YMax -> 10
	want := Crop{Width: 12, Height: 10, X: 0, Y: 0}
	if c != want {
		t.Errorf("Expected %+v, got %+v", want, c)
	}
	if c.Filter() != "12:10:0:0" {
		t.Errorf("Unexpected filter string %q", c.Filter())
	}
}

func TestUnionAndScale(t *testing.T) {
	a := Rect{XMin: 0, YMin: 5, XMax: 10, YMax: 10}
	b := Rect{XMin: 3, YMin: 0, XMax: 20, YMax: 8}
	if u := a.Union(b); u != (Rect{XMin: 0, YMin: 0, XMax: 20, YMax: 10}) {
		t.Errorf("Unexpected union %v", u)
	}
	if s := a.Scale(4); s != (Rect{XMin: 0, YMin: 20, XMax: 40, YMax: 40}) {
		t.Errorf("Unexpected scale %v", s)
	}
}
