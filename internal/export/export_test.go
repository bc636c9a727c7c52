package export

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/cameo/internal/detlog"
	"github.com/andresmejia3/cameo/internal/geometry"
	"github.com/rs/zerolog"
)

func testLog(rect geometry.Rect, frames ...int) *detlog.Log {
	lg := &detlog.Log{
		Path:   "/videos/show.tsv",
		Source: detlog.FrameSource{FPS: 30, Width: 1920, Height: 1080},
	}
	for _, f := range frames {
		lg.Detections = append(lg.Detections, detlog.Detection{Frame: f, Rect: rect})
	}
	return lg
}

var face = geometry.Rect{XMin: 50, YMin: 100, XMax: 200, YMax: 300}

func TestPlanSingleRequest(t *testing.T) {
	p := &Planner{OutputDir: "/out", Logger: zerolog.Nop()}
	v := Variants{Gaps: []float64{0.2}, Scales: []ScalePair{{W: 1, H: 1}}, Pads: []float64{0.5}}

	plan, err := p.Plan("/videos/show.mkv", testLog(face, 10, 11, 12), v)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(plan.Requests) != 1 {
		t.Fatalf("Expected 1 request, got %d", len(plan.Requests))
	}
	req := plan.Requests[0]

	if req.Crop != (geometry.Crop{Width: 150, Height: 200, X: 50, Y: 100}) {
		t.Errorf("Unexpected crop %+v", req.Crop)
	}
	// 3 frames plus 15 pad frames each side
	if req.FrameCount != 33 {
		t.Errorf("Expected 33 frames, got %d", req.FrameCount)
	}
	if math.Abs(req.Seek-(10.0/30-0.5)) > 1e-9 {
		t.Errorf("Unexpected seek %v", req.Seek)
	}
	if math.Abs(req.Duration-1.1) > 1e-9 {
		t.Errorf("Expected duration 1.1s, got %v", req.Duration)
	}
	if req.Rescale != nil {
		t.Errorf("Expected no rescale for a small crop, got %+v", req.Rescale)
	}

	fp := Fingerprint("/videos/show.mkv", req.Crop, 10, 12, DefaultFingerprintLen)
	want := filepath.Join("/out", "00000a_33_"+fp+".mp4")
	if req.Output != want {
		t.Errorf("Expected output %q, got %q", want, req.Output)
	}
	if plan.Segments[0.2] != 1 {
		t.Errorf("Expected 1 segment for gap 0.2, got %d", plan.Segments[0.2])
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	p := &Planner{OutputDir: "/out", Logger: zerolog.Nop()}
	v := Variants{
		Gaps:   []float64{0.2, 1},
		Scales: []ScalePair{{W: 1, H: 1}, {W: 1.5, H: 2}},
		Pads:   []float64{0, 1},
	}
	lg := testLog(face, 10, 11, 12, 40, 41, 90, 91, 92)

	a, err := p.Plan("/videos/show.mkv", lg, v)
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Plan("/videos/show.mkv", lg, v)
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Requests) != len(b.Requests) {
		t.Fatalf("Request counts differ: %d vs %d", len(a.Requests), len(b.Requests))
	}
	for i := range a.Requests {
		if a.Requests[i].Output != b.Requests[i].Output {
			t.Errorf("Output %d differs: %s vs %s", i, a.Requests[i].Output, b.Requests[i].Output)
		}
	}
}

func TestPlanDeduplicatesIdenticalRequests(t *testing.T) {
	p := &Planner{Logger: zerolog.Nop()}
	// both gaps produce the same single segment
	v := Variants{Gaps: []float64{0.2, 0.5}, Scales: []ScalePair{{W: 1, H: 1}}, Pads: []float64{0}}

	plan, err := p.Plan("a.mp4", testLog(face, 10, 11, 12), v)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Requests) != 1 || plan.Duplicates != 1 {
		t.Errorf("Expected 1 request and 1 duplicate, got %d and %d", len(plan.Requests), plan.Duplicates)
	}
}

func TestPlanDisambiguatesCollisions(t *testing.T) {
	// a single hex char leaves 16 fingerprints for 17 distinct crops
	p := &Planner{FingerprintLen: 1, Logger: zerolog.Nop()}
	var scales []ScalePair
	for i := 0; i < 17; i++ {
		scales = append(scales, ScalePair{W: 1 + float64(i)*0.1, H: 1})
	}
	v := Variants{Gaps: []float64{0.2}, Scales: scales, Pads: []float64{0}}
	rect := geometry.Rect{XMin: 800, YMin: 100, XMax: 1000, YMax: 300}

	plan, err := p.Plan("a.mp4", testLog(rect, 10, 11, 12), v)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Requests) != 17 {
		t.Fatalf("Expected 17 requests, got %d", len(plan.Requests))
	}
	if plan.Collisions == 0 {
		t.Error("Expected at least one collision")
	}
	outputs := make(map[string]bool)
	for _, r := range plan.Requests {
		if outputs[r.Output] {
			t.Fatalf("Output %s assigned twice", r.Output)
		}
		outputs[r.Output] = true
	}
}

func TestPlanSkipsCollapsedCrops(t *testing.T) {
	p := &Planner{Logger: zerolog.Nop()}
	v := Variants{Gaps: []float64{1}, Scales: []ScalePair{{W: 0, H: 0}, {W: 1, H: 1}}, Pads: []float64{0}}

	plan, err := p.Plan("a.mp4", testLog(face, 1, 2), v)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Skipped != 1 || len(plan.Requests) != 1 {
		t.Errorf("Expected 1 skipped and 1 request, got %d and %d", plan.Skipped, len(plan.Requests))
	}
}

func TestPlanRejectsBadInput(t *testing.T) {
	p := &Planner{Logger: zerolog.Nop()}

	bad := Variants{Gaps: []float64{1}, Scales: []ScalePair{{W: -1, H: 1}}, Pads: []float64{0}}
	if _, err := p.Plan("a.mp4", testLog(face, 1, 2), bad); !errors.Is(err, geometry.ErrInvalidGeometry) {
		t.Errorf("Expected ErrInvalidGeometry, got %v", err)
	}

	empty := Variants{Gaps: []float64{1}, Pads: []float64{0}}
	if _, err := p.Plan("a.mp4", testLog(face, 1, 2), empty); err == nil {
		t.Error("Expected error for empty scale list")
	}

	good := Variants{Gaps: []float64{1}, Scales: []ScalePair{{W: 1, H: 1}}, Pads: []float64{0}}
	if _, err := p.Plan("a.mp4", testLog(face, 5, 2), good); !errors.Is(err, ErrUnorderedLog) {
		t.Errorf("Expected ErrUnorderedLog, got %v", err)
	}
}

func TestPlanEmptyLog(t *testing.T) {
	p := &Planner{Logger: zerolog.Nop()}
	v := Variants{Gaps: []float64{1}, Scales: []ScalePair{{W: 1, H: 1}}, Pads: []float64{0}}
	plan, err := p.Plan("a.mp4", testLog(face), v)
	if err != nil {
		t.Fatalf("Empty log should not fail: %v", err)
	}
	if len(plan.Requests) != 0 {
		t.Errorf("Expected no requests, got %d", len(plan.Requests))
	}
}

func TestRescale(t *testing.T) {
	tests := []struct {
		crop geometry.Crop
		want *Size
	}{
		{geometry.Crop{Width: 640, Height: 480}, nil},
		{geometry.Crop{Width: 800, Height: 400}, nil},
		{geometry.Crop{Width: 1200, Height: 600}, &Size{Width: 800, Height: 400}},
		{geometry.Crop{Width: 1000, Height: 333}, &Size{Width: 800, Height: 266}},
		{geometry.Crop{Width: 300, Height: 1600}, &Size{Width: 150, Height: 800}},
	}
	for _, tt := range tests {
		got := rescale(tt.crop, 800)
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Errorf("rescale(%+v) = %+v, want %+v", tt.crop, got, tt.want)
		}
	}
}

func TestFingerprintStable(t *testing.T) {
	c := geometry.Crop{Width: 10, Height: 20}
	a := Fingerprint("x.mp4", c, 1, 5, 8)
	if a != Fingerprint("x.mp4", c, 1, 5, 8) {
		t.Error("Fingerprint is not deterministic")
	}
	if len(a) != 8 {
		t.Errorf("Expected 8 chars, got %d", len(a))
	}
	if a == Fingerprint("x.mp4", c, 1, 6, 8) {
		t.Error("Fingerprint ignores the frame range")
	}
}
