package recorder

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/andresmejia3/cameo/internal/detlog"
	"github.com/andresmejia3/cameo/internal/geometry"
	"github.com/rs/zerolog"
)

// fakeMatcher reports a hit on the frames listed in hits. Frames carry their index as
// the single payload byte between the JPEG markers.
type fakeMatcher struct {
	hits  map[int]geometry.Rect
	seen  []int
	err   error
	errAt int
}

func (f *fakeMatcher) Match(frame []byte) ([]geometry.Rect, error) {
	idx := int(frame[2])
	f.seen = append(f.seen, idx)
	if f.err != nil && idx == f.errAt {
		return nil, f.err
	}
	if r, ok := f.hits[idx]; ok {
		return []geometry.Rect{r}, nil
	}
	return nil, nil
}

func jpegStream(n int) *bytes.Reader {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		buf.Write([]byte{0xFF, 0xD8, byte(i), 0xFF, 0xD9})
	}
	return bytes.NewReader(buf.Bytes())
}

var src = detlog.FrameSource{FPS: 25, Width: 400, Height: 300}

func TestRecordStride(t *testing.T) {
	small := geometry.Rect{XMin: 10, YMin: 10, XMax: 20, YMax: 20}
	m := &fakeMatcher{hits: map[int]geometry.Rect{2: small, 3: small}}
	r := &Recorder{MissStride: 2, Logger: zerolog.Nop()}

	var out bytes.Buffer
	stats, err := r.Record(context.Background(), jpegStream(10), src, m, detlog.NewWriter(&out))
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// miss on 0 jumps to 2, hits on 2 and 3 check the next frame, then misses stride by 2
	want := []int{0, 2, 3, 4, 6, 8}
	if len(m.seen) != len(want) {
		t.Fatalf("Expected frames %v, got %v", want, m.seen)
	}
	for i := range want {
		if m.seen[i] != want[i] {
			t.Fatalf("Expected frames %v, got %v", want, m.seen)
		}
	}
	if stats.Frames != 10 || stats.Matched != 6 || stats.Hits != 2 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestRecordSkipsLeadingFrames(t *testing.T) {
	m := &fakeMatcher{}
	r := &Recorder{SkipFrames: 5, MissStride: 1, Logger: zerolog.Nop()}

	if _, err := r.Record(context.Background(), jpegStream(8), src, m, detlog.NewWriter(&bytes.Buffer{})); err != nil {
		t.Fatal(err)
	}
	if len(m.seen) != 3 || m.seen[0] != 5 {
		t.Errorf("Expected frames 5-7 to be matched, got %v", m.seen)
	}
}

func TestRecordUpscalesAndClips(t *testing.T) {
	// 4x downscaled box that runs off the right edge once scaled back
	m := &fakeMatcher{hits: map[int]geometry.Rect{
		0: {XMin: 90, YMin: 10, XMax: 110, YMax: 30},
		1: {XMin: 10, YMin: 10, XMax: 20, YMax: 20},
	}}
	r := &Recorder{Downscale: 4, Logger: zerolog.Nop()}

	var out bytes.Buffer
	if _, err := r.Record(context.Background(), jpegStream(2), src, m, detlog.NewWriter(&out)); err != nil {
		t.Fatal(err)
	}

	lg, err := detlog.Parse(strings.NewReader(out.String()))
	if err != nil {
		t.Fatalf("Recorded log does not parse: %v\n%s", err, out.String())
	}
	if lg.Source != src {
		t.Errorf("Expected header %+v, got %+v", src, lg.Source)
	}
	if len(lg.Detections) != 2 {
		t.Fatalf("Expected 2 detections, got %d", len(lg.Detections))
	}
	wantFirst := geometry.Rect{XMin: 360, YMin: 40, XMax: 400, YMax: 120}
	if lg.Detections[0].Rect != wantFirst {
		t.Errorf("Expected %v, got %v", wantFirst, lg.Detections[0].Rect)
	}
	if lg.Detections[1].Frame != 1 || lg.Detections[1].Rect.XMax != 80 {
		t.Errorf("Unexpected second detection %+v", lg.Detections[1])
	}
}

func TestRecordIgnoresMatchesOutsideFrame(t *testing.T) {
	m := &fakeMatcher{hits: map[int]geometry.Rect{0: {XMin: 500, YMin: 10, XMax: 600, YMax: 30}}}
	r := &Recorder{Logger: zerolog.Nop()}

	stats, err := r.Record(context.Background(), jpegStream(1), src, m, detlog.NewWriter(&bytes.Buffer{}))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Hits != 0 {
		t.Errorf("Expected no hits, got %d", stats.Hits)
	}
}

func TestRecordMatcherErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	m := &fakeMatcher{err: boom, errAt: 1}
	r := &Recorder{MissStride: 1, Logger: zerolog.Nop()}

	_, err := r.Record(context.Background(), jpegStream(5), src, m, detlog.NewWriter(&bytes.Buffer{}))
	if !errors.Is(err, boom) {
		t.Fatalf("Expected matcher error, got %v", err)
	}
	if len(m.seen) != 2 {
		t.Errorf("Expected recording to stop at frame 1, saw %v", m.seen)
	}
}

func TestRecordHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &Recorder{Logger: zerolog.Nop()}
	_, err := r.Record(ctx, jpegStream(3), src, &fakeMatcher{}, detlog.NewWriter(&bytes.Buffer{}))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestRecordProgressHook(t *testing.T) {
	calls := 0
	r := &Recorder{SkipFrames: 100, OnFrame: func() { calls++ }, Logger: zerolog.Nop()}
	if _, err := r.Record(context.Background(), jpegStream(4), src, &fakeMatcher{}, detlog.NewWriter(&bytes.Buffer{})); err != nil {
		t.Fatal(err)
	}
	if calls != 4 {
		t.Errorf("Expected 4 progress calls, got %d", calls)
	}
}
