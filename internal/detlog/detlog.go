// Package detlog reads and writes the tab-separated detection log shared by the
// recorder and the segment aggregator.
//
// Line 1 holds "fps width height". Every following line holds
// "frame top right bottom left" for one matched frame, in native-resolution pixels.
package detlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresmejia3/cameo/internal/geometry"
	"github.com/pkg/errors"
)

// ErrMalformedLog matches every *MalformedLogError via errors.Is.
var ErrMalformedLog = errors.New("malformed detection log")

// MalformedLogError reports the offending file and 1-based line number.
type MalformedLogError struct {
	Path string
	Line int
	Err  error
}

func (e *MalformedLogError) Error() string {
	path := e.Path
	if path == "" {
		path = "<stream>"
	}
	return fmt.Sprintf("%s:%d: %v: %v", path, e.Line, ErrMalformedLog, e.Err)
}

func (e *MalformedLogError) Unwrap() error { return e.Err }

func (e *MalformedLogError) Is(target error) bool { return target == ErrMalformedLog }

// FrameSource is the video metadata stored in the log header.
type FrameSource struct {
	FPS    float64
	Width  int
	Height int
}

// FrameDuration is the length of one frame in seconds.
func (s FrameSource) FrameDuration() float64 {
	return 1 / s.FPS
}

// Detection is a single matched face on one frame.
type Detection struct {
	Frame int
	Rect  geometry.Rect
}

// Log is a parsed detection log. Detections keep file order.
type Log struct {
	Path       string
	Source     FrameSource
	Detections []Detection
}

// Load opens and parses the log at path.
func Load(path string) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open detection log")
	}
	defer f.Close()

	lg, err := parse(f, path)
	if err != nil {
		return nil, err
	}
	lg.Path = path
	return lg, nil
}

// Parse reads a log from r. Blank lines are ignored anywhere in the stream.
// Detections are not re-sorted; see Ordered.
func Parse(r io.Reader) (*Log, error) {
	return parse(r, "")
}

func parse(r io.Reader, path string) (*Log, error) {
	scanner := bufio.NewScanner(r)
	lg := &Log{}
	headerSeen := false
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !headerSeen {
			src, err := parseHeader(line)
			if err != nil {
				return nil, &MalformedLogError{Path: path, Line: lineNo, Err: err}
			}
			lg.Source = src
			headerSeen = true
			continue
		}

		d, err := parseDetection(line)
		if err != nil {
			return nil, &MalformedLogError{Path: path, Line: lineNo, Err: err}
		}
		lg.Detections = append(lg.Detections, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read detection log")
	}
	if !headerSeen {
		return nil, &MalformedLogError{Path: path, Line: lineNo + 1, Err: errors.New("missing header")}
	}
	return lg, nil
}

func parseHeader(line string) (FrameSource, error) {
	v, err := readInts(line, 3)
	if err != nil {
		return FrameSource{}, errors.Wrap(err, "header")
	}
	if v[0] <= 0 || v[1] <= 0 || v[2] <= 0 {
		return FrameSource{}, errors.Errorf("header values must be positive, got %v", v)
	}
	return FrameSource{FPS: float64(v[0]), Width: v[1], Height: v[2]}, nil
}

func parseDetection(line string) (Detection, error) {
	v, err := readInts(line, 5)
	if err != nil {
		return Detection{}, errors.Wrap(err, "detection")
	}
	if v[0] < 0 {
		return Detection{}, errors.Errorf("negative frame index %d", v[0])
	}
	// Column order is top, right, bottom, left.
	rect, err := geometry.FromTRBL(float64(v[1]), float64(v[2]), float64(v[3]), float64(v[4]))
	if err != nil {
		return Detection{}, errors.Wrapf(err, "frame %d", v[0])
	}
	return Detection{Frame: v[0], Rect: rect}, nil
}

func readInts(line string, n int) ([]int, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != n {
		return nil, errors.Errorf("expected %d tab-separated integers, got %d fields", n, len(fields))
	}
	out := make([]int, n)
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, errors.Wrapf(err, "field %d", i+1)
		}
		out[i] = v
	}
	return out, nil
}

// Ordered reports whether frame indices strictly increase. Grouping relies on it.
func (l *Log) Ordered() bool {
	for i := 1; i < len(l.Detections); i++ {
		if l.Detections[i].Frame <= l.Detections[i-1].Frame {
			return false
		}
	}
	return true
}

// Sibling returns the first existing log next to videoPath with one of the given
// extensions (".tsv" or "tsv"), or "" when none exists.
func Sibling(videoPath string, exts []string) string {
	base := strings.TrimSuffix(videoPath, filepath.Ext(videoPath))
	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		candidate := base + ext
		if candidate == videoPath {
			continue
		}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}
