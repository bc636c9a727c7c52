package detlog

import (
	"bufio"
	"fmt"
	"io"
)

// Writer appends records in the detection log format.
type Writer struct {
	w           *bufio.Writer
	wroteHeader bool
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteHeader writes the fps/width/height line. FPS is truncated to an integer,
// which is what the log format stores.
func (w *Writer) WriteHeader(src FrameSource) error {
	if w.wroteHeader {
		return fmt.Errorf("header already written")
	}
	w.wroteHeader = true
	_, err := fmt.Fprintf(w.w, "%d\t%d\t%d\n", int(src.FPS), src.Width, src.Height)
	return err
}

// WriteDetection writes one "frame top right bottom left" line.
func (w *Writer) WriteDetection(d Detection) error {
	if !w.wroteHeader {
		return fmt.Errorf("detection written before header")
	}
	r := d.Rect.Round()
	_, err := fmt.Fprintf(w.w, "%d\t%d\t%d\t%d\t%d\n",
		d.Frame, int(r.YMin), int(r.XMax), int(r.YMax), int(r.XMin))
	return err
}

func (w *Writer) Flush() error {
	return w.w.Flush()
}
