// Package worker drives the python face matcher (python/matcher.py by default).
//
// The process is started as
//
//	python3 -u <script> --refs <dir> --tolerance <float>
//
// Each request is written to its stdin as [uint32 BE length][jpeg bytes]. Each
// reply is read from FD 3 as [uint32 BE length][payload], where payload is
//
//	0x00 [uint32 count] count x [int32 top, right, bottom, left]
//	0x01 [uint32 msgLen] [msg]
//
// Integers are big-endian. Boxes are in the pixel coordinates of the frame sent.
package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/andresmejia3/cameo/internal/geometry"
	"github.com/andresmejia3/cameo/internal/utils" // Using the SafeCommand wrapper
)

// DefaultScript is the matcher shipped in the repository, relative to its root.
const DefaultScript = "python/matcher.py"

// Status bytes sent by the python side
const (
	statusOK    = 0
	statusError = 1
)

// Config describes how to launch the matcher process.
type Config struct {
	Python    string  // interpreter, default python3
	Script    string  // default python/matcher.py
	RefsDir   string  // directory of reference photos of the person to find
	Tolerance float64 // face distance threshold, lower is stricter
}

// MatchWorker talks to a python face matcher over stdin (requests) and FD 3 (responses).
type MatchWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

func NewMatchWorker(ctx context.Context, id int, cfg Config) (*MatchWorker, error) {
	python := cfg.Python
	if python == "" {
		python = "python3"
	}
	script := cfg.Script
	if script == "" {
		script = DefaultScript
	}
	if cfg.RefsDir == "" {
		return nil, fmt.Errorf("worker %d: reference directory is required", id)
	}

	py := utils.NewSafeCommand(ctx, python, "-u", script,
		"--refs", cfg.RefsDir,
		"--tolerance", strconv.FormatFloat(cfg.Tolerance, 'f', -1, 64))

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &MatchWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one length-prefixed message and reads one length-prefixed reply.
func (w *MatchWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch an import crash on the python side
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// Match sends a JPEG frame and returns the boxes of faces that match the reference person,
// in the coordinates of the frame it was given.
func (w *MatchWorker) Match(frame []byte) ([]geometry.Rect, error) {
	resp, err := w.Communicate(frame)
	if err != nil {
		return nil, err
	}
	return decodeMatches(resp)
}

// decodeMatches parses [status] then either [count][count x top,right,bottom,left int32]
// or [msgLen][msg].
func decodeMatches(resp []byte) ([]geometry.Rect, error) {
	r := bytes.NewReader(resp)
	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty worker response")
	}

	switch status {
	case statusOK:
		var count uint32
		if err := binary.Read(r, binary.BigEndian, &count); err != nil {
			return nil, fmt.Errorf("failed to read face count: %w", err)
		}
		// each box is 16 bytes, refuse counts the payload cannot hold
		if int64(count)*16 > int64(r.Len()) {
			return nil, fmt.Errorf("worker reported %d faces in a %d byte payload", count, r.Len())
		}
		rects := make([]geometry.Rect, 0, count)
		for i := uint32(0); i < count; i++ {
			var box [4]int32
			if err := binary.Read(r, binary.BigEndian, &box); err != nil {
				return nil, fmt.Errorf("failed to read face %d: %w", i, err)
			}
			rect, err := geometry.FromTRBL(float64(box[0]), float64(box[1]), float64(box[2]), float64(box[3]))
			if err != nil {
				return nil, fmt.Errorf("face %d: %w", i, err)
			}
			rects = append(rects, rect)
		}
		return rects, nil

	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("failed to read error length: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("failed to read error message: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)

	default:
		return nil, fmt.Errorf("unknown worker status %d", status)
	}
}

func (w *MatchWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
