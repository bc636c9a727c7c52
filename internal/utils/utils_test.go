package utils

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	jpegA := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}
	jpegB := []byte{0xFF, 0xD8, 0x04, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, jpegA...)
	streamData = append(streamData, jpegB...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	var got [][]byte
	for scanner.Scan() {
		got = append(got, bytes.Clone(scanner.Bytes()))
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Unexpected scanner error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(got))
	}
	if !bytes.Equal(got[0], jpegA) || !bytes.Equal(got[1], jpegB) {
		t.Errorf("Unexpected frames %X", got)
	}
}

func TestSplitJpegTruncated(t *testing.T) {
	scanner := bufio.NewScanner(bytes.NewReader([]byte{0xFF, 0xD8, 0x01}))
	scanner.Split(SplitJpeg)

	if scanner.Scan() {
		t.Error("Expected no token from a truncated frame")
	}
	if scanner.Err() == nil {
		t.Error("Expected an error for a truncated frame")
	}
}

func TestShowError(t *testing.T) {
	s := NewSafeCommand(context.Background(), "true")
	s.Stderr.WriteString("Traceback: boom")

	var buf bytes.Buffer
	ShowError(&buf, "worker crashed", errors.New("exit status 1"), s)

	out := buf.String()
	for _, want := range []string{"worker crashed", "exit status 1", "Traceback: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}

func TestGenerateVideoID(t *testing.T) {
	// Integration test using the OS filesystem
	tmp, err := os.CreateTemp("", "video_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write([]byte("fake video content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := GenerateVideoID(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	// Verify Determinism
	id2, _ := GenerateVideoID(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := GenerateVideoID(tmp.Name())
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}
}
