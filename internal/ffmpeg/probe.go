package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// VideoInfo is the subset of ffprobe output the recorder needs.
type VideoInfo struct {
	Path   string
	Width  int
	Height int
	FPS    float64
	Frames int // 0 when the container does not say
}

// Probe reads the first video stream's size, frame rate and frame count.
func (e *Executor) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required")
	}

	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,nb_frames",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(path, out)
}

type probeResult struct {
	Streams []struct {
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		NbFrames   string `json:"nb_frames"`
	} `json:"streams"`
}

func parseProbe(path string, out []byte) (*VideoInfo, error) {
	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(res.Streams) == 0 {
		return nil, fmt.Errorf("no video stream in %s", path)
	}

	s := res.Streams[0]
	info := &VideoInfo{
		Path:   path,
		Width:  s.Width,
		Height: s.Height,
		FPS:    ParseFrameRate(s.RFrameRate),
	}
	// "N/A" for some containers
	if n, err := strconv.Atoi(s.NbFrames); err == nil {
		info.Frames = n
	}
	if info.Width <= 0 || info.Height <= 0 || info.FPS <= 0 {
		return nil, fmt.Errorf("incomplete stream metadata for %s: %dx%d @ %v fps", path, info.Width, info.Height, info.FPS)
	}
	return info, nil
}

// ParseFrameRate parses frame rate from ffprobe format (e.g., "30000/1001")
func ParseFrameRate(s string) float64 {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return v
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
