package ffmpeg

import (
	"context"
	"os/exec"
)

// NewFrameDecoder returns an ffmpeg command that writes every frame of inputPath to
// stdout as concatenated JPEGs (split them with utils.SplitJpeg). A downscale factor
// above 1 shrinks frames before encoding.
func (e *Executor) NewFrameDecoder(ctx context.Context, inputPath string, downscale int) *exec.Cmd {
	args := []string{"-hide_banner", "-loglevel", "error", "-i", inputPath}
	if vf := NewFilterBuilder().Downscale(downscale).Build(); vf != "" {
		args = append(args, "-vf", vf)
	}
	// -vsync passthrough keeps the frame count equal to the source
	args = append(args, "-vsync", "passthrough", "-f", "image2pipe", "-vcodec", "mjpeg", "-")
	return exec.CommandContext(ctx, e.ffmpegPath, args...)
}
