package ffmpeg

import (
	"fmt"
	"strings"
)

// FilterBuilder assembles a -vf filter chain.
type FilterBuilder struct {
	filters []string
}

func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{
		filters: make([]string, 0, 2),
	}
}

// Crop adds a crop filter. Non-positive sizes are ignored so chaining can continue.
func (fb *FilterBuilder) Crop(width, height, x, y int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("crop=%d:%d:%d:%d", width, height, x, y))
	return fb
}

// Scale adds a scale filter
func (fb *FilterBuilder) Scale(width, height int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("scale=%d:%d", width, height))
	return fb
}

// Downscale divides both dimensions by factor, for cheaper face matching.
func (fb *FilterBuilder) Downscale(factor int) *FilterBuilder {
	if factor <= 1 {
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("scale=iw/%d:ih/%d", factor, factor))
	return fb
}

// Build returns the chain joined with commas
func (fb *FilterBuilder) Build() string {
	return strings.Join(fb.filters, ",")
}
