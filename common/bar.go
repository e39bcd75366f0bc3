package common

import (
	"fmt"
	"io"
	"strings"
)

const barWidth = 50 // characters

// ProgressBar redraws a single-line bar on out.
func ProgressBar(out io.Writer, currentSize, totalSize int64) {
	currentMB := float64(currentSize) / (1024 * 1024)
	// size unknown, only show how much arrived
	if totalSize <= 0 {
		fmt.Fprintf(out, "\r%.2f MB", currentMB)
		return
	}

	// percentage, capped in case the server sends more than announced
	percent := float64(currentSize) / float64(totalSize) * 100
	if percent > 100 {
		percent = 100
	}
	// filled part of the bar
	filled := int(float64(barWidth) * percent / 100)
	bar := strings.Repeat("█", filled) + strings.Repeat("-", barWidth-filled)
	totalMB := float64(totalSize) / (1024 * 1024)

	// \r redraws the same line
	fmt.Fprintf(out, "\r[%s] %.2f%% (%.2f/%.2f MB)", bar, percent, currentMB, totalMB)
	// finished, move to a new line
	if currentSize >= totalSize {
		fmt.Fprintln(out)
	}
}

// ProgressWriter forwards writes to W and redraws the bar after each one.
type ProgressWriter struct {
	W     io.Writer
	Out   io.Writer // nil disables the bar
	Total int64

	written int64
}

func (p *ProgressWriter) Write(b []byte) (int, error) {
	n, err := p.W.Write(b)
	p.written += int64(n)
	if p.Out != nil {
		ProgressBar(p.Out, p.written, p.Total)
	}
	return n, err
}

// Written is the number of bytes passed through so far.
func (p *ProgressWriter) Written() int64 {
	return p.written
}
