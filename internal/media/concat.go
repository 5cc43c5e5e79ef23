// Package media merges rendered chunk files into the final video.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoInputs is returned when no chunk files are supplied.
var ErrNoInputs = errors.New("no input files provided")

// ConcatListName is the name of the concat demuxer list written next to the output.
const ConcatListName = "concat-list.txt"

// ConcatenationError reports a failed merge. Message is the merge tool's own
// diagnostic when one is available.
type ConcatenationError struct {
	Message string
	Err     error
}

func (e *ConcatenationError) Error() string {
	return "FFmpeg concatenation failed: " + e.Message
}

func (e *ConcatenationError) Unwrap() error {
	return e.Err
}

// Concatenator merges chunk files, in the given order, into one output file.
type Concatenator interface {
	// Concatenate joins inputs into output without re-encoding. All inputs
	// must share codec, resolution and frame rate.
	Concatenate(ctx context.Context, inputs []string, output string) error
}

// FFmpegConcatenator implements Concatenator with ffmpeg's concat demuxer
// and stream copy.
type FFmpegConcatenator struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// Compile-time check that FFmpegConcatenator implements Concatenator.
var _ Concatenator = (*FFmpegConcatenator)(nil)

// NewFFmpegConcatenator creates a new FFmpegConcatenator.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegConcatenator(ffmpegPath string) *FFmpegConcatenator {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegConcatenator{ffmpegPath: ffmpegPath}
}

// Concatenate writes a concat list beside output and runs a stream-copy merge.
// The list file is removed before returning.
func (c *FFmpegConcatenator) Concatenate(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return &ConcatenationError{Message: ErrNoInputs.Error(), Err: ErrNoInputs}
	}

	listFile := filepath.Join(filepath.Dir(output), ConcatListName)
	if err := writeConcatList(listFile, inputs); err != nil {
		return &ConcatenationError{Message: err.Error(), Err: err}
	}
	defer func() { _ = os.Remove(listFile) }()

	args := []string{
		"-y",           // Overwrite output file
		"-f", "concat", // Use concat demuxer
		"-safe", "0", // Allow absolute paths
		"-i", listFile, // Input file list
		"-c", "copy", // Copy streams without re-encoding
		"-movflags", "+faststart",
		output,
	}

	if err := runFFmpeg(ctx, c.ffmpegPath, args); err != nil {
		return &ConcatenationError{Message: toolMessage(err), Err: err}
	}
	return nil
}

// writeConcatList writes the file list in the format required by ffmpeg's
// concat demuxer.
func writeConcatList(listFile string, inputs []string) error {
	var b strings.Builder
	for _, path := range inputs {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("get absolute path for %s: %w", path, err)
		}
		escapedPath := strings.ReplaceAll(absPath, "'", "'\\''")
		fmt.Fprintf(&b, "file '%s'\n", escapedPath)
	}
	if err := os.WriteFile(listFile, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}

// toolMessage extracts the last non-empty stderr line from an ffmpeg failure.
func toolMessage(err error) string {
	var fe *FFmpegError
	if errors.As(err, &fe) {
		lines := strings.Split(strings.TrimSpace(fe.Stderr), "\n")
		for i := len(lines) - 1; i >= 0; i-- {
			if line := strings.TrimSpace(lines[i]); line != "" {
				return line
			}
		}
		return fe.Err.Error()
	}
	return err.Error()
}
