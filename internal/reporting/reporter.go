// Package reporting renders verification reports as text, JSON or JUnit XML.
package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/x402labs/paywall-verify/internal/verify"
)

// Supported formats.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	FormatJUnit = "junit"
)

// Reporter defines the interface for writing run reports to an output.
type Reporter interface {
	// Write records a single run.
	Write(report *verify.Report) error
	// Close finalizes the output and closes any underlying file.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for format. An empty outputPath or "stdout" writes
// to standard output.
func New(format, outputPath string) (Reporter, error) {
	switch format {
	case FormatText, FormatJSON, FormatJUnit:
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}
	return NewWithWriter(format, writer)
}

// NewWithWriter creates a reporter that takes ownership of w.
func NewWithWriter(format string, w io.WriteCloser) (Reporter, error) {
	switch format {
	case FormatText:
		return &textReporter{w: w}, nil
	case FormatJSON:
		return &jsonReporter{w: w}, nil
	case FormatJUnit:
		return newJUnitReporter(w), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
