package reporting

import (
	"fmt"
	"io"

	json "github.com/json-iterator/go"

	"github.com/x402labs/paywall-verify/internal/verify"
)

var jsonAPI = json.ConfigCompatibleWithStandardLibrary

// jsonReporter writes one indented JSON document per run.
type jsonReporter struct {
	w io.WriteCloser
}

func (r *jsonReporter) Write(report *verify.Report) error {
	data, err := jsonAPI.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write json report: %w", err)
	}
	return nil
}

func (r *jsonReporter) Close() error { return r.w.Close() }
