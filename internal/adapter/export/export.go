package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"annotator/internal/port"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

const (
	FormatJSON  = "json"
	FormatCSV   = "csv"
	FormatCoNLL = "conll"
)

// Formats lists the accepted format names.
var Formats = []string{FormatJSON, FormatCSV, FormatCoNLL}

type Options struct {
	// IncludeMetadata adds model, run statistics and export time to JSON output.
	IncludeMetadata bool
	// Now stamps exports. Defaults to time.Now.
	Now func() time.Time
}

// New returns the exporter for format.
func New(format string, opts Options) (port.Exporter, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON:
		return &JSONExporter{opts: opts}, nil
	case FormatCSV:
		return &CSVExporter{}, nil
	case FormatCoNLL:
		return &CoNLLExporter{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
}
