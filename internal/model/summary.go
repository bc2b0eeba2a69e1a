package model

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// TopFeatures is how many importances the summary and logs report.
const TopFeatures = 10

// WriteSummary renders the human-readable metrics report.
func WriteSummary(w io.Writer, b *Bundle) error {
	var sb strings.Builder
	sb.WriteString("NYC Taxi Trip Duration Prediction Model\n")
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")
	fmt.Fprintf(&sb, "Run ID: %s\n", b.RunID)
	fmt.Fprintf(&sb, "Training Date: %s\n", b.TrainedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "Training Samples: %s\n", humanize.Comma(int64(b.TrainSamples)))
	fmt.Fprintf(&sb, "Test Samples: %s\n\n", humanize.Comma(int64(b.TestSamples)))
	sb.WriteString("METRICS:\n")
	fmt.Fprintf(&sb, "  Mean Absolute Error: %.2f minutes\n", b.Metrics.MAEMinutes)
	fmt.Fprintf(&sb, "  Root Mean Squared Error: %.2f minutes\n", b.Metrics.RMSEMinutes)
	fmt.Fprintf(&sb, "  R² Score: %.4f\n\n", b.Metrics.R2)
	sb.WriteString("TOP FEATURES:\n")
	for _, imp := range b.Importances[:min(TopFeatures, len(b.Importances))] {
		fmt.Fprintf(&sb, "  %s: %.4f\n", imp.Feature, imp.Importance)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// WriteSummaryFile writes the report to path, creating parent directories.
func WriteSummaryFile(path string, b *Bundle) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	if err := WriteSummary(f, b); err != nil {
		f.Close() //nolint:errcheck // write error takes precedence
		return fmt.Errorf("write metrics file: %w", err)
	}
	return f.Close()
}
