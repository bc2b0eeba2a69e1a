package model

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
	"github.com/klauspost/compress/zstd"
)

// SchemaVersion identifies the bundle layout. Bump it on any incompatible
// change so existing scorers refuse bundles they cannot read.
const SchemaVersion = 1

// Bundle is the persisted training output: the forest, the ordered feature
// list it expects, holdout metrics and the importance ranking.
type Bundle struct {
	SchemaVersion int          `json:"schema_version"`
	RunID         string       `json:"run_id"`
	TrainedAt     time.Time    `json:"trained_at"`
	Features      []string     `json:"features"`
	FillValues    []float64    `json:"fill_values"` // per-feature medians used for missing values
	TrainSamples  int          `json:"train_samples"`
	TestSamples   int          `json:"test_samples"`
	Metrics       Metrics      `json:"metrics"`
	Importances   []Importance `json:"feature_importance"`
	Forest        *Forest      `json:"model"`
}

// Predict scores one trip with the bundled forest. Missing feature values
// take the training fill values.
func (b *Bundle) Predict(t domain.EnrichedTrip) float64 {
	x := make([]float64, len(b.Features))
	for i, f := range b.Features {
		x[i] = featureValue(&t, f)
		if !finite(x[i]) && i < len(b.FillValues) {
			x[i] = b.FillValues[i]
		}
	}
	return b.Forest.Predict(x)
}

// Save writes the bundle as zstd-compressed JSON. The file is written to a
// temporary name and renamed so readers never observe a partial bundle.
func (b *Bundle) Save(path string) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create model file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()           //nolint:errcheck // already failing
			os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
		}
	}()

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(b); err != nil {
		enc.Close() //nolint:errcheck // encode error takes precedence
		return fmt.Errorf("encode model bundle: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush model bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close model file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install model file: %w", err)
	}
	return nil
}

// LoadBundle reads a bundle written by Save. Bundles with a different schema
// version fail with domain.ErrArtifactVersion.
func LoadBundle(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model bundle: %w", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	var b Bundle
	if err := json.NewDecoder(dec).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode model bundle: %w", err)
	}
	if b.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", domain.ErrArtifactVersion, b.SchemaVersion, SchemaVersion)
	}
	if b.Forest == nil || len(b.Forest.Trees) == 0 {
		return nil, fmt.Errorf("decode model bundle: no trees")
	}
	return &b, nil
}
