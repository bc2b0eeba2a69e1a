package domain

import "errors"

// Error kinds surfaced by pipeline stages. All are fatal to the stage that
// returns them; callers match with errors.Is.
var (
	// ErrSchema reports a missing required column or an unparseable value.
	ErrSchema = errors.New("schema error")

	// ErrDataQualityExhausted reports that filtering removed every record.
	ErrDataQualityExhausted = errors.New("data quality filters removed all records")

	// ErrWeatherFetch reports a network, timeout, or non-2xx failure from the weather source.
	ErrWeatherFetch = errors.New("weather fetch failed")

	// ErrPartialLoad reports a warehouse load that failed or persisted fewer rows than written.
	ErrPartialLoad = errors.New("partial warehouse load")

	// ErrLoadRolledBack reports a transactional warehouse load that failed and
	// was rolled back; the previous table is unchanged.
	ErrLoadRolledBack = errors.New("warehouse load rolled back")

	// ErrModelFit reports degenerate training data.
	ErrModelFit = errors.New("model fit failed")

	// ErrArtifactVersion reports a model bundle written with an unknown schema version.
	ErrArtifactVersion = errors.New("unsupported model artifact version")
)

// Stage dispatch errors. These are not data errors and are never retried.
var (
	// ErrUnknownStage reports a stage name the pipeline does not define.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrStageRunning reports a trigger while another stage is executing.
	ErrStageRunning = errors.New("a stage is already running")
)
