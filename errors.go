package healthcoach

import (
	"errors"
	"fmt"
)

// Stage names used in StageFailure and request traces.
const (
	StageAnalyze   = "analyze"
	StageRetrieve  = "retrieve"
	StageRecommend = "recommend"
)

var (
	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("healthcoach: invalid configuration")

	// ErrEngineClosed is returned when operating on a closed engine.
	ErrEngineClosed = errors.New("healthcoach: engine is closed")

	// ErrIndexNotReady is returned from Suggest before BuildIndex has run.
	ErrIndexNotReady = errors.New("healthcoach: knowledge index not built")
)

// StageFailure identifies which pipeline stage a request failed in and
// why. It wraps the underlying cause so errors.Is/As keep working.
type StageFailure struct {
	Stage string
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("healthcoach: stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// FailedStage extracts the stage name from an error chain, or "" if the
// error did not originate in a pipeline stage.
func FailedStage(err error) string {
	var sf *StageFailure
	if errors.As(err, &sf) {
		return sf.Stage
	}
	return ""
}
