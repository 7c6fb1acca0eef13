package beat

import (
	"errors"
	"os"
)

// errAnalysisFailed is the sentinel the Stage Runner matches against to
// classify a Beat Analyzer failure as model.ErrAnalysisFailed — fatal for
// the job per spec.md §4.6, never retried.
var errAnalysisFailed = errors.New("beat: analysis failed")

func openFile(path string) (*os.File, error) {
	return os.Open(path)
}

// IsAnalysisFailed reports whether err originated from a fatal Analyze
// failure (unreadable or too-short input), for the Stage Runner's error
// classification.
func IsAnalysisFailed(err error) bool {
	return errors.Is(err, errAnalysisFailed)
}
