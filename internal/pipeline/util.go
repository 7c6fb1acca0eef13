package pipeline

import (
	"strconv"
	"time"
)

// asDuration adapts the interface{}-typed timeout/grace fields on
// StageJob (kept untyped to avoid an import cycle with internal/config)
// back to a concrete time.Duration.
func asDuration(v interface{}) (time.Duration, bool) {
	d, ok := v.(time.Duration)
	return d, ok
}

func strconvParseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
