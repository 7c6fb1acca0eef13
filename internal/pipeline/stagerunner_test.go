package pipeline

import "testing"

func TestIsRetryableStderrMatchesKnownTransientPatterns(t *testing.T) {
	cases := []struct {
		stderr string
		want   bool
	}{
		{"ffmpeg: Resource temporarily unavailable", true},
		{"av_interleaved_write_frame(): Connection reset by peer", true},
		{"pipe:: I/O error", true},
		{"open(/dev/in): Device or resource busy", true},
		{"Invalid data found when processing input", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isRetryableStderr(c.stderr); got != c.want {
			t.Errorf("isRetryableStderr(%q) = %v, want %v", c.stderr, got, c.want)
		}
	}
}

func TestStageErrorUnwrapExposesUnderlyingErr(t *testing.T) {
	inner := &StageError{Stage: "mux", Class: ClassFatalTool, Err: errTest}
	if inner.Unwrap() != errTest {
		t.Fatalf("Unwrap() = %v, want %v", inner.Unwrap(), errTest)
	}
	if inner.Error() == "" {
		t.Fatal("Error() should not be empty")
	}
}

var errTest = testError("boom")

type testError string

func (e testError) Error() string { return string(e) }
