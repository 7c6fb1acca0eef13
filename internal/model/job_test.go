package model

import "testing"

func TestJobErrorValueReturnsNilForZeroValue(t *testing.T) {
	v, err := JobError{}.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if v != nil {
		t.Fatalf("Value() = %v, want nil for zero-value JobError", v)
	}
}

func TestJobErrorValueAndScanRoundTrip(t *testing.T) {
	want := JobError{Kind: ErrTransientTool, Stage: "mux", Message: "exit 1", Retryable: true}
	v, err := want.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	b, ok := v.([]byte)
	if !ok {
		t.Fatalf("Value() returned %T, want []byte", v)
	}

	var got JobError
	if err := got.Scan(b); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if got != want {
		t.Fatalf("Scan() = %+v, want %+v", got, want)
	}
}

func TestJobErrorScanRejectsNonByteSlice(t *testing.T) {
	var e JobError
	if err := e.Scan(42); err == nil {
		t.Fatal("expected Scan(42) to error")
	}
}

func TestJobErrorScanNilIsNoOp(t *testing.T) {
	e := JobError{Kind: ErrFatalTool}
	if err := e.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error = %v", err)
	}
	if e.Kind != ErrFatalTool {
		t.Fatalf("Scan(nil) should leave e untouched, got %+v", e)
	}
}

func TestIsRetryableOnlyFlagsStorageAndTransientTool(t *testing.T) {
	cases := map[string]bool{
		ErrStorageUnavailable: true,
		ErrTransientTool:      true,
		ErrFatalTool:          false,
		ErrInvalidInput:       false,
		ErrAnalysisFailed:     false,
		ErrPlanInfeasible:     false,
		ErrQualityGateFailed:  false,
		ErrCancelled:          false,
	}
	for kind, want := range cases {
		if got := IsRetryable(kind); got != want {
			t.Errorf("IsRetryable(%q) = %v, want %v", kind, got, want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []string{JobCompleted, JobFailed, JobCancelled}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = false, want true", s)
		}
	}
	nonTerminal := []string{JobPending, JobUploading, JobProcessing}
	for _, s := range nonTerminal {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = true, want false", s)
		}
	}
}
