package statemachine

import (
	"testing"

	"github.com/mickaelli/reelforge/internal/model"
)

func TestAllowedPermitsEachDocumentedEdge(t *testing.T) {
	cases := []struct {
		from, to string
	}{
		{model.JobPending, model.JobProcessing},
		{model.JobProcessing, model.JobProcessing},
		{model.JobPending, model.JobCompleted},
		{model.JobProcessing, model.JobCompleted},
		{model.JobPending, model.JobFailed},
		{model.JobProcessing, model.JobFailed},
		{model.JobPending, model.JobCancelled},
		{model.JobProcessing, model.JobCancelled},
	}
	for _, c := range cases {
		if !Allowed(c.from, c.to) {
			t.Errorf("Allowed(%q, %q) = false, want true", c.from, c.to)
		}
	}
}

func TestAllowedForbidsFromTerminalRegardlessOfTarget(t *testing.T) {
	terminal := []string{model.JobCompleted, model.JobFailed, model.JobCancelled}
	targets := []string{model.JobProcessing, model.JobCompleted, model.JobFailed, model.JobCancelled}
	for _, from := range terminal {
		for _, to := range targets {
			if Allowed(from, to) {
				t.Errorf("Allowed(%q, %q) = true, want false (terminal states are absorbing)", from, to)
			}
		}
	}
}

func TestAllowedForbidsUndeclaredEdge(t *testing.T) {
	if Allowed(model.JobUploading, model.JobCompleted) {
		t.Error("Allowed(UPLOADING, COMPLETED) = true, want false: not in the allowed table")
	}
}
