package jobservice

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/mickaelli/reelforge/internal/model"
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(validateWindowLength, CreateRequest{})
	return v
}

func validRequest() CreateRequest {
	return CreateRequest{
		Clips: []model.ArtifactRef{
			{ArtifactID: "clip-1", ContentKind: model.ContentVideo},
		},
		Audio:       model.ArtifactRef{ArtifactID: "audio-1", ContentKind: model.ContentAudio},
		WindowStart: 10,
		WindowEnd:   40,
		Style:       "cinematic_drama",
	}
}

func TestValidateCreateRequestAcceptsValidRequest(t *testing.T) {
	if err := validateCreateRequest(newValidator(), validRequest(), 5); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidateCreateRequestRejectsWrongAudioContentKind(t *testing.T) {
	req := validRequest()
	req.Audio.ContentKind = model.ContentVideo

	err := validateCreateRequest(newValidator(), req, 5)
	var invalid *ErrInvalidInput
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *ErrInvalidInput, got %v", err)
	}
}

func TestValidateCreateRequestRejectsWrongClipContentKind(t *testing.T) {
	req := validRequest()
	req.Clips[0].ContentKind = model.ContentAudio

	err := validateCreateRequest(newValidator(), req, 5)
	var invalid *ErrInvalidInput
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *ErrInvalidInput, got %v", err)
	}
}

func TestValidateCreateRequestRejectsTooManyClips(t *testing.T) {
	req := validRequest()
	for i := 0; i < 5; i++ {
		req.Clips = append(req.Clips, model.ArtifactRef{ArtifactID: "extra", ContentKind: model.ContentVideo})
	}

	err := validateCreateRequest(newValidator(), req, 5)
	var invalid *ErrInvalidInput
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *ErrInvalidInput for too many clips, got %v", err)
	}
}

func TestValidateCreateRequestHonorsConfiguredMaxClipCount(t *testing.T) {
	req := validRequest()
	req.Clips = append(req.Clips, model.ArtifactRef{ArtifactID: "extra", ContentKind: model.ContentVideo})

	if err := validateCreateRequest(newValidator(), req, 2); err != nil {
		t.Fatalf("expected 2 clips to pass max_clip_count=2, got %v", err)
	}

	var invalid *ErrInvalidInput
	err := validateCreateRequest(newValidator(), req, 1)
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *ErrInvalidInput for 2 clips over max_clip_count=1, got %v", err)
	}
}

func TestValidateCreateRequestMaxClipCountZeroMeansUnlimited(t *testing.T) {
	req := validRequest()
	for i := 0; i < 20; i++ {
		req.Clips = append(req.Clips, model.ArtifactRef{ArtifactID: "extra", ContentKind: model.ContentVideo})
	}
	if err := validateCreateRequest(newValidator(), req, 0); err != nil {
		t.Fatalf("expected max_clip_count=0 to mean unlimited, got %v", err)
	}
}

func TestValidateCreateRequestRejectsEmptyClips(t *testing.T) {
	req := validRequest()
	req.Clips = nil

	err := validateCreateRequest(newValidator(), req, 5)
	var invalid *ErrInvalidInput
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *ErrInvalidInput for empty clips, got %v", err)
	}
}

func TestValidateCreateRequestRejectsWindowLengthNot30(t *testing.T) {
	req := validRequest()
	req.WindowEnd = req.WindowStart + 29

	err := validateCreateRequest(newValidator(), req, 5)
	var invalid *ErrInvalidInput
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *ErrInvalidInput for bad window length, got %v", err)
	}
}

func TestValidateCreateRequestRejectsNegativeWindowStart(t *testing.T) {
	req := validRequest()
	req.WindowStart = -1
	req.WindowEnd = 29

	err := validateCreateRequest(newValidator(), req, 5)
	var invalid *ErrInvalidInput
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *ErrInvalidInput for negative window start, got %v", err)
	}
}

func TestValidateCreateRequestRejectsUnknownStyle(t *testing.T) {
	req := validRequest()
	req.Style = "not_a_real_style"

	err := validateCreateRequest(newValidator(), req, 5)
	var invalid *ErrInvalidInput
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *ErrInvalidInput for unknown style, got %v", err)
	}
}

func TestErrInvalidInputUnwraps(t *testing.T) {
	inner := errors.New("boom")
	wrapped := &ErrInvalidInput{Err: inner}
	if !errors.Is(wrapped, inner) {
		t.Fatal("expected ErrInvalidInput to unwrap to its inner error")
	}
}

func TestErrStorageUnavailableIsModelKind(t *testing.T) {
	if ErrStorageUnavailable.Error() != model.ErrStorageUnavailable {
		t.Fatalf("expected sentinel message %q, got %q", model.ErrStorageUnavailable, ErrStorageUnavailable.Error())
	}
}
