package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mickaelli/reelforge/internal/beat"
	"github.com/mickaelli/reelforge/internal/model"
	"github.com/mickaelli/reelforge/internal/planner"
	"github.com/mickaelli/reelforge/internal/store"
	"github.com/mickaelli/reelforge/internal/toolinvoker"
	"go.uber.org/zap"
)

// Classification is the Stage Runner's verdict on a stage failure,
// returned verbatim to the Pipeline Executor per spec.md §4.4.
type Classification string

const (
	ClassNone           Classification = ""
	ClassTransientTool  Classification = "TransientTool"
	ClassFatalTool      Classification = "FatalTool"
	ClassTimeout        Classification = "Timeout"
	ClassCancelObserved Classification = "CancelObserved"
	ClassAnalysisFailed Classification = "AnalysisFailed"
	ClassPlanInfeasible Classification = "PlanInfeasible"
	ClassQualityGate    Classification = "QualityGateFailed"
)

// retryablePatterns are the stderr substrings the original
// ffmpeg_handler.py treats as transient, per SPEC_FULL.md §4.4.
var retryablePatterns = []string{
	"Resource temporarily unavailable",
	"Connection reset",
	"I/O error",
	"Device or resource busy",
}

// StageError carries a Classification alongside the underlying error, so
// the Pipeline Executor and Worker can branch on it without re-deriving
// it from stderr text.
type StageError struct {
	Stage string
	Class Classification
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Class, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Runner is the Stage Runner (spec.md §4.4): resolves a stage's declared
// inputs from the Artifact Store into a scratch directory, runs the
// stage body, writes outputs back, and classifies any failure.
type Runner struct {
	artifacts *store.ArtifactStore
	tool      *toolinvoker.Invoker
	probe     *toolinvoker.Invoker
	analyzer  *beat.Analyzer
	out       OutputSpec
	scratch   string
	log       *zap.Logger
}

// NewRunner builds a Runner. scratchRoot is the base directory under
// which per-job scratch subdirectories are created.
func NewRunner(artifacts *store.ArtifactStore, tool, probe *toolinvoker.Invoker, analyzer *beat.Analyzer, out OutputSpec, scratchRoot string, log *zap.Logger) *Runner {
	return &Runner{artifacts: artifacts, tool: tool, probe: probe, analyzer: analyzer, out: out, scratch: scratchRoot, log: log}
}

// jobScratchDir returns (and creates) the scratch directory for jobID.
func (r *Runner) jobScratchDir(jobID string) (string, error) {
	dir := filepath.Join(r.scratch, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir scratch: %w", err)
	}
	return dir, nil
}

// StageInput is a resolved local path for one of a stage's declared
// inputs, keyed by artifact name.
type StageInput struct {
	Name string
	Path string
}

// resolveInputs downloads every declared input artifact for stage into
// the job's scratch directory, download-on-demand per spec.md §4.4.
func (r *Runner) resolveInputs(ctx context.Context, jobID string, def StageDef, producingStage map[string]string) (map[string]string, error) {
	dir, err := r.jobScratchDir(jobID)
	if err != nil {
		return nil, err
	}
	paths := make(map[string]string, len(def.Inputs))
	for _, name := range def.Inputs {
		stage, ok := producingStage[name]
		if !ok {
			return nil, fmt.Errorf("no producing stage registered for input %q", name)
		}
		localPath := filepath.Join(dir, sanitizeArtifactName(stage, name))
		if _, err := r.artifacts.Download(ctx, jobID, stage, name, localPath); err != nil {
			return nil, fmt.Errorf("resolve input %q: %w", name, err)
		}
		paths[name] = localPath
	}
	return paths, nil
}

func sanitizeArtifactName(stage, name string) string {
	return stage + "__" + strings.ReplaceAll(name, "/", "_")
}

// Run executes one stage and writes its declared outputs back to the
// Artifact Store. job carries the timeout budget, style, and clip
// metadata the stage body needs.
func (r *Runner) Run(ctx context.Context, job StageJob, def StageDef, timeout interface{}) error {
	dir, err := r.jobScratchDir(job.JobID)
	if err != nil {
		return err
	}
	paths, err := r.resolveInputs(ctx, job.JobID, def, job.ProducingStage)
	if err != nil {
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: err}
	}

	switch {
	case def.Name == StageAudioSlice:
		return r.runAudioSlice(ctx, job, def, paths, dir)
	case def.Name == StageBeats:
		return r.runBeats(ctx, job, def, paths, dir)
	case def.Name == StagePlan:
		return r.runPlan(ctx, job, def, paths, dir)
	case strings.HasPrefix(def.Name, StageNormalize):
		return r.runNormalize(ctx, job, def, paths, dir)
	case def.Name == StageCutAndConcat:
		return r.runCutAndConcat(ctx, job, def, paths, dir)
	case def.Name == StageStyleGrade:
		return r.runStyleGrade(ctx, job, def, paths, dir)
	case def.Name == StageMux:
		return r.runMux(ctx, job, def, paths, dir)
	case def.Name == StageQualityGate:
		return r.runQualityGate(ctx, job, def, paths, dir)
	default:
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: fmt.Errorf("unknown stage %q", def.Name)}
	}
}

// StageJob carries the per-job context a stage body needs beyond its
// declared inputs: the job's style, clip layout, and timeout budget.
type StageJob struct {
	JobID          string
	Style          string
	ClipCount      int
	ClipIsImage    []bool
	AudioStart     float64
	AudioEnd       float64
	Timeouts       StageTimeouts
	GraceDelay     interface{} // time.Duration, kept as interface{} to avoid import cycle with config
	ProducingStage map[string]string
}

func (r *Runner) invoke(ctx context.Context, invoker *toolinvoker.Invoker, argv []string, timeout, grace interface{}, stage string) (toolinvoker.Result, error) {
	inv := toolinvoker.Invocation{Argv: argv}
	// timeout/grace arrive as time.Duration from config but are typed
	// interface{} here to keep this file import-free of internal/config;
	// the caller in worker/executor always passes concrete time.Duration.
	if d, ok := asDuration(timeout); ok {
		inv.Timeout = d
	}
	if d, ok := asDuration(grace); ok {
		inv.GraceDelay = d
	}
	res, err := invoker.Run(ctx, inv)
	if err != nil {
		return res, &StageError{Stage: stage, Class: ClassFatalTool, Err: err}
	}
	if res.TimedOut {
		return res, &StageError{Stage: stage, Class: ClassTimeout, Err: fmt.Errorf("timed out after %v", res.WallTime)}
	}
	if res.ExitCode != 0 {
		class := ClassFatalTool
		if isRetryableStderr(res.StderrTail) {
			class = ClassTransientTool
		}
		return res, &StageError{Stage: stage, Class: class, Err: fmt.Errorf("exit %d: %s", res.ExitCode, toolinvoker.TrimStderr(res.StderrTail, 2048))}
	}
	return res, nil
}

func isRetryableStderr(stderr string) bool {
	for _, p := range retryablePatterns {
		if strings.Contains(stderr, p) {
			return true
		}
	}
	return false
}

func (r *Runner) runAudioSlice(ctx context.Context, job StageJob, def StageDef, in map[string]string, dir string) error {
	outPath := filepath.Join(dir, "sliced_audio.wav")
	argv := argvAudioSlice(in["input_audio"], outPath, job.AudioStart, job.AudioEnd)
	if _, err := r.invoke(ctx, r.tool, argv, job.Timeouts.AudioSlice, job.GraceDelay, def.Name); err != nil {
		return err
	}
	if _, err := r.artifacts.WriteFile(ctx, job.JobID, def.Name, "sliced_audio", outPath, model.ContentAudio); err != nil {
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: err}
	}
	return nil
}

func (r *Runner) runBeats(ctx context.Context, job StageJob, def StageDef, in map[string]string, dir string) error {
	plan, err := r.analyzer.Analyze(in["sliced_audio"])
	if err != nil {
		class := ClassAnalysisFailed
		if !beat.IsAnalysisFailed(err) {
			class = ClassFatalTool
		}
		return &StageError{Stage: def.Name, Class: class, Err: err}
	}
	outPath := filepath.Join(dir, "beat_plan.json")
	if err := writeJSON(outPath, plan); err != nil {
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: err}
	}
	if _, err := r.artifacts.WriteFile(ctx, job.JobID, def.Name, "beat_plan", outPath, model.ContentJSON); err != nil {
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: err}
	}
	return nil
}

func (r *Runner) runPlan(ctx context.Context, job StageJob, def StageDef, in map[string]string, dir string) error {
	var plan model.BeatPlan
	if err := readJSON(in["beat_plan"], &plan); err != nil {
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: err}
	}
	clipNames := make([]string, job.ClipCount)
	for i := range clipNames {
		clipNames[i] = normalizedOutputName(i)
	}
	totalLength := job.AudioEnd - job.AudioStart
	segments, diagnostics, err := planner.PlanWithDiagnostics(plan, job.ClipCount, job.Style, totalLength, clipNames)
	if err != nil {
		return &StageError{Stage: def.Name, Class: ClassPlanInfeasible, Err: err}
	}

	segPath := filepath.Join(dir, "segments.json")
	if err := writeJSON(segPath, segments); err != nil {
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: err}
	}
	diagPath := filepath.Join(dir, "cut_diagnostics.json")
	if err := writeJSON(diagPath, diagnostics); err != nil {
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: err}
	}

	if _, err := r.artifacts.WriteFile(ctx, job.JobID, def.Name, "segments", segPath, model.ContentJSON); err != nil {
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: err}
	}
	if _, err := r.artifacts.WriteFile(ctx, job.JobID, def.Name, "cut_diagnostics", diagPath, model.ContentJSON); err != nil {
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: err}
	}
	return nil
}

// normalize runs before the cut planner has placed this clip's
// beat-snapped boundaries (it fans out in parallel with the plan stage,
// off of audio_slice alone), so it cannot render to the exact segment
// length cut_and_concat will eventually need. It renders to a safe upper
// bound instead and leaves the precise trim to cut_and_concat, which
// reads the planner's segments and knows each clip's true
// SourceInSec/SourceOutSec. The snap cascade (internal/planner) moves
// each boundary by at most half the uniform segment length in either
// direction, so a single segment can grow to at most double the uniform
// length; never render past the full output window, since no segment can
// need more than that.
func normalizeRenderDuration(totalLengthSec float64, clipCount int) float64 {
	if clipCount <= 0 {
		return totalLengthSec
	}
	d := 2 * (totalLengthSec / float64(clipCount))
	if d > totalLengthSec {
		d = totalLengthSec
	}
	return d
}

func (r *Runner) runNormalize(ctx context.Context, job StageJob, def StageDef, in map[string]string, dir string) error {
	clipIdx := normalizeIndexFromStage(def.Name)
	inputName := clipInputName(clipIdx)
	outputName := normalizedOutputName(clipIdx)
	outPath := filepath.Join(dir, outputName+".mp4")
	targetDuration := normalizeRenderDuration(job.AudioEnd-job.AudioStart, job.ClipCount)
	isImage := clipIdx < len(job.ClipIsImage) && job.ClipIsImage[clipIdx]
	argv := argvNormalize(in[inputName], outPath, r.out, targetDuration, isImage)
	if _, err := r.invoke(ctx, r.tool, argv, job.Timeouts.Normalize, job.GraceDelay, def.Name); err != nil {
		return err
	}
	if _, err := r.artifacts.WriteFile(ctx, job.JobID, def.Name, outputName, outPath, model.ContentVideo); err != nil {
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: err}
	}
	return nil
}

func normalizeIndexFromStage(stageName string) int {
	suffix := strings.TrimPrefix(stageName, StageNormalize+"_")
	n := 0
	for _, c := range suffix {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func (r *Runner) runCutAndConcat(ctx context.Context, job StageJob, def StageDef, in map[string]string, dir string) error {
	var segments []model.Segment
	if err := readJSON(in["segments"], &segments); err != nil {
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: err}
	}

	allHardCut := true
	for _, s := range segments[:len(segments)-1] {
		if s.TransitionOut.Kind != model.TransitionHardCut {
			allHardCut = false
			break
		}
	}

	outPath := filepath.Join(dir, "concatenated.mp4")
	var argv []string
	if allHardCut {
		// Each normalized clip was rendered to a safe upper-bound length,
		// not its final segment length — inpoint/outpoint trim it down to
		// the planner's actual beat-snapped SourceInSec/SourceOutSec so the
		// muxed cut points land where the plan stage put them, not on
		// uniform i*L multiples.
		listPath := filepath.Join(dir, "concat_list.txt")
		var sb strings.Builder
		for _, s := range segments {
			fmt.Fprintf(&sb, "file '%s'\n", in[s.SourceArtifactName])
			fmt.Fprintf(&sb, "inpoint %.3f\n", s.SourceInSec)
			fmt.Fprintf(&sb, "outpoint %.3f\n", s.SourceOutSec)
		}
		if err := os.WriteFile(listPath, []byte(sb.String()), 0o644); err != nil {
			return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: err}
		}
		argv = argvCutAndConcat(listPath, outPath)
	} else {
		filterComplex, outputMap := buildXfadeFilter(segments)
		argv = argvCutAndConcatFiltergraph(segments, in, filterComplex, outputMap, outPath)
	}

	if _, err := r.invoke(ctx, r.tool, argv, job.Timeouts.CutAndConcat, job.GraceDelay, def.Name); err != nil {
		return err
	}
	if _, err := r.artifacts.WriteFile(ctx, job.JobID, def.Name, "concatenated", outPath, model.ContentVideo); err != nil {
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: err}
	}
	return nil
}

// buildXfadeFilter builds an ffmpeg filter_complex chain of xfade/fade
// transitions between consecutive normalized clips, honoring each
// segment's transition_out descriptor and its already-capped duration.
func buildXfadeFilter(segments []model.Segment) (filterComplex, outputMap string) {
	var sb strings.Builder
	prevLabel := "0:v"
	offset := 0.0
	for i := 0; i < len(segments)-1; i++ {
		transition := segments[i].TransitionOut
		nextLabel := fmt.Sprintf("%d:v", i+1)
		outLabel := fmt.Sprintf("x%d", i)
		durSec := float64(transition.DurationMs) / 1000.0
		offset += segments[i].SourceOutSec - durSec
		xfadeKind := "fade"
		if transition.Kind == model.TransitionFadeBlack {
			xfadeKind = "fadeblack"
		}
		fmt.Fprintf(&sb, "[%s][%s]xfade=transition=%s:duration=%.3f:offset=%.3f[%s];",
			prevLabel, nextLabel, xfadeKind, durSec, offset, outLabel)
		prevLabel = outLabel
	}
	return strings.TrimSuffix(sb.String(), ";"), "[" + prevLabel + "]"
}

func (r *Runner) runStyleGrade(ctx context.Context, job StageJob, def StageDef, in map[string]string, dir string) error {
	preset, ok := model.Styles[job.Style]
	if !ok {
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: fmt.Errorf("unknown style %q", job.Style)}
	}
	outPath := filepath.Join(dir, "graded.mp4")
	argv := argvStyleGrade(in["concatenated"], outPath, preset.Grade)
	if _, err := r.invoke(ctx, r.tool, argv, job.Timeouts.StyleGrade, job.GraceDelay, def.Name); err != nil {
		return err
	}
	if _, err := r.artifacts.WriteFile(ctx, job.JobID, def.Name, "graded", outPath, model.ContentVideo); err != nil {
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: err}
	}
	return nil
}

func (r *Runner) runMux(ctx context.Context, job StageJob, def StageDef, in map[string]string, dir string) error {
	outPath := filepath.Join(dir, "muxed.mp4")
	argv := argvMux(in["graded"], in["sliced_audio"], outPath, r.out)
	if _, err := r.invoke(ctx, r.tool, argv, job.Timeouts.Mux, job.GraceDelay, def.Name); err != nil {
		return err
	}
	if _, err := r.artifacts.WriteFile(ctx, job.JobID, def.Name, "muxed", outPath, model.ContentVideo); err != nil {
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: err}
	}
	return nil
}

// probeResult mirrors the ffprobe -of json output the quality_gate stage
// parses.
type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

func (r *Runner) runQualityGate(ctx context.Context, job StageJob, def StageDef, in map[string]string, dir string) error {
	argv := argvProbe(in["muxed"])
	stdout, res, err := r.probe.Output(ctx, toolinvokerInvocation(argv, job.Timeouts.QualityGate, job.GraceDelay))
	if err != nil {
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: err}
	}
	if res.ExitCode != 0 {
		return &StageError{Stage: def.Name, Class: ClassQualityGate, Err: fmt.Errorf("ffprobe exit %d: %s", res.ExitCode, res.StderrTail)}
	}

	var probed probeResult
	if err := json.Unmarshal(stdout, &probed); err != nil {
		return &StageError{Stage: def.Name, Class: ClassQualityGate, Err: fmt.Errorf("parse ffprobe output: %w", err)}
	}

	hasVideo, hasAudio := false, false
	var width, height int
	for _, s := range probed.Streams {
		switch s.CodecType {
		case "video":
			hasVideo = true
			width, height = s.Width, s.Height
		case "audio":
			hasAudio = true
		}
	}
	if !hasVideo || !hasAudio {
		return &StageError{Stage: def.Name, Class: ClassQualityGate, Err: fmt.Errorf("missing video or audio stream")}
	}
	if width != r.out.Width || height != r.out.Height {
		return &StageError{Stage: def.Name, Class: ClassQualityGate, Err: fmt.Errorf("resolution %dx%d != expected %dx%d", width, height, r.out.Width, r.out.Height)}
	}

	duration, err := strconvParseFloat(probed.Format.Duration)
	if err != nil {
		return &StageError{Stage: def.Name, Class: ClassQualityGate, Err: fmt.Errorf("parse duration: %w", err)}
	}
	if duration < r.out.DurationSec-0.5 || duration > r.out.DurationSec+0.5 {
		return &StageError{Stage: def.Name, Class: ClassQualityGate, Err: fmt.Errorf("duration %.3fs outside ±0.5s of %.3fs", duration, r.out.DurationSec)}
	}

	return r.runDecodeCheck(ctx, job, def, in["muxed"])
}

// runDecodeCheck does a full decode passthrough of the muxed output —
// valid metadata alone doesn't rule out a truncated or corrupt frame
// mid-stream, which only surfaces once something actually decodes every
// frame.
func (r *Runner) runDecodeCheck(ctx context.Context, job StageJob, def StageDef, mediaPath string) error {
	argv := argvDecodeCheck(mediaPath)
	res, err := r.tool.Run(ctx, toolinvokerInvocation(argv, job.Timeouts.QualityGate, job.GraceDelay))
	if err != nil {
		return &StageError{Stage: def.Name, Class: ClassFatalTool, Err: err}
	}
	if res.TimedOut {
		return &StageError{Stage: def.Name, Class: ClassTimeout, Err: fmt.Errorf("decode passthrough timed out after %v", res.WallTime)}
	}
	if res.ExitCode != 0 || strings.TrimSpace(res.StderrTail) != "" {
		return &StageError{Stage: def.Name, Class: ClassQualityGate, Err: fmt.Errorf("decode passthrough reported errors, exit %d: %s", res.ExitCode, toolinvoker.TrimStderr(res.StderrTail, 2048))}
	}
	return nil
}

func toolinvokerInvocation(argv []string, timeout, grace interface{}) toolinvoker.Invocation {
	inv := toolinvoker.Invocation{Argv: argv}
	if d, ok := asDuration(timeout); ok {
		inv.Timeout = d
	}
	if d, ok := asDuration(grace); ok {
		inv.GraceDelay = d
	}
	return inv
}

func writeJSON(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func readJSON(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
