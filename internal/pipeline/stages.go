package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/mickaelli/reelforge/internal/model"
)

// StageTimeouts holds the per-stage T_stage defaults from spec.md §5.
type StageTimeouts struct {
	AudioSlice   time.Duration
	Beats        time.Duration
	Plan         time.Duration
	Normalize    time.Duration
	CutAndConcat time.Duration
	StyleGrade   time.Duration
	Mux          time.Duration
	QualityGate  time.Duration
}

// For looks up the timeout for a stage name, treating any normalize_N
// fan-out stage the same as "normalize".
func (t StageTimeouts) For(stageName string) time.Duration {
	switch {
	case stageName == StageAudioSlice:
		return t.AudioSlice
	case stageName == StageBeats:
		return t.Beats
	case stageName == StagePlan:
		return t.Plan
	case strings.HasPrefix(stageName, StageNormalize):
		return t.Normalize
	case stageName == StageCutAndConcat:
		return t.CutAndConcat
	case stageName == StageStyleGrade:
		return t.StyleGrade
	case stageName == StageMux:
		return t.Mux
	case stageName == StageQualityGate:
		return t.QualityGate
	default:
		return t.Normalize
	}
}

// OutputSpec is the fixed output container contract from spec.md §6.
type OutputSpec struct {
	Width       int
	Height      int
	FPS         int
	DurationSec float64
}

// argvAudioSlice builds the ffmpeg argv that extracts [start,end) from
// the input audio and re-encodes it to the uniform codec sliced_audio
// uses downstream (stage 1, spec.md §4.3): 16-bit PCM WAV, the format
// the beat analyzer decodes.
func argvAudioSlice(inputPath, outputPath string, startSec, endSec float64) []string {
	return []string{
		"-y",
		"-i", inputPath,
		"-ss", fmt.Sprintf("%.3f", startSec),
		"-to", fmt.Sprintf("%.3f", endSec),
		"-ac", "2",
		"-ar", "44100",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		outputPath,
	}
}

// argvNormalize builds the ffmpeg argv that scales one input clip to the
// target resolution/fps and cuts it at targetDurationSec (stage 4,
// spec.md §4.3). Images are looped to fill the duration. Videos are only
// trimmed with -t: a video shorter than targetDurationSec is not
// stretched and keeps its own, shorter length.
func argvNormalize(inputPath, outputPath string, out OutputSpec, targetDurationSec float64, isImage bool) []string {
	scale := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1", out.Width, out.Height, out.Width, out.Height)
	if isImage {
		return []string{
			"-y",
			"-loop", "1",
			"-i", inputPath,
			"-t", fmt.Sprintf("%.3f", targetDurationSec),
			"-r", fmt.Sprintf("%d", out.FPS),
			"-vf", scale,
			"-an",
			outputPath,
		}
	}
	return []string{
		"-y",
		"-i", inputPath,
		"-t", fmt.Sprintf("%.3f", targetDurationSec),
		"-r", fmt.Sprintf("%d", out.FPS),
		"-vf", scale,
		"-an",
		outputPath,
	}
}

// argvCutAndConcat builds the ffmpeg argv that concatenates the
// normalized clips per the planner's segments, honoring each boundary's
// transition descriptor (stage 5, spec.md §4.3). Hard cuts use the
// concat demuxer; crossfade/fade_black boundaries use xfade filters.
// This argv is the hard-cut path: concatListPath is a pre-written
// ffconcat script, used when every boundary is a hard cut (the common,
// cheap path). Any other boundary goes through
// argvCutAndConcatFiltergraph with the xfade filtergraph instead.
func argvCutAndConcat(concatListPath, outputPath string) []string {
	return []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", concatListPath,
		"-c:v", "libx264",
		"-an",
		outputPath,
	}
}

// argvCutAndConcatFiltergraph builds the ffmpeg argv for the xfade path,
// given a pre-built filter_complex script (segments.TransitionOut kinds
// other than hard_cut). Each input is trimmed with -ss/-t to its own
// segment's SourceInSec/SourceOutSec, the same beat-snapped boundaries
// the hard-cut path trims to via inpoint/outpoint — without this, the
// xfade offsets buildXfadeFilter computes from SourceOutSec would no
// longer match what each input actually plays.
func argvCutAndConcatFiltergraph(segments []model.Segment, in map[string]string, filterComplex, outputMap, outputPath string) []string {
	argv := []string{"-y"}
	for _, s := range segments {
		argv = append(argv,
			"-ss", fmt.Sprintf("%.3f", s.SourceInSec),
			"-t", fmt.Sprintf("%.3f", s.SourceOutSec-s.SourceInSec),
			"-i", in[s.SourceArtifactName],
		)
	}
	argv = append(argv,
		"-filter_complex", filterComplex,
		"-map", outputMap,
		"-c:v", "libx264",
		"-an",
		outputPath,
	)
	return argv
}

// argvStyleGrade builds the ffmpeg eq/colortemperature filter argv that
// applies one style's color grade deterministically (stage 6).
func argvStyleGrade(inputPath, outputPath string, grade model.ColorGrade) []string {
	eq := fmt.Sprintf("eq=saturation=%.3f:contrast=%.3f,colortemperature=temperature=%d",
		grade.SaturationScale, grade.ContrastScale, grade.TemperatureKelvin)
	return []string{
		"-y",
		"-i", inputPath,
		"-vf", eq,
		"-c:v", "libx264",
		"-an",
		outputPath,
	}
}

// argvMux builds the ffmpeg argv that combines the graded video with the
// sliced audio into the final container (stage 7).
func argvMux(videoPath, audioPath, outputPath string, out OutputSpec) []string {
	return []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-r", fmt.Sprintf("%d", out.FPS),
		"-shortest",
		outputPath,
	}
}

// argvProbe builds the ffprobe argv the quality_gate stage uses to read
// back duration, resolution, and stream presence (stage 8).
func argvProbe(inputPath string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type,width,height",
		"-of", "json",
		inputPath,
	}
}

// argvDecodeCheck builds the ffmpeg argv for a full decode passthrough of
// the muxed output: -v error with the null muxer surfaces a corrupt frame
// mid-stream as decoder stderr or a non-zero exit even when ffprobe's
// metadata-only read (argvProbe) looked clean (stage 8, spec.md §4.3).
func argvDecodeCheck(inputPath string) []string {
	return []string{
		"-v", "error",
		"-i", inputPath,
		"-f", "null",
		"-",
	}
}
