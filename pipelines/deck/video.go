package deck

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"papercast/common"
)

// Encoder abstracts the external media toolchain so assembly logic is
// testable without ffmpeg installed.
type Encoder interface {
	// StandardizeAudio transcodes src to 16-bit PCM, 44.1 kHz stereo at dst.
	StandardizeAudio(ctx context.Context, src, dst string) error
	// ProbeDuration measures the exact duration of an encoded audio file.
	ProbeDuration(ctx context.Context, path string) (float64, error)
	// BuildClip renders a still-image video of the frame held for the audio
	// duration, with the audio as soundtrack.
	BuildClip(ctx context.Context, framePath, audioPath string, duration float64, dst string) error
	// Concat stream-copies the listed clips into one file.
	Concat(ctx context.Context, listPath, dst string) error
}

// FFmpegEncoder shells out to ffmpeg and ffprobe.
type FFmpegEncoder struct {
	FFmpegBin  string
	FFprobeBin string
	Timeout    time.Duration
}

func NewFFmpegEncoder(ffmpegBin, ffprobeBin string, timeout time.Duration) *FFmpegEncoder {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &FFmpegEncoder{FFmpegBin: ffmpegBin, FFprobeBin: ffprobeBin, Timeout: timeout}
}

func (e *FFmpegEncoder) run(ctx context.Context, bin string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%s %s: %w", bin, strings.Join(args, " "), err)
	}
	return string(output), nil
}

func (e *FFmpegEncoder) StandardizeAudio(ctx context.Context, src, dst string) error {
	out, err := e.run(ctx, e.FFmpegBin,
		"-y", "-i", src,
		"-acodec", "pcm_s16le",
		"-ar", "44100",
		"-ac", "2",
		dst,
	)
	if err != nil {
		return fmt.Errorf("standardizing audio: %w\noutput: %s", err, out)
	}
	return nil
}

func (e *FFmpegEncoder) ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, err := e.run(ctx, e.FFprobeBin,
		"-i", path,
		"-show_entries", "format=duration",
		"-v", "quiet",
		"-of", "csv=p=0",
	)
	if err != nil {
		return 0, fmt.Errorf("probing duration: %w", err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing probed duration %q: %w", strings.TrimSpace(out), err)
	}
	return duration, nil
}

func (e *FFmpegEncoder) BuildClip(ctx context.Context, framePath, audioPath string, duration float64, dst string) error {
	out, err := e.run(ctx, e.FFmpegBin,
		"-y",
		"-loop", "1",
		"-i", framePath,
		"-i", audioPath,
		"-c:v", "libx264",
		"-tune", "stillimage",
		"-c:a", "aac",
		"-b:a", "192k",
		"-pix_fmt", "yuv420p",
		"-shortest",
		"-t", strconv.FormatFloat(duration, 'f', -1, 64),
		dst,
	)
	if err != nil {
		return fmt.Errorf("building clip: %w\noutput: %s", err, out)
	}
	return nil
}

func (e *FFmpegEncoder) Concat(ctx context.Context, listPath, dst string) error {
	out, err := e.run(ctx, e.FFmpegBin,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		dst,
	)
	if err != nil {
		return fmt.Errorf("concatenating clips: %w\noutput: %s", err, out)
	}
	return nil
}

// VideoAssembler pairs frame images with narration clips and produces one
// continuous video. Frames and audio are matched purely by sorted filename
// index; the audio track is authoritative for each segment's duration.
type VideoAssembler struct {
	Encoder Encoder
	Logger  *logrus.Logger
}

// Assemble builds outputPath from the frames in framesDir and audio clips in
// audioDir. A missing frame at an audio index skips that slide with a
// warning; any encode failure is fatal and names the slide index that broke.
// Intermediates live in a scoped temp dir removed on every path.
func (a *VideoAssembler) Assemble(ctx context.Context, framesDir, audioDir, outputPath string) error {
	frames, err := filepath.Glob(filepath.Join(framesDir, common.FrameGlob))
	if err != nil {
		return &StageError{Stage: StageAssembleVideo, Op: "glob frames", Wrapped: err}
	}
	audio, err := filepath.Glob(filepath.Join(audioDir, common.AudioClipGlob))
	if err != nil {
		return &StageError{Stage: StageAssembleVideo, Op: "glob audio", Wrapped: err}
	}
	sort.Strings(frames)
	sort.Strings(audio)

	if len(audio) == 0 {
		return &StageError{
			Stage:   StageAssembleVideo,
			Op:      "collect inputs",
			Wrapped: fmt.Errorf("no audio clips in %s", audioDir),
		}
	}
	if len(frames) == 0 {
		return &StageError{
			Stage:   StageAssembleVideo,
			Op:      "collect inputs",
			Wrapped: fmt.Errorf("no frames in %s", framesDir),
		}
	}

	tempDir, err := os.MkdirTemp("", "papercast-video-")
	if err != nil {
		return &StageError{Stage: StageAssembleVideo, Op: "create workspace", Wrapped: err}
	}
	defer os.RemoveAll(tempDir)

	var clips []string
	for i, audioPath := range audio {
		slideNum := i + 1
		if i >= len(frames) {
			if a.Logger != nil {
				a.Logger.WithField("slide", slideNum).Warn("no frame for audio clip, skipping slide")
			}
			continue
		}

		stdPath := filepath.Join(tempDir, "std_"+filepath.Base(audioPath))
		if err := a.Encoder.StandardizeAudio(ctx, audioPath, stdPath); err != nil {
			return &StageError{Stage: StageAssembleVideo, Slide: slideNum, Op: "standardize audio", Wrapped: err}
		}

		duration, err := a.Encoder.ProbeDuration(ctx, stdPath)
		if err != nil {
			return &StageError{Stage: StageAssembleVideo, Slide: slideNum, Op: "probe duration", Wrapped: err}
		}
		if duration <= 0 || math.IsNaN(duration) {
			return &StageError{
				Stage:   StageAssembleVideo,
				Slide:   slideNum,
				Op:      "probe duration",
				Wrapped: fmt.Errorf("invalid duration %v for %s", duration, audioPath),
			}
		}

		clipPath := filepath.Join(tempDir, common.ClipName(i, len(audio)))
		if err := a.Encoder.BuildClip(ctx, frames[i], stdPath, duration, clipPath); err != nil {
			return &StageError{Stage: StageAssembleVideo, Slide: slideNum, Op: "build clip", Wrapped: err}
		}
		clips = append(clips, clipPath)
	}

	if len(clips) == 0 {
		return &StageError{
			Stage:   StageAssembleVideo,
			Op:      "build clips",
			Wrapped: fmt.Errorf("no per-slide clips were produced"),
		}
	}
	if extra := len(frames) - len(audio); extra > 0 && a.Logger != nil {
		a.Logger.WithField("extra_frames", extra).Warn("more frames than audio clips, trailing frames ignored")
	}

	listPath := filepath.Join(tempDir, "concat_clips.txt")
	var list strings.Builder
	for _, clip := range clips {
		abs, err := filepath.Abs(clip)
		if err != nil {
			abs = clip
		}
		fmt.Fprintf(&list, "file '%s'\n", abs)
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return &StageError{Stage: StageAssembleVideo, Op: "write concat list", Wrapped: err}
	}

	if err := a.Encoder.Concat(ctx, listPath, outputPath); err != nil {
		return &StageError{Stage: StageAssembleVideo, Op: "concatenate", Wrapped: err}
	}

	if a.Logger != nil {
		a.Logger.WithFields(logrus.Fields{"clips": len(clips), "output": outputPath}).Info("video assembled")
	}
	return nil
}
