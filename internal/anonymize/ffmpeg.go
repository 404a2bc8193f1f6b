package anonymize

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bestfriendai/SupaSecret-sub010/internal/model"
)

// Transformer is the device-native blur/transcode capability.
type Transformer interface {
	IsAvailable() bool
	// Process transcodes input into a new file at outputPath, reporting
	// fractional progress in [0,1] as frames are processed.
	Process(ctx context.Context, inputPath, outputPath string, opts Options, onProgress func(float64)) error
}

// Options selects which transforms the pass applies.
type Options struct {
	PrivacyMode model.PrivacyMode
	VoiceChange bool
}

// FFmpegTransformer implements Transformer with an ffmpeg child process.
type FFmpegTransformer struct {
	ffmpegBin  string
	ffprobeBin string
	log        *logrus.Entry
}

// NewFFmpegTransformer uses the given binaries, defaulting to PATH lookup.
func NewFFmpegTransformer(ffmpegBin, ffprobeBin string, log *logrus.Entry) *FFmpegTransformer {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	return &FFmpegTransformer{ffmpegBin: ffmpegBin, ffprobeBin: ffprobeBin, log: log}
}

// IsAvailable reports whether ffmpeg is resolvable on this host.
func (t *FFmpegTransformer) IsAvailable() bool {
	_, err := exec.LookPath(t.ffmpegBin)
	return err == nil
}

// Process runs the anonymization filter chain as a whole-file transcode.
func (t *FFmpegTransformer) Process(ctx context.Context, inputPath, outputPath string, opts Options, onProgress func(float64)) error {
	durationSec, err := t.probeDuration(ctx, inputPath)
	if err != nil {
		return err
	}

	args := []string{"-y", "-i", inputPath}

	// Emoji mode renders its overlay in the presentation layer; both privacy
	// modes require the underlying faces to be unrecoverable in the pixels.
	if opts.PrivacyMode != model.PrivacyModeNone {
		args = append(args, "-vf", "boxblur=luma_radius=20:luma_power=2:chroma_radius=10")
	}
	if opts.VoiceChange {
		args = append(args, "-af", "asetrate=44100*0.85,aresample=44100,atempo=1.1765")
	}

	args = append(args, "-progress", "pipe:1", "-nostats", "-loglevel", "error", outputPath)

	cmd := exec.CommandContext(ctx, t.ffmpegBin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	t.log.WithField("args", strings.Join(args, " ")).Debug("running ffmpeg")

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		// key=value lines; out_time_us tracks the transcode position.
		if v, ok := strings.CutPrefix(line, "out_time_us="); ok && durationSec > 0 {
			us, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				continue
			}
			frac := float64(us) / 1e6 / durationSec
			if frac > 1 {
				frac = 1
			}
			if onProgress != nil {
				onProgress(frac)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	if onProgress != nil {
		onProgress(1)
	}
	return nil
}

// probeDuration reads the container duration in seconds via ffprobe.
func (t *FFmpegTransformer) probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, t.ffprobeBin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	dur, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", probe.Format.Duration, err)
	}
	return dur, nil
}
