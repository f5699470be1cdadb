package codec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"retrocam.app/recorder/internal/processutil"
)

const encoderProbeTimeout = 5 * time.Second

// videoEncoderPlan is one candidate ffmpeg video encoder configuration.
// The hardware candidates keep the same GOP and keyframe-forcing arguments
// the software path uses, so switching encoders never changes the
// negotiated quality knobs.
type videoEncoderPlan struct {
	label      string
	codec      string
	hardware   bool
	globalArgs []string
	codecArgs  []string
}

func selectVideoEncoder(ffmpegPath string, opts VideoOptions, preferHardware bool) videoEncoderPlan {
	software := softwareEncoderPlan(opts)
	if !preferHardware {
		return software
	}

	candidates := hardwareEncoderCandidates(opts)
	if len(candidates) == 0 {
		return software
	}
	if _, err := exec.LookPath(ffmpegPath); err != nil {
		envDebugPrintf("encoder_probe ffmpeg_lookup_failed path=%q err=%v", ffmpegPath, err)
		return software
	}

	available, encErr := ffmpegEncoderSet(ffmpegPath)
	if encErr != nil {
		envDebugPrintf("encoder_probe ffmpeg_encoders_failed err=%v", encErr)
	}

	for _, candidate := range candidates {
		if len(available) > 0 {
			if _, ok := available[candidate.codec]; !ok {
				envDebugPrintf("encoder_probe skip encoder=%q reason=not_in_ffmpeg_encoder_list", candidate.label)
				continue
			}
		}
		if err := probeVideoEncoder(ffmpegPath, candidate); err == nil {
			envDebugPrintf("encoder_probe selected=%q mode=hardware", candidate.label)
			return candidate
		} else {
			envDebugPrintf("encoder_probe failed encoder=%q err=%v", candidate.label, err)
		}
	}

	envDebugPrintf("encoder_probe selected=%q mode=software reason=all_hardware_probes_failed", software.label)
	return software
}

func ffmpegEncoderSet(ffmpegPath string) (map[string]struct{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), encoderProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders")
	processutil.HideConsoleWindow(cmd)
	out, err := cmd.Output()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("ffmpeg -encoders timeout after %s", encoderProbeTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -encoders failed: %w", err)
	}

	encoders := make(map[string]struct{})
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) < 2 {
			continue
		}
		if strings.Contains(fields[0], "V") {
			encoders[fields[1]] = struct{}{}
		}
	}
	return encoders, nil
}

func probeVideoEncoder(ffmpegPath string, plan videoEncoderPlan) error {
	ctx, cancel := context.WithTimeout(context.Background(), encoderProbeTimeout)
	defer cancel()

	args := []string{"-v", "error", "-nostdin"}
	args = append(args, plan.globalArgs...)
	args = append(args,
		"-f", "lavfi",
		"-i", "color=c=black:s=1280x720:r=30:d=0.5",
		"-an",
		"-frames:v", "8",
		"-r", "30",
	)
	args = append(args, plan.codecArgs...)
	args = append(args, "-f", "null", "-")

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	processutil.HideConsoleWindow(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return fmt.Errorf("probe timeout after %s", encoderProbeTimeout)
	}
	if err != nil {
		return fmt.Errorf("probe failed: %w: %s", err, tailString(strings.TrimSpace(stderr.String()), 240))
	}
	return nil
}

func hardwareEncoderCandidates(opts VideoOptions) []videoEncoderPlan {
	gopArg := gopString(opts)
	switch runtime.GOOS {
	case "darwin":
		return []videoEncoderPlan{
			hardwareEncoderPlan("h264_videotoolbox", "h264_videotoolbox", nil, gopArg),
		}
	case "windows":
		return []videoEncoderPlan{
			hardwareEncoderPlan("h264_nvenc", "h264_nvenc", nil, gopArg),
			hardwareEncoderPlan("h264_amf", "h264_amf", nil, gopArg),
			hardwareEncoderPlan("h264_qsv", "h264_qsv", nil, gopArg),
		}
	default:
		candidates := []videoEncoderPlan{
			hardwareEncoderPlan("h264_nvenc", "h264_nvenc", nil, gopArg),
		}
		devices, err := filepath.Glob("/dev/dri/renderD*")
		if err == nil {
			for _, dev := range devices {
				label := fmt.Sprintf("h264_vaapi (%s)", dev)
				candidates = append(candidates, hardwareEncoderPlan("h264_vaapi", label, []string{"-vaapi_device", dev}, gopArg))
			}
		}
		candidates = append(candidates, hardwareEncoderPlan("h264_qsv", "h264_qsv", nil, gopArg))
		return candidates
	}
}

func hardwareEncoderPlan(codec, label string, globalArgs []string, gopArg string) videoEncoderPlan {
	return videoEncoderPlan{
		label:      label,
		codec:      codec,
		hardware:   true,
		globalArgs: append([]string(nil), globalArgs...),
		codecArgs: []string{
			"-c:v", codec,
			"-g", gopArg,
			"-bf", "0",
			"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%s)", gopArg),
		},
	}
}

func softwareEncoderPlan(opts VideoOptions) videoEncoderPlan {
	gopArg := gopString(opts)
	return videoEncoderPlan{
		label:    "libx264",
		codec:    "libx264",
		hardware: false,
		codecArgs: []string{
			"-c:v", "libx264",
			"-preset", opts.Preset,
			"-tune", "zerolatency",
			"-crf", fmt.Sprintf("%d", opts.CRF),
			"-bf", fmt.Sprintf("%d", opts.BFrames),
			"-pix_fmt", "yuv420p",
			"-g", gopArg,
			"-keyint_min", gopArg,
			"-sc_threshold", "0",
			"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%s)", gopArg),
		},
	}
}

func gopString(opts VideoOptions) string {
	return fmt.Sprintf("%d", opts.GOPFrames)
}

func tailString(input string, max int) string {
	if input == "" {
		return "no ffmpeg stderr output"
	}
	if max <= 0 || len(input) <= max {
		return input
	}
	return input[len(input)-max:]
}
