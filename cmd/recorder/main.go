package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"retrocam.app/recorder/audiosource"
	"retrocam.app/recorder/codec"
	"retrocam.app/recorder/engine"
	"retrocam.app/recorder/videosource"
)

func main() {
	ffmpegPath := stringEnv("RETROCAM_FFMPEG", "ffmpeg")
	includeAudio := boolEnv("RETROCAM_AUDIO", true)
	preferHardware := boolEnv("RETROCAM_HARDWARE_ENCODER", true)
	debugEnabled := boolEnv("RETROCAM_DEBUG", false)
	fps := intEnvClamped("RETROCAM_FPS", engine.DefaultFPS, 1, 60)
	prerollSeconds := intEnvClamped("RETROCAM_PREROLL_SECONDS", 3, 0, 30)
	outputDir := stringEnv("RETROCAM_OUTPUT_DIR", ".")

	fmt.Println("Arming capture pipeline...")

	video, err := videosource.Open(videosource.Options{
		IncludeAudio: includeAudio,
		RestoreToken: stringEnv("RETROCAM_RESTORE_TOKEN", ""),
	})
	if err != nil {
		log.Fatalf("open video source: %v", err)
	}
	defer video.Close()

	audio := audiosource.Open(video.AudioReader(), audiosource.DefaultFormat)
	defer audio.Close()

	newCodec := func() (codec.Encoder, codec.Muxer) {
		pipeline := codec.NewFFmpegPipeline(codec.FFmpegPipelineOptions{
			FFmpegPath:     ffmpegPath,
			PreferHardware: preferHardware,
			LogOutput:      os.Stderr,
			DebugCommand:   debugEnabled,
		})
		return pipeline, pipeline
	}

	eng := engine.New(engine.Config{
		FPS:            fps,
		PrerollSeconds: float64(prerollSeconds),
		OutputDir:      outputDir,
	}, video, audio, newCodec)

	go eng.Run()
	defer eng.Close()

	// Give the ring buffer a moment to fill with pre-roll history before
	// arming, so the first Start call has something to anchor against.
	time.Sleep(time.Duration(prerollSeconds) * time.Second)

	if err := eng.Start(); err != nil {
		log.Fatalf("start recording: %v", err)
	}
	fmt.Printf("Recording to %s\n", eng.Filename())
	fmt.Println("Press Ctrl+C to stop, or send SIGUSR1 to pause/resume.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sig)

	for s := range sig {
		if s == syscall.SIGUSR1 {
			togglePause(eng)
			continue
		}
		break
	}

	fmt.Println("Stopping...")
	filename, duration := eng.Filename(), eng.DurationMs()
	if err := eng.Stop(); err != nil {
		log.Printf("stop: %v", err)
	}
	if lastErr := eng.LastError(); lastErr != nil {
		log.Printf("last error: %v", lastErr)
	}
	fmt.Printf("Saved %s (%dms)\n", filename, duration)
}

func togglePause(eng *engine.Engine) {
	if eng.State() == engine.Paused {
		fmt.Println("Resuming...")
		_ = eng.Resume()
		return
	}
	fmt.Println("Pausing...")
	_ = eng.Pause()
}
