// Command probe-video prints the metadata of a video and the selectable
// detections of the frame shown at a given time.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/detect"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/pipeline"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/timeline"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/video"
)

func main() {
	var (
		configPath string
		videoPath  string
		at         float64
		probeOnly  bool
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&videoPath, "video", "", "Video file (overrides video.path)")
	flag.Float64Var(&at, "t", 0, "Time in seconds of the frame to detect on")
	flag.BoolVar(&probeOnly, "probe-only", false, "Print metadata without running the model")
	flag.Parse()

	fmt.Println("=== Video Probe & Detection Test ===")
	fmt.Println()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if videoPath != "" {
		cfg.Video.Path = videoPath
	}
	if cfg.Video.Path == "" {
		fmt.Fprintln(os.Stderr, "No video given: set video.path or pass -video")
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.LogConfig{
		Level:  "warn",
		Format: "text",
		Output: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ffmpeg, err := video.NewFFmpegWrapper(cfg.Video.FFmpegPath, cfg.Video.FFprobePath, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FFmpeg not available: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Probing %s...\n", cfg.Video.Path)
	source, err := video.OpenFile(ctx, ffmpeg, cfg.Video.Path, cfg.Video.FrameTimeout, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open video: %v\n", err)
		os.Exit(1)
	}
	defer source.Close()

	info := source.Info()
	fmt.Println("✅ Video opened")
	fmt.Printf("  Format:     %s\n", info.Format)
	fmt.Printf("  Resolution: %dx%d\n", info.Width, info.Height)
	fmt.Printf("  Duration:   %.3fs\n", info.Duration)
	fmt.Printf("  Frames:     %d\n", info.FrameCount)
	fmt.Printf("  FPS:        %.6f\n", info.FPS)
	fmt.Println()

	if probeOnly {
		return
	}
	if cfg.Model.Path == "" {
		fmt.Fprintln(os.Stderr, "No model configured: set model.path")
		os.Exit(1)
	}

	fmt.Printf("Loading model %s...\n", cfg.Model.Path)
	model, err := detect.NewONNXModel(cfg.Model.ONNXConfig(), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load model: %v\n", err)
		os.Exit(1)
	}
	defer model.Close()
	fmt.Println("✅ Model loaded")
	fmt.Println()

	// Half a frame past t bounds the run to the single frame at t.
	driver := pipeline.NewDriver(model, source, cfg.PipelineConfig(), log)
	res, err := driver.Run(ctx, pipeline.Options{
		Start: at,
		End:   at + info.FrameDuration()/2,
		Mode:  pipeline.ModeBatch,
	}, nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Detection failed: %v\n", err)
		os.Exit(1)
	}
	if len(res.Frames) == 0 {
		fmt.Printf("No frame at t=%.3f\n", at)
		return
	}

	fr := res.Frames[0]
	markers := timeline.Markers(fr.Detections, cfg.Model.Labels, true)
	fmt.Printf("Frame at t=%.3f: %d detection(s)\n", fr.Time, len(markers))
	for _, m := range markers {
		fmt.Printf("  [%d] %-20s centre=(%.1f, %.1f) box=(%.3f, %.3f, %.3f, %.3f)\n",
			m.ID, m.Caption, m.X, m.Y, m.Box.Y1(), m.Box.X1(), m.Box.Y2(), m.Box.X2())
	}
	fmt.Println()
	fmt.Println("Start a tracking run with:")
	fmt.Printf("  {\"mode\": \"realtime\", \"start\": %.3f, \"track\": {\"run_id\": \"<run>\", \"time\": %.3f, \"detection_id\": <id>}}\n", fr.Time, fr.Time)
}
