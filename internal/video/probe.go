package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ffprobe -of json output, only the fields used here.
type probeOutput struct {
	Streams []struct {
		CodecType     string `json:"codec_type"`
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
		Duration      string `json:"duration"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

// Probe reads the metadata of a video file with ffprobe.
func (f *FFmpegWrapper) Probe(ctx context.Context, path string) (Info, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=codec_type,width,height,nb_frames,nb_read_packets,duration:format=format_name,duration",
		"-of", "json",
		path,
	}

	cmd := f.BuildProbeCommand(ctx, args)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Info{}, fmt.Errorf("ffprobe failed: %s: %w", strings.TrimSpace(stderr.String()), err)
	}

	info, err := ParseProbeOutput(stdout.Bytes())
	if err != nil {
		return Info{}, err
	}

	f.logger.Debug("Video probed",
		"path", path,
		"fps", info.FPS,
		"frames", info.FrameCount,
		"duration", info.Duration,
		"format", info.Format,
	)
	return info, nil
}

// ParseProbeOutput converts ffprobe JSON into Info. The frame rate is derived
// from the frame count and duration.
func ParseProbeOutput(data []byte) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrNoVideoInfo, err)
	}

	var info Info
	found := false
	for _, s := range out.Streams {
		if s.CodecType != "" && s.CodecType != "video" {
			continue
		}
		found = true
		info.Width = s.Width
		info.Height = s.Height
		info.FrameCount = parseInt(s.NbFrames)
		if info.FrameCount == 0 {
			info.FrameCount = parseInt(s.NbReadPackets)
		}
		info.Duration = parseFloat(s.Duration)
		break
	}
	if !found {
		return Info{}, fmt.Errorf("%w: no video stream", ErrNoVideoInfo)
	}

	if info.Duration <= 0 {
		info.Duration = parseFloat(out.Format.Duration)
	}
	info.Format = out.Format.FormatName
	info.FPS = FrameRate(info.FrameCount, info.Duration)

	if err := info.Validate(); err != nil {
		return Info{}, err
	}
	return info, nil
}

func parseInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
