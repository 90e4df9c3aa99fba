package models

import (
	"fmt"
	"time"
)

// Project groups jobs. The default project always exists.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Settings are the user-adjustable runtime options persisted between runs.
type Settings struct {
	Concurrency    int    `json:"maxConcurrent"`
	SavePath       string `json:"savePath"`
	DownloadPrefix string `json:"downloadPrefix"`
}

const (
	RatioLandscape = "16:9"
	RatioPortrait  = "9:16"

	Duration10s = "10s"
	Duration15s = "15s"
)

// DeriveModel maps an aspect ratio and clip duration to the endpoint's model name.
func DeriveModel(ratio, duration string) (string, error) {
	var suffix string
	switch duration {
	case Duration10s:
		suffix = "10s"
	case Duration15s:
		suffix = "15s"
	default:
		return "", fmt.Errorf("duration must be %s or %s, got %q", Duration10s, Duration15s, duration)
	}

	switch ratio {
	case RatioLandscape:
		return "sora-video-" + suffix, nil
	case RatioPortrait:
		return "sora-video-portrait-" + suffix, nil
	default:
		return "", fmt.Errorf("ratio must be %s or %s, got %q", RatioLandscape, RatioPortrait, ratio)
	}
}
