package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"streetviewai/pkg/domain"
)

// sidecar is the optional <image>.json written next to a captured image.
type sidecar struct {
	Address     string              `json:"address"`
	Coordinates *domain.Coordinates `json:"coordinates"`
	URL         string              `json:"url"`
	CapturedAt  string              `json:"capturedAt"`
	Screenshot  *struct {
		Width  *int `json:"width"`
		Height *int `json:"height"`
	} `json:"screenshot"`
}

var capturedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func sidecarPath(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + ".json"
}

// readSidecar returns (nil, nil) when no sidecar exists.
func readSidecar(imagePath string) (*sidecar, error) {
	data, err := os.ReadFile(sidecarPath(imagePath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var meta sidecar
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode sidecar: %w", err)
	}
	return &meta, nil
}

// apply copies recognized sidecar fields onto img.
func (m *sidecar) apply(img *domain.Image) error {
	img.Address = m.Address
	img.Coordinates = m.Coordinates
	img.GoogleMapsURL = m.URL
	if m.Screenshot != nil {
		img.Width = m.Screenshot.Width
		img.Height = m.Screenshot.Height
	}
	if raw := strings.TrimSpace(m.CapturedAt); raw != "" {
		t, err := parseCapturedAt(raw)
		if err != nil {
			return err
		}
		img.CapturedAt = &t
	}
	return nil
}

func parseCapturedAt(raw string) (time.Time, error) {
	for _, layout := range capturedAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized capturedAt %q", raw)
}
