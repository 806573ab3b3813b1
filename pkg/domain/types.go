package domain

import "time"

// AnalysisKind selects the prompt sent to the model and the key its result is reported under.
type AnalysisKind string

const (
	KindDescription     AnalysisKind = "description"
	KindObjectDetection AnalysisKind = "object_detection"
	KindOCR             AnalysisKind = "ocr"
	KindCustom          AnalysisKind = "custom"
)

// Known reports whether k is part of the fixed vocabulary.
func (k AnalysisKind) Known() bool {
	switch k {
	case KindDescription, KindObjectDetection, KindOCR, KindCustom:
		return true
	}
	return false
}

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Image is one distinct source file. Filename is its identity.
type Image struct {
	ID            int64        `json:"id"`
	Filename      string       `json:"filename"`
	Filepath      string       `json:"filepath"`
	Address       string       `json:"address,omitempty"`
	Coordinates   *Coordinates `json:"coordinates,omitempty"`
	GoogleMapsURL string       `json:"google_maps_url,omitempty"`
	CapturedAt    *time.Time   `json:"captured_at,omitempty"`
	Width         *int         `json:"width,omitempty"`
	Height        *int         `json:"height,omitempty"`
	FileSizeBytes int64        `json:"file_size_bytes"`
	CreatedAt     time.Time    `json:"created_at"`
	AnalysisCount int64        `json:"analysis_count"`
}

// Payload is the kind-dependent result body. Model text is stored under "response".
type Payload map[string]any

// AnalysisResult is one append-only model invocation record.
type AnalysisResult struct {
	ID               int64        `json:"id"`
	ImageID          int64        `json:"image_id"`
	ModelName        string       `json:"model"`
	Kind             AnalysisKind `json:"type"`
	Result           Payload      `json:"result"`
	ConfidenceScore  *float64     `json:"confidence_score,omitempty"`
	ProcessingTimeMS int64        `json:"processing_time_ms"`
	AnalyzedAt       time.Time    `json:"analyzed_at"`
}
