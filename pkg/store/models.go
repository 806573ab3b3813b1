package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. Table names follow the images schema.
type ImageModel struct {
	ID            int64   `gorm:"primaryKey;autoIncrement"`
	Filename      string  `gorm:"size:255;uniqueIndex;not null"`
	Filepath      string  `gorm:"size:512;not null"`
	Address       *string `gorm:"type:text"`
	Coordinates   datatypes.JSON
	GoogleMapsURL *string `gorm:"column:google_maps_url;type:text"`
	CapturedAt    *time.Time
	Width         *int
	Height        *int
	FileSizeBytes int64     `gorm:"column:file_size_bytes"`
	CreatedAt     time.Time `gorm:"not null;index"`

	Analyses []AnalysisResultModel `gorm:"foreignKey:ImageID;constraint:OnDelete:CASCADE"`
}

func (ImageModel) TableName() string { return "images" }

type AnalysisResultModel struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	ImageID          int64  `gorm:"not null;index"`
	ModelName        string `gorm:"size:100;not null"`
	AnalysisType     string `gorm:"size:50;not null;index"`
	ResultData       datatypes.JSON
	ConfidenceScore  *float64
	ProcessingTimeMS int64     `gorm:"column:processing_time_ms"`
	AnalyzedAt       time.Time `gorm:"not null;index"`

	DetectedObjects []DetectedObjectModel `gorm:"foreignKey:AnalysisID;constraint:OnDelete:CASCADE"`
	ExtractedTexts  []ExtractedTextModel  `gorm:"foreignKey:AnalysisID;constraint:OnDelete:CASCADE"`
}

func (AnalysisResultModel) TableName() string { return "analysis_results" }

// DetectedObjectModel and ExtractedTextModel hold parsed detail rows for a
// future extraction stage. Nothing writes them yet.
type DetectedObjectModel struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	AnalysisID  int64  `gorm:"not null;index"`
	ObjectClass string `gorm:"size:100;not null"`
	Confidence  *float64
	BoundingBox datatypes.JSON
	CreatedAt   time.Time
}

func (DetectedObjectModel) TableName() string { return "detected_objects" }

type ExtractedTextModel struct {
	ID          int64   `gorm:"primaryKey;autoIncrement"`
	AnalysisID  int64   `gorm:"not null;index"`
	TextContent string  `gorm:"type:text;not null"`
	Language    *string `gorm:"size:10"`
	BoundingBox datatypes.JSON
	Confidence  *float64
	CreatedAt   time.Time
}

func (ExtractedTextModel) TableName() string { return "extracted_text" }
