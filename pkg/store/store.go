package store

import (
	"context"

	"streetviewai/pkg/domain"
)

// ImageFilter selects a page of images.
type ImageFilter struct {
	AnalyzedOnly bool
	Limit        int
	Offset       int
}

// Store persists images and their append-only analysis history.
type Store interface {
	// images
	GetImageByFilename(ctx context.Context, filename string) (domain.Image, bool, error)
	// CreateImage inserts img unless its filename already exists, in which
	// case the stored row is returned unchanged.
	CreateImage(ctx context.Context, img domain.Image) (domain.Image, error)
	ListImages(ctx context.Context, filter ImageFilter) (int64, []domain.Image, error)
	GetImageWithAnalyses(ctx context.Context, id int64) (domain.Image, []domain.AnalysisResult, bool, error)

	// analyses
	AppendAnalysis(ctx context.Context, res domain.AnalysisResult) (domain.AnalysisResult, error)
	AppendAnalyses(ctx context.Context, res []domain.AnalysisResult) ([]domain.AnalysisResult, error)

	Ping(ctx context.Context) error
}
