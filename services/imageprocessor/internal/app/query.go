package app

import (
	"context"
	"fmt"
	"time"

	"streetviewai/pkg/ai"
	"streetviewai/pkg/domain"
	"streetviewai/pkg/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ImageSummary is the public projection of an image. Absent metadata is null.
type ImageSummary struct {
	ID          int64               `json:"id"`
	Filename    string              `json:"filename"`
	Address     *string             `json:"address"`
	Coordinates *domain.Coordinates `json:"coordinates"`
	CapturedAt  *time.Time          `json:"captured_at"`
}

type AnalysisView struct {
	ID               int64          `json:"id"`
	Type             string         `json:"type"`
	Model            string         `json:"model"`
	Result           domain.Payload `json:"result"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
	AnalyzedAt       time.Time      `json:"analyzed_at"`
}

type ResultsResponse struct {
	Image    ImageSummary   `json:"image"`
	Analyses []AnalysisView `json:"analyses"`
}

type ImageListItem struct {
	ImageSummary
	AnalysisCount int64 `json:"analysis_count"`
}

type ListImagesRequest struct {
	AnalyzedOnly bool
	Limit        int
	Offset       int
}

type ImagesResponse struct {
	Total  int64           `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
	Images []ImageListItem `json:"images"`
}

type HealthResponse struct {
	Status          string `json:"status"`
	Service         string `json:"service"`
	OllamaAvailable bool   `json:"ollama_available"`
	Timestamp       string `json:"timestamp"`
}

type ModelsResponse struct {
	AllModels    []string `json:"all_models"`
	VisionModels []string `json:"vision_models"`
	DefaultModel string   `json:"default_model"`
}

type InfoResponse struct {
	Service         string            `json:"service"`
	Version         string            `json:"version"`
	OllamaURL       string            `json:"ollama_url"`
	DefaultModel    string            `json:"default_model"`
	InputDirectory  string            `json:"input_directory"`
	OutputDirectory string            `json:"output_directory"`
	AsyncEnabled    bool              `json:"async_enabled"`
	Capabilities    map[string]string `json:"capabilities"`
	Endpoints       map[string]string `json:"endpoints"`
}

// GetResults returns an image and its analysis history in insertion order.
func (a *App) GetResults(ctx context.Context, imageID int64) (ResultsResponse, error) {
	img, analyses, ok, err := a.store.GetImageWithAnalyses(ctx, imageID)
	if err != nil {
		return ResultsResponse{}, fmt.Errorf("get image %d: %w", imageID, err)
	}
	if !ok {
		return ResultsResponse{}, newError(ErrNotFound, nil, "Image not found")
	}
	views := make([]AnalysisView, 0, len(analyses))
	for _, r := range analyses {
		views = append(views, AnalysisView{
			ID:               r.ID,
			Type:             string(r.Kind),
			Model:            r.ModelName,
			Result:           r.Result,
			ProcessingTimeMS: r.ProcessingTimeMS,
			AnalyzedAt:       r.AnalyzedAt,
		})
	}
	return ResultsResponse{Image: summarize(img), Analyses: views}, nil
}

// ListImages returns a page of images, newest first.
func (a *App) ListImages(ctx context.Context, req ListImagesRequest) (ImagesResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}
	total, images, err := a.store.ListImages(ctx, store.ImageFilter{
		AnalyzedOnly: req.AnalyzedOnly,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		return ImagesResponse{}, fmt.Errorf("list images: %w", err)
	}
	items := make([]ImageListItem, 0, len(images))
	for _, img := range images {
		items = append(items, ImageListItem{ImageSummary: summarize(img), AnalysisCount: img.AnalysisCount})
	}
	return ImagesResponse{Total: total, Limit: limit, Offset: offset, Images: items}, nil
}

// Health reports degraded when the model endpoint does not answer.
func (a *App) Health(ctx context.Context) HealthResponse {
	ok := a.model.CheckHealth(ctx)
	status := "healthy"
	if !ok {
		status = "degraded"
	}
	return HealthResponse{
		Status:          status,
		Service:         serviceName,
		OllamaAvailable: ok,
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Ready checks the database.
func (a *App) Ready(ctx context.Context) error {
	return a.store.Ping(ctx)
}

func (a *App) Models(ctx context.Context) ModelsResponse {
	models := a.model.ListModels(ctx)
	if models == nil {
		models = []string{}
	}
	return ModelsResponse{
		AllModels:    models,
		VisionModels: ai.VisionModels(models),
		DefaultModel: a.defaultModel,
	}
}

func (a *App) Info() InfoResponse {
	return InfoResponse{
		Service:         serviceTitle,
		Version:         serviceVersion,
		OllamaURL:       a.ollamaBaseURL,
		DefaultModel:    a.defaultModel,
		InputDirectory:  a.inputDir,
		OutputDirectory: a.outputDir,
		AsyncEnabled:    a.queue != nil,
		Capabilities: map[string]string{
			string(domain.KindDescription):     "Detailed scene descriptions",
			string(domain.KindObjectDetection): "Object and feature identification",
			string(domain.KindOCR):             "Text extraction from signs and labels",
			string(domain.KindCustom):          "Custom prompts for specific analysis needs",
		},
		Endpoints: map[string]string{
			"/analyze":            "POST - Analyze single image",
			"/analyze-batch":      "POST - Analyze multiple images",
			"/analyze-async":      "POST - Queue an analysis job",
			"/jobs/{job_id}":      "GET - Async job status",
			"/results/{image_id}": "GET - Retrieve analysis results",
			"/images":             "GET - List all images",
			"/models":             "GET - List available models",
			"/health":             "GET - Health check",
			"/info":               "GET - Service information",
		},
	}
}

func summarize(img domain.Image) ImageSummary {
	s := ImageSummary{
		ID:          img.ID,
		Filename:    img.Filename,
		Coordinates: img.Coordinates,
		CapturedAt:  img.CapturedAt,
	}
	if img.Address != "" {
		addr := img.Address
		s.Address = &addr
	}
	return s
}
