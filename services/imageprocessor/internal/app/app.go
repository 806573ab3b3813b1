package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"streetviewai/pkg/ai"
	"streetviewai/pkg/queue"
	"streetviewai/pkg/storage"
	"streetviewai/pkg/store"
)

const (
	serviceName    = "image-processor"
	serviceTitle   = "Street View Image Processor"
	serviceVersion = "1.0.0"
)

// VisionModel is the subset of the Ollama client the app depends on.
type VisionModel interface {
	Invoke(ctx context.Context, image []byte, prompt, model string) ai.InvokeResult
	CheckHealth(ctx context.Context) bool
	ListModels(ctx context.Context) []string
}

// JobQueue is the async analysis queue.
type JobQueue interface {
	Enqueue(ctx context.Context, job queue.AnalysisJob) (queue.AnalysisJob, error)
	GetJob(ctx context.Context, jobID string) (queue.AnalysisJob, bool, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	InputDir         string
	OutputDir        string
	OllamaBaseURL    string
	DefaultModel     string
	BatchConcurrency int

	Store   store.Store
	Model   VisionModel
	Reports storage.ObjectStore
	Queue   JobQueue
}

// App orchestrates image analysis and serves stored results.
type App struct {
	inputDir         string
	outputDir        string
	ollamaBaseURL    string
	defaultModel     string
	batchConcurrency int

	store   store.Store
	model   VisionModel
	reports storage.ObjectStore
	queue   JobQueue

	resolving singleflight.Group
}

// New constructs the application. Reports and Queue are optional.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Model == nil {
		return nil, errors.New("vision model client required")
	}
	if strings.TrimSpace(cfg.InputDir) == "" {
		return nil, errors.New("input dir required")
	}
	defaultModel := strings.TrimSpace(cfg.DefaultModel)
	if defaultModel == "" {
		return nil, fmt.Errorf("default model required")
	}
	batch := cfg.BatchConcurrency
	if batch <= 0 {
		batch = 1
	}
	return &App{
		inputDir:         cfg.InputDir,
		outputDir:        cfg.OutputDir,
		ollamaBaseURL:    cfg.OllamaBaseURL,
		defaultModel:     defaultModel,
		batchConcurrency: batch,
		store:            cfg.Store,
		model:            cfg.Model,
		reports:          cfg.Reports,
		queue:            cfg.Queue,
	}, nil
}
