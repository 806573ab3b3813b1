package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"streetviewai/internal/util"
	"streetviewai/pkg/ai"
	"streetviewai/pkg/domain"
)

// AnalyzeRequest asks for one or more analyses of a single input image.
type AnalyzeRequest struct {
	Filename     string   `json:"filename"`
	Analyses     []string `json:"analyses"`
	Model        string   `json:"model,omitempty"`
	CustomPrompt string   `json:"custom_prompt,omitempty"`
}

// AnalyzeResponse maps each requested kind to its text, or to a KindError.
type AnalyzeResponse struct {
	ImageID          int64          `json:"image_id"`
	Filename         string         `json:"filename"`
	Model            string         `json:"model"`
	Results          map[string]any `json:"results"`
	ProcessingTimeMS int64          `json:"processing_time_ms"`
}

// KindError is reported in place of a result for a failed kind.
type KindError struct {
	Error string `json:"error"`
}

var defaultAnalyses = []string{string(domain.KindDescription)}

// Analyze runs each requested kind against the image sequentially and
// commits the successful results together.
// Only a missing image aborts the request; other failures are per kind.
func (a *App) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResponse, error) {
	logger := util.LoggerFromContext(ctx)
	filename := req.Filename
	if !filepath.IsLocal(filename) {
		return AnalyzeResponse{}, newError(ErrInvalidRequest, nil, "invalid filename: %q", filename)
	}
	kinds := req.Analyses
	if len(kinds) == 0 {
		kinds = defaultAnalyses
	}

	imagePath := filepath.Join(a.inputDir, filename)
	info, err := os.Stat(imagePath)
	if err != nil || info.IsDir() {
		return AnalyzeResponse{}, newError(ErrNotFound, err, "Image not found: %s", filename)
	}

	image, err := a.resolveImage(ctx, filename, imagePath, info.Size())
	if err != nil {
		return AnalyzeResponse{}, newError(ErrPersistence, err, "failed to resolve image record")
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return AnalyzeResponse{}, newError(ErrNotFound, err, "Image not found: %s", filename)
		}
		return AnalyzeResponse{}, fmt.Errorf("read image: %w", err)
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = a.defaultModel
	}

	results := make(map[string]any, len(kinds))
	pending := make([]domain.AnalysisResult, 0, len(kinds))
	var total int64
	for _, name := range kinds {
		kind := domain.AnalysisKind(name)
		prompt, errMsg := promptFor(kind, req.CustomPrompt)
		if errMsg != "" {
			results[name] = KindError{Error: errMsg}
			continue
		}

		res := a.model.Invoke(ctx, data, prompt, model)
		if !res.Success {
			msg := res.Error
			if msg == "" {
				msg = "Analysis failed"
			}
			logger.Warn("analysis_failed", "filename", filename, "kind", name, "model", model, "duration_ms", res.DurationMS, "err", msg)
			results[name] = KindError{Error: msg}
			continue
		}

		results[name] = res.Text
		total += res.DurationMS
		resultModel := res.Model
		if resultModel == "" {
			resultModel = model
		}
		pending = append(pending, domain.AnalysisResult{
			ImageID:          image.ID,
			ModelName:        resultModel,
			Kind:             kind,
			Result:           domain.Payload{"response": res.Text},
			ProcessingTimeMS: res.DurationMS,
			AnalyzedAt:       time.Now().UTC(),
		})
	}

	if len(pending) > 0 {
		if _, err := a.store.AppendAnalyses(ctx, pending); err != nil {
			logger.Error("analysis_commit_failed", "filename", filename, "image_id", image.ID, "rows", len(pending), "err", err)
			return AnalyzeResponse{}, newError(ErrPersistence, err, "failed to store analysis results")
		}
	}

	resp := AnalyzeResponse{
		ImageID:          image.ID,
		Filename:         filename,
		Model:            model,
		Results:          results,
		ProcessingTimeMS: total,
	}
	logger.Info("analysis_completed", "filename", filename, "image_id", image.ID, "kinds", len(kinds), "stored", len(pending), "processing_time_ms", total)
	if len(pending) > 0 {
		a.archiveReport(ctx, image, req, resp)
	}
	return resp, nil
}

// promptFor returns the prompt for kind, or the per-kind error message.
// A custom kind without a prompt is reported like an unknown kind.
func promptFor(kind domain.AnalysisKind, customPrompt string) (string, string) {
	if kind.Known() {
		if kind == domain.KindCustom && strings.TrimSpace(customPrompt) != "" {
			return customPrompt, ""
		}
		if prompt, ok := ai.PromptFor(kind); ok {
			return prompt, ""
		}
	}
	return "", "Unknown analysis type: " + string(kind)
}

// resolveImage finds the image row for filename, creating it on first use.
// Concurrent callers in this process share one lookup; across processes the
// unique filename constraint decides.
func (a *App) resolveImage(ctx context.Context, filename, imagePath string, size int64) (domain.Image, error) {
	v, err, _ := a.resolving.Do(filename, func() (any, error) {
		img, ok, err := a.store.GetImageByFilename(ctx, filename)
		if err != nil {
			return domain.Image{}, err
		}
		if ok {
			return img, nil
		}
		img = domain.Image{
			Filename:      filename,
			Filepath:      imagePath,
			FileSizeBytes: size,
		}
		a.applySidecar(ctx, imagePath, &img)
		return a.store.CreateImage(ctx, img)
	})
	if err != nil {
		return domain.Image{}, err
	}
	return v.(domain.Image), nil
}

func (a *App) applySidecar(ctx context.Context, imagePath string, img *domain.Image) {
	logger := util.LoggerFromContext(ctx)
	meta, err := readSidecar(imagePath)
	if err != nil {
		logger.Warn("sidecar_ignored", "path", sidecarPath(imagePath), "err", err)
		return
	}
	if meta == nil {
		return
	}
	if err := meta.apply(img); err != nil {
		logger.Warn("sidecar_field_ignored", "path", sidecarPath(imagePath), "err", err)
	}
}
