package ai

import (
	"context"
	"encoding/base64"
	"strings"
	"time"
)

// InvokeResult is the outcome of one inference call. Failures are values, not errors.
type InvokeResult struct {
	Success    bool
	Text       string
	Model      string
	DurationMS int64
	Error      string
}

// Invoke sends the image and prompt to /api/generate as a single non-streamed request.
// It never retries.
func (c *OllamaClient) Invoke(ctx context.Context, image []byte, prompt, model string) InvokeResult {
	start := time.Now()
	model = strings.TrimSpace(model)
	reqBody := ollamaGenerateRequest{
		Model:  model,
		Prompt: prompt,
		Images: []string{base64.StdEncoding.EncodeToString(image)},
		Stream: false,
	}

	var resp ollamaGenerateResponse
	_, err := c.doJSON(ctx, "/api/generate", reqBody, &resp)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return InvokeResult{Model: model, DurationMS: elapsed, Error: err.Error()}
	}
	return InvokeResult{
		Success:    true,
		Text:       resp.Response,
		Model:      model,
		DurationMS: elapsed,
	}
}

// VisionModels keeps names that look image-capable ("llava" or "vision", any case).
func VisionModels(models []string) []string {
	out := make([]string, 0, len(models))
	for _, m := range models {
		lower := strings.ToLower(m)
		if strings.Contains(lower, "llava") || strings.Contains(lower, "vision") {
			out = append(out, m)
		}
	}
	return out
}
