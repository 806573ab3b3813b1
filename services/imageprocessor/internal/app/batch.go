package app

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchRequest runs the same analyses over several images.
type BatchRequest struct {
	Filenames    []string `json:"filenames"`
	Analyses     []string `json:"analyses"`
	Model        string   `json:"model,omitempty"`
	CustomPrompt string   `json:"custom_prompt,omitempty"`
}

type BatchItem struct {
	Filename string           `json:"filename"`
	Success  bool             `json:"success"`
	Result   *AnalyzeResponse `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type BatchResponse struct {
	Total      int         `json:"total"`
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
	Results    []BatchItem `json:"results"`
}

// AnalyzeBatch analyzes each filename independently. Results keep input order
// and one failure never stops the others.
func (a *App) AnalyzeBatch(ctx context.Context, req BatchRequest) BatchResponse {
	items := make([]BatchItem, len(req.Filenames))
	var g errgroup.Group
	g.SetLimit(a.batchConcurrency)
	for i, filename := range req.Filenames {
		i, filename := i, filename
		g.Go(func() error {
			resp, err := a.Analyze(ctx, AnalyzeRequest{
				Filename:     filename,
				Analyses:     req.Analyses,
				Model:        req.Model,
				CustomPrompt: req.CustomPrompt,
			})
			if err != nil {
				items[i] = BatchItem{Filename: filename, Error: err.Error()}
				return nil
			}
			items[i] = BatchItem{Filename: filename, Success: true, Result: &resp}
			return nil
		})
	}
	_ = g.Wait()

	out := BatchResponse{Total: len(items), Results: items}
	for _, item := range items {
		if item.Success {
			out.Successful++
		} else {
			out.Failed++
		}
	}
	return out
}
