package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"streetviewai/internal/util"
	"streetviewai/pkg/domain"
)

const reportTimeout = 10 * time.Second

type analysisReport struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Image       ImageSummary    `json:"image"`
	Analyses    []string        `json:"analyses"`
	Response    AnalyzeResponse `json:"response"`
}

func reportKey(image domain.Image, now time.Time) string {
	base := filepath.Base(image.Filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "image"
	}
	return fmt.Sprintf("reports/%s/%d-%d.json", stem, image.ID, now.UnixNano())
}

// archiveReport writes a JSON copy of a completed request. Failures are logged only.
func (a *App) archiveReport(ctx context.Context, image domain.Image, req AnalyzeRequest, resp AnalyzeResponse) {
	if a.reports == nil {
		return
	}
	logger := util.LoggerFromContext(ctx)
	now := time.Now().UTC()
	kinds := req.Analyses
	if len(kinds) == 0 {
		kinds = defaultAnalyses
	}
	body, err := json.MarshalIndent(analysisReport{
		GeneratedAt: now,
		Image:       summarize(image),
		Analyses:    kinds,
		Response:    resp,
	}, "", "  ")
	if err != nil {
		logger.Warn("report_encode_failed", "image_id", image.ID, "err", err)
		return
	}
	key := reportKey(image, now)
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if err := a.reports.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		logger.Warn("report_archive_failed", "image_id", image.ID, "key", key, "err", err)
		return
	}
	logger.Debug("report_archived", "image_id", image.ID, "key", key)
}
