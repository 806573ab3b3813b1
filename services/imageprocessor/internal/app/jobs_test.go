package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"streetviewai/pkg/queue"
)

func attachQueue(t *testing.T, env *testEnv) *queue.RedisJobQueue {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	q, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:   redisSrv.Addr(),
		Stream: "test:analyze",
		Group:  "test-workers",
		Block:  20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	env.app.queue = q
	return q
}

func waitJob(t *testing.T, a *App, id string) queue.AnalysisJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := a.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status == queue.StatusCompleted || job.Status == queue.StatusFailed {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return queue.AnalysisJob{}
}

func TestAsyncAnalysisCompletes(t *testing.T) {
	env := newTestEnv(t)
	q := attachQueue(t, env)
	env.writeImage(t, "a.png", []byte("x"))

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		q.Wait()
	}()
	q.Start(ctx, 1, env.app.RunJob)

	job, err := env.app.EnqueueAnalysis(ctx, AnalyzeRequest{Filename: "a.png", Analyses: []string{"ocr", "bogus"}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != queue.StatusPending {
		t.Fatalf("status = %q, want pending", job.Status)
	}

	done := waitJob(t, env.app, job.ID)
	if done.Status != queue.StatusCompleted || done.ImageID == 0 {
		t.Fatalf("unexpected job %+v", done)
	}
	var resp AnalyzeResponse
	if err := json.Unmarshal(done.Result, &resp); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if _, ok := resp.Results["ocr"].(string); !ok {
		t.Fatalf("unexpected ocr result %#v", resp.Results["ocr"])
	}
	if _, ok := resp.Results["bogus"].(map[string]any); !ok {
		t.Fatalf("per-kind error should be part of the result, got %#v", resp.Results["bogus"])
	}
}

func TestAsyncAnalysisMissingImageFails(t *testing.T) {
	env := newTestEnv(t)
	q := attachQueue(t, env)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		q.Wait()
	}()
	q.Start(ctx, 1, env.app.RunJob)

	job, err := env.app.EnqueueAnalysis(ctx, AnalyzeRequest{Filename: "ghost.png"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitJob(t, env.app, job.ID)
	if done.Status != queue.StatusFailed || done.ErrorMessage != "Image not found: ghost.png" {
		t.Fatalf("unexpected job %+v", done)
	}
	if len(done.Analyses) != 1 || done.Analyses[0] != "description" {
		t.Fatalf("expected default analyses, got %v", done.Analyses)
	}
}

func TestGetJobUnknown(t *testing.T) {
	env := newTestEnv(t)
	attachQueue(t, env)
	if _, err := env.app.GetJob(context.Background(), "does-not-exist"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
