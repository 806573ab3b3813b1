package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"streetviewai/internal/util"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const errWorkerLost = "worker stopped before the job finished"

// AnalysisJob is the persisted state of one asynchronous analyze request.
type AnalysisJob struct {
	ID           string          `json:"id"`
	Filename     string          `json:"filename"`
	Analyses     []string        `json:"analyses"`
	Model        string          `json:"model,omitempty"`
	CustomPrompt string          `json:"custom_prompt,omitempty"`
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error,omitempty"`
	Attempts     int             `json:"attempts"`
	ImageID      int64           `json:"image_id,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// JobOutcome is what a handler reports for a completed job.
type JobOutcome struct {
	ImageID int64
	Result  json.RawMessage
}

// Handler runs one job. A returned error fails (or retries) the job.
type Handler func(context.Context, AnalysisJob) (JobOutcome, error)

type RedisJobQueue struct {
	client       *redis.Client
	ownsClient   bool
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxAttempts  int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
	wg           sync.WaitGroup
}

type RedisQueueConfig struct {
	Addr     string
	Password string
	// Client, when set, is used instead of dialing Addr.
	Client      *redis.Client
	Stream      string
	Group       string
	Consumer    string
	JobTTL      time.Duration
	MaxAttempts int
	Block       time.Duration
	ClaimIdle   time.Duration
	RetryDelay  time.Duration
	MaxLen      int64
	ReadCount   int64
	ClaimCount  int64
}

func NewRedisJobQueue(cfg RedisQueueConfig) (*RedisJobQueue, error) {
	client := cfg.Client
	ownsClient := false
	if client == nil {
		addr := strings.TrimSpace(cfg.Addr)
		if addr == "" {
			return nil, errors.New("redis addr required")
		}
		client = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password})
		ownsClient = true
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "default"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	jobTTL := cfg.JobTTL
	if jobTTL <= 0 {
		jobTTL = 24 * time.Hour
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		// Must exceed a full analyze run or live deliveries get reclaimed.
		claimIdle = 10 * time.Minute
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 1
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}

	return &RedisJobQueue{
		client:       client,
		ownsClient:   ownsClient,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		jobTTL:       jobTTL,
		maxAttempts:  maxAttempts,
		block:        block,
		claimIdle:    claimIdle,
		retryDelay:   retryDelay,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
	}, nil
}

// Enqueue stores a pending job and appends its id to the stream.
func (q *RedisJobQueue) Enqueue(ctx context.Context, job AnalysisJob) (AnalysisJob, error) {
	job.Filename = strings.TrimSpace(job.Filename)
	if job.Filename == "" {
		return AnalysisJob{}, errors.New("filename required")
	}
	now := time.Now().UTC()
	job.ID = uuid.NewString()
	job.Status = StatusPending
	job.ErrorMessage = ""
	job.Attempts = 0
	job.ImageID = 0
	job.Result = nil
	job.CreatedAt = now
	job.UpdatedAt = now
	if err := q.writeStatus(ctx, job); err != nil {
		return AnalysisJob{}, err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"job_id": job.ID},
	}).Err(); err != nil {
		return AnalysisJob{}, err
	}
	return job, nil
}

func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (AnalysisJob, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return AnalysisJob{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return AnalysisJob{}, false, err
	}
	if len(data) == 0 {
		return AnalysisJob{}, false, nil
	}
	return decodeJob(jobID, data), true, nil
}

// Start launches concurrency consumers that run until ctx is done.
func (q *RedisJobQueue) Start(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.consumeLoop(ctx, consumer, handler)
		}()
	}
}

// Wait blocks until every consumer started by Start has returned.
func (q *RedisJobQueue) Wait() {
	q.wg.Wait()
}

// Close releases the Redis client when the queue created it.
func (q *RedisJobQueue) Close() error {
	if !q.ownsClient {
		return nil
	}
	return q.client.Close()
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		// "0" so jobs enqueued before the first consumer started are delivered.
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			util.LoggerFromContext(ctx).Warn("queue_group_create_failed", "stream", q.stream, "group", q.group, "err", err)
		}
	})
}

func (q *RedisJobQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				util.LoggerFromContext(ctx).Warn("queue_read_failed", "stream", q.stream, "err", err)
				q.pause(ctx, time.Second)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisJobQueue) pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (q *RedisJobQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	logger := util.LoggerFromContext(ctx)
	jobID, _ := msg.Values["job_id"].(string)
	if jobID == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, ok, err := q.GetJob(ctx, jobID)
	if err != nil || !ok {
		if err != nil {
			logger.Warn("queue_job_load_failed", "job_id", jobID, "err", err)
		}
		q.ackAndDel(ctx, msg.ID)
		return
	}
	switch {
	case job.Status == StatusCompleted || job.Status == StatusFailed:
		q.ackAndDel(ctx, msg.ID)
		return
	case job.Attempts >= q.maxAttempts:
		// Reclaimed from a consumer that died mid-run; the attempt budget is spent.
		logger.Warn("queue_job_abandoned", "job_id", jobID, "attempts", job.Attempts, "status", job.Status)
		if err := q.markFailed(ctx, job, errWorkerLost); err != nil {
			logger.Warn("queue_job_status_failed", "job_id", jobID, "err", err)
		}
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, err = q.markProcessing(ctx, job)
	if err != nil {
		logger.Warn("queue_job_status_failed", "job_id", jobID, "err", err)
		return
	}

	outcome, err := handler(ctx, job)
	if err == nil {
		if err := q.markCompleted(ctx, job, outcome); err != nil {
			logger.Warn("queue_job_status_failed", "job_id", jobID, "err", err)
		}
		q.ackAndDel(ctx, msg.ID)
		return
	}
	if job.Attempts >= q.maxAttempts {
		logger.Warn("queue_job_failed", "job_id", jobID, "attempts", job.Attempts, "err", err)
		_ = q.markFailed(ctx, job, err.Error())
		q.ackAndDel(ctx, msg.ID)
		return
	}
	_ = q.markPending(ctx, job, err.Error())
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	_ = q.requeueAndAck(ctx, msg.ID, jobID)
}

func (q *RedisJobQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *RedisJobQueue) requeueAndAck(ctx context.Context, msgID, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{"job_id": jobID},
	})
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) markProcessing(ctx context.Context, job AnalysisJob) (AnalysisJob, error) {
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if err := q.writeStatus(ctx, job); err != nil {
		return AnalysisJob{}, err
	}
	return job, nil
}

func (q *RedisJobQueue) markPending(ctx context.Context, job AnalysisJob, errMsg string) error {
	job.Status = StatusPending
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

func (q *RedisJobQueue) markCompleted(ctx context.Context, job AnalysisJob, outcome JobOutcome) error {
	job.Status = StatusCompleted
	job.ErrorMessage = ""
	job.ImageID = outcome.ImageID
	job.Result = outcome.Result
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

func (q *RedisJobQueue) markFailed(ctx context.Context, job AnalysisJob, errMsg string) error {
	job.Status = StatusFailed
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

func (q *RedisJobQueue) writeStatus(ctx context.Context, job AnalysisJob) error {
	analyses, err := json.Marshal(job.Analyses)
	if err != nil {
		return fmt.Errorf("encode analyses: %w", err)
	}
	key := q.jobKey(job.ID)
	payload := map[string]any{
		"id":           job.ID,
		"filename":     job.Filename,
		"analyses":     string(analyses),
		"model":        job.Model,
		"customPrompt": job.CustomPrompt,
		"status":       job.Status,
		"error":        job.ErrorMessage,
		"attempts":     strconv.Itoa(job.Attempts),
		"imageId":      strconv.FormatInt(job.ImageID, 10),
		"result":       string(job.Result),
		"createdAt":    job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt":    job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

func (q *RedisJobQueue) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func decodeJob(jobID string, data map[string]string) AnalysisJob {
	job := AnalysisJob{
		ID:           jobID,
		Filename:     data["filename"],
		Model:        data["model"],
		CustomPrompt: data["customPrompt"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if v := data["analyses"]; v != "" {
		_ = json.Unmarshal([]byte(v), &job.Analyses)
	}
	if v := data["attempts"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			job.Attempts = n
		}
	}
	if v := data["imageId"]; v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			job.ImageID = n
		}
	}
	if v := data["result"]; v != "" {
		job.Result = json.RawMessage(v)
	}
	if v := data["createdAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.CreatedAt = t
		}
	}
	if v := data["updatedAt"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			job.UpdatedAt = t
		}
	}
	return job
}
