package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/repoqa/repoqa/pkg/models"
)

const (
	// IndexRepo is the queue name for repository indexing jobs.
	IndexRepo = "index-repo"

	// MaxAttempts is the total number of tries a job gets.
	MaxAttempts = 3

	backoffBase     = 5 * time.Second
	retainCompleted = 100
	retainFailed    = 50
)

// ErrJobNotFound indicates an unknown or already-evicted job id.
var ErrJobNotFound = errors.New("job not found")

// Queue is a durable Redis-backed job queue. Pending and active jobs live in
// lists, retries wait in a sorted set scored by their due time, and each job's
// state lives in its own hash.
type Queue struct {
	rdb  *redis.Client
	name string
}

// New connects to Redis and returns a queue with the given name.
func New(redisURL, name string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Queue{rdb: redis.NewClient(opts), name: name}, nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(rdb *redis.Client, name string) *Queue {
	return &Queue{rdb: rdb, name: name}
}

func (q *Queue) Close() error { return q.rdb.Close() }

// Ping checks Redis connectivity.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *Queue) key(suffix string) string {
	return "repoqa:queue:" + q.name + ":" + suffix
}

func jobKey(id string) string { return "repoqa:job:" + id }

// Enqueue creates a job and places it on the pending list.
func (q *Queue) Enqueue(ctx context.Context, data models.IndexJobData) (*models.Job, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal job data: %w", err)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.NewString(),
		Data:      data,
		State:     models.JobQueued,
		Progress:  0,
		Attempts:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}

	fields := map[string]interface{}{
		"data":      string(payload),
		"state":     string(models.JobQueued),
		"progress":  0,
		"attempts":  0,
		"createdAt": now.Format(time.RFC3339Nano),
		"updatedAt": now.Format(time.RFC3339Nano),
		"cancel":    0,
	}
	if err := q.rdb.HSet(ctx, jobKey(job.ID), fields).Err(); err != nil {
		return nil, fmt.Errorf("store job %s: %w", job.ID, err)
	}
	if err := q.rdb.LPush(ctx, q.key("pending"), job.ID).Err(); err != nil {
		return nil, fmt.Errorf("push job %s: %w", job.ID, err)
	}

	log.Info().Str("job_id", job.ID).Str("queue", q.name).Msg("job enqueued")
	return job, nil
}

// Dequeue blocks up to timeout for a pending job, moves it to the active
// list and marks it running. Returns (nil, nil) when the timeout lapses.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*models.Job, error) {
	id, err := q.rdb.BRPopLPush(ctx, q.key("pending"), q.key("active"), timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	if err := q.update(ctx, id, map[string]interface{}{
		"state": string(models.JobActive),
	}); err != nil {
		return nil, err
	}
	if err := q.rdb.HIncrBy(ctx, jobKey(id), "attempts", 1).Err(); err != nil {
		return nil, err
	}
	return q.Status(ctx, id)
}

// SetProgress records a 0-100 completion percentage.
func (q *Queue) SetProgress(ctx context.Context, id string, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return q.update(ctx, id, map[string]interface{}{"progress": pct})
}

// Complete marks a job successful and applies the completed retention.
func (q *Queue) Complete(ctx context.Context, id string, result *models.IndexJobResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := q.update(ctx, id, map[string]interface{}{
		"state":    string(models.JobCompleted),
		"progress": 100,
		"result":   string(payload),
	}); err != nil {
		return err
	}
	if err := q.rdb.LRem(ctx, q.key("active"), 0, id).Err(); err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.key("completed"), id).Err(); err != nil {
		return err
	}
	return q.trim(ctx, q.key("completed"), retainCompleted)
}

// Fail records a failed attempt. Jobs with attempts left go to the delayed
// set with exponential backoff; exhausted jobs become terminal failures.
func (q *Queue) Fail(ctx context.Context, id, reason string) error {
	job, err := q.Status(ctx, id)
	if err != nil {
		return err
	}
	if err := q.rdb.LRem(ctx, q.key("active"), 0, id).Err(); err != nil {
		return err
	}

	if job.Attempts < MaxAttempts {
		delay := RetryDelay(job.Attempts)
		retryAt := time.Now().Add(delay)
		if err := q.update(ctx, id, map[string]interface{}{
			"state":      string(models.JobQueued),
			"failReason": reason,
		}); err != nil {
			return err
		}
		if err := q.rdb.ZAdd(ctx, q.key("delayed"), &redis.Z{
			Score:  float64(retryAt.UnixMilli()),
			Member: id,
		}).Err(); err != nil {
			return err
		}
		log.Warn().Str("job_id", id).Int("attempt", job.Attempts).
			Dur("retry_in", delay).Str("reason", reason).Msg("job attempt failed, retrying")
		return nil
	}

	return q.failTerminal(ctx, id, reason, job.Attempts)
}

// FailTerminal marks a job failed without consuming remaining attempts.
// Used for cancellations and other non-retryable failures.
func (q *Queue) FailTerminal(ctx context.Context, id, reason string) error {
	job, err := q.Status(ctx, id)
	if err != nil {
		return err
	}
	if err := q.rdb.LRem(ctx, q.key("active"), 0, id).Err(); err != nil {
		return err
	}
	return q.failTerminal(ctx, id, reason, job.Attempts)
}

func (q *Queue) failTerminal(ctx context.Context, id, reason string, attempts int) error {
	if err := q.update(ctx, id, map[string]interface{}{
		"state":      string(models.JobFailed),
		"failReason": reason,
	}); err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.key("failed"), id).Err(); err != nil {
		return err
	}
	log.Error().Str("job_id", id).Int("attempts", attempts).
		Str("reason", reason).Msg("job failed terminally")
	return q.trim(ctx, q.key("failed"), retainFailed)
}

// RetryDelay returns the backoff before the next try after the given number
// of attempts: 5s, 10s, 20s, ...
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return backoffBase * (1 << (attempts - 1))
}

// PromoteDelayed moves due retries back onto the pending list.
func (q *Queue) PromoteDelayed(ctx context.Context) error {
	return q.promoteDue(ctx, time.Now())
}

func (q *Queue) promoteDue(ctx context.Context, now time.Time) error {
	ids, err := q.rdb.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		// ZRem returning 0 means another promoter claimed the job first.
		n, err := q.rdb.ZRem(ctx, q.key("delayed"), id).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, q.key("pending"), id).Err(); err != nil {
			return err
		}
		log.Info().Str("job_id", id).Msg("delayed job promoted")
	}
	return nil
}

// RunPromoter promotes due retries until the context is cancelled.
func (q *Queue) RunPromoter(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.PromoteDelayed(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("promote delayed jobs")
			}
		}
	}
}

// RequeueOrphans returns jobs stranded on the active list (a worker crashed
// mid-job) to pending. Call once at worker startup before consuming.
func (q *Queue) RequeueOrphans(ctx context.Context) (int, error) {
	ids, err := q.rdb.LRange(ctx, q.key("active"), 0, -1).Result()
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := q.rdb.LRem(ctx, q.key("active"), 0, id).Err(); err != nil {
			return 0, err
		}
		if err := q.update(ctx, id, map[string]interface{}{
			"state": string(models.JobQueued),
		}); err != nil {
			return 0, err
		}
		if err := q.rdb.LPush(ctx, q.key("pending"), id).Err(); err != nil {
			return 0, err
		}
	}
	if len(ids) > 0 {
		log.Warn().Int("count", len(ids)).Msg("requeued orphaned jobs")
	}
	return len(ids), nil
}

// RequestCancel flags a job so the worker stops at the next phase boundary.
func (q *Queue) RequestCancel(ctx context.Context, id string) error {
	exists, err := q.rdb.Exists(ctx, jobKey(id)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrJobNotFound
	}
	return q.update(ctx, id, map[string]interface{}{"cancel": 1})
}

// CancelRequested reports whether a cancel flag has been set.
func (q *Queue) CancelRequested(ctx context.Context, id string) (bool, error) {
	v, err := q.rdb.HGet(ctx, jobKey(id), "cancel").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return v == "1", nil
}

// Status loads a job snapshot.
func (q *Queue) Status(ctx context.Context, id string) (*models.Job, error) {
	m, err := q.rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromHash(id, m)
}

func (q *Queue) update(ctx context.Context, id string, fields map[string]interface{}) error {
	fields["updatedAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	return q.rdb.HSet(ctx, jobKey(id), fields).Err()
}

// trim enforces a retention bound on a terminal list, deleting the hashes of
// evicted jobs so they do not leak.
func (q *Queue) trim(ctx context.Context, key string, keep int) error {
	evicted, err := q.rdb.LRange(ctx, key, int64(keep), -1).Result()
	if err != nil {
		return err
	}
	for _, id := range evicted {
		if err := q.rdb.Del(ctx, jobKey(id)).Err(); err != nil {
			return err
		}
	}
	return q.rdb.LTrim(ctx, key, 0, int64(keep)-1).Err()
}

func jobFromHash(id string, m map[string]string) (*models.Job, error) {
	job := &models.Job{ID: id, State: models.JobState(m["state"]), FailReason: m["failReason"]}

	if raw := m["data"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Data); err != nil {
			return nil, fmt.Errorf("decode job %s data: %w", id, err)
		}
	}
	if raw := m["result"]; raw != "" {
		var res models.IndexJobResult
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return nil, fmt.Errorf("decode job %s result: %w", id, err)
		}
		job.Result = &res
	}
	if v := m["progress"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("decode job %s progress: %w", id, err)
		}
		job.Progress = n
	}
	if v := m["attempts"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("decode job %s attempts: %w", id, err)
		}
		job.Attempts = n
	}
	if v := m["createdAt"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode job %s createdAt: %w", id, err)
		}
		job.CreatedAt = t
	}
	if v := m["updatedAt"]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("decode job %s updatedAt: %w", id, err)
		}
		job.UpdatedAt = t
	}
	return job, nil
}
