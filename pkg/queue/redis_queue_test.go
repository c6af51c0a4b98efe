package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisJobQueueEnqueueWritesStatusAndMessage(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, err := q.Enqueue(ctx, "task-1", "user-1", "https://cdn.example.com/a.png")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != StatusQueued || job.TaskID != "task-1" {
		t.Fatalf("unexpected job: %+v", job)
	}

	got, found, err := q.GetJob(ctx, job.ID)
	if err != nil || !found {
		t.Fatalf("get job: found=%v err=%v", found, err)
	}
	if got.UserID != "user-1" || got.ImageURL != "https://cdn.example.com/a.png" {
		t.Fatalf("status hash missing fields: %+v", got)
	}

	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected one stream entry, got %d", streamLen)
	}
}

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, job := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, job); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["job_id"] != job.ID || got.Values["task_id"] != job.TaskID {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
	if got.Values["user_id"] != job.UserID || got.Values["image_url"] != job.ImageURL {
		t.Fatalf("requeue must carry the full payload: %+v", got.Values)
	}
}

func TestRedisJobQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, job := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, job); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}

	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func TestRedisJobQueueMarkProcessingIncrementsAttempts(t *testing.T) {
	q, ctx, _, job := newPendingQueueMessage(t)

	msg := redis.XMessage{Values: map[string]any{
		"job_id":    job.ID,
		"task_id":   job.TaskID,
		"user_id":   job.UserID,
		"image_url": job.ImageURL,
	}}
	processing, err := q.markProcessing(ctx, job.ID, msg)
	if err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if processing.Status != StatusProcessing || processing.Attempts != 1 {
		t.Fatalf("unexpected job: %+v", processing)
	}

	again, err := q.markProcessing(ctx, job.ID, msg)
	if err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if again.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", again.Attempts)
	}
}

func newTestQueue(t *testing.T) (*RedisJobQueue, context.Context) {
	t.Helper()

	redisSrv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:       redisSrv.Addr(),
		Stream:     "test:reviews",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()
	q.ensureGroup(ctx)
	return q, ctx
}

func newPendingQueueMessage(t *testing.T) (*RedisJobQueue, context.Context, string, JobStatus) {
	t.Helper()

	q, ctx := newTestQueue(t)
	job, err := q.Enqueue(ctx, "task-1", "user-1", "https://cdn.example.com/a.png")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}

	return q, ctx, streams[0].Messages[0].ID, job
}
