package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "github.com/bookinglake/bookinglake/internal/errors"
	"github.com/bookinglake/bookinglake/internal/partition"
	"github.com/bookinglake/bookinglake/internal/pipeline"
	"github.com/bookinglake/bookinglake/internal/schema"
	"github.com/bookinglake/bookinglake/internal/storage"
)

// fakeSource is an in-memory Source.
type fakeSource struct {
	mu       sync.Mutex
	pending  []Message
	requeued []Message
	dead     []DeadLetter
	fetchErr error
	deadErr  error
	seq      int
}

func (f *fakeSource) push(bodies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range bodies {
		f.seq++
		f.pending = append(f.pending, Message{ID: fmt.Sprint(f.seq), Body: []byte(b)})
	}
}

func (f *fakeSource) Fetch(ctx context.Context, max int, timeout time.Duration) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	n := max
	if n > len(f.pending) {
		n = len(f.pending)
	}
	out := f.pending[:n]
	f.pending = f.pending[n:]
	return out, nil
}

func (f *fakeSource) Requeue(ctx context.Context, msgs []Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requeued = append(f.requeued, msgs...)
	return nil
}

func (f *fakeSource) DeadLetter(ctx context.Context, entries []DeadLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deadErr != nil {
		return f.deadErr
	}
	f.dead = append(f.dead, entries...)
	return nil
}

// scriptedProcessor fails bodies listed in errs.
type scriptedProcessor struct {
	errs map[string]error
}

func (p scriptedProcessor) Process(ctx context.Context, body []byte) (*pipeline.Result, error) {
	if err := p.errs[string(body)]; err != nil {
		return nil, err
	}
	return &pipeline.Result{Key: "k", Rows: 1}, nil
}

const sampleEvent = `{"booking_id":10,"booking_date":"2024-10-06T20:00:00","status":1,"user_id":3,"salon_id":4,"employee_id":5,"payment_id":6}`

func TestConsumer_WritesEvents(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	resolver := partition.NewResolver(partition.WithClock(func() time.Time {
		return time.Date(2024, 10, 6, 21, 0, 0, 0, time.UTC)
	}))
	writer := pipeline.NewEventWriter(schema.QueueEvents(), store, resolver, pipeline.Config{ScratchDir: t.TempDir()}, nil)

	src := &fakeSource{}
	src.push(sampleEvent, `{"booking_id":"abc"}`, sampleEvent)
	c := NewConsumer(src, writer, ConsumerConfig{BatchSize: 10}, nil)

	report, err := c.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}
	if report.Succeeded != 2 || report.DeadLettered != 1 || report.Requeued != 0 {
		t.Errorf("report = %+v", report)
	}

	objects, _ := store.ListObjects(context.Background(), "20241006T")
	if len(objects) != 2 {
		t.Errorf("objects = %v, want 2 per-event files", objects)
	}
	if len(src.dead) != 1 || src.dead[0].Code != apperrors.CodeMissingFields {
		t.Errorf("dead letters = %+v", src.dead)
	}
	if src.dead[0].Body != `{"booking_id":"abc"}` {
		t.Errorf("dead letter body = %q", src.dead[0].Body)
	}
}

func TestConsumer_RequeuesRetryable(t *testing.T) {
	src := &fakeSource{}
	src.push("ok", "flaky", "ok")
	proc := scriptedProcessor{errs: map[string]error{
		"flaky": apperrors.NewStorageError(apperrors.CodeUploadFailed, "upload failed", errors.New("timeout")),
	}}
	c := NewConsumer(src, proc, ConsumerConfig{BatchSize: 5}, nil)

	report, err := c.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}
	if report.Requeued != 1 || len(src.requeued) != 1 || string(src.requeued[0].Body) != "flaky" {
		t.Errorf("requeued = %+v", src.requeued)
	}
	if len(src.dead) != 0 {
		t.Errorf("retryable failures must not be dead-lettered: %+v", src.dead)
	}
}

func TestConsumer_DeadLetterFailureStillRequeues(t *testing.T) {
	deadErr := errors.New("redis down")
	src := &fakeSource{deadErr: deadErr}
	src.push("bad", "flaky")
	proc := scriptedProcessor{errs: map[string]error{
		"bad":   apperrors.NewValidationError(apperrors.CodeMissingFields, "missing required fields in request body: price", nil),
		"flaky": apperrors.NewStorageError(apperrors.CodeUploadFailed, "upload failed", errors.New("timeout")),
	}}
	c := NewConsumer(src, proc, ConsumerConfig{BatchSize: 5}, nil)

	report, err := c.ProcessOnce(context.Background())
	if !errors.Is(err, deadErr) {
		t.Fatalf("error = %v, want the dead-letter failure", err)
	}
	if len(src.requeued) != 1 || string(src.requeued[0].Body) != "flaky" {
		t.Errorf("requeued = %+v, want the retryable message", src.requeued)
	}
	if report == nil || report.Requeued != 1 || report.DeadLettered != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestConsumer_FailFastRequeuesRemainder(t *testing.T) {
	src := &fakeSource{}
	src.push("ok", "bad", "later-1", "later-2")
	proc := scriptedProcessor{errs: map[string]error{
		"bad": apperrors.NewValidationError(apperrors.CodeInvalidType, "bad type", nil),
	}}
	c := NewConsumer(src, proc, ConsumerConfig{BatchSize: 10, Policy: pipeline.FailFast}, nil)

	report, err := c.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}
	if report.DeadLettered != 1 || report.Requeued != 2 {
		t.Errorf("report = %+v", report)
	}
}

func TestConsumer_BatchSizeBounds(t *testing.T) {
	src := &fakeSource{}
	src.push("a", "b", "c")
	c := NewConsumer(src, scriptedProcessor{}, ConsumerConfig{BatchSize: 2}, nil)

	report, err := c.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("ProcessOnce failed: %v", err)
	}
	if len(report.Items) != 2 {
		t.Errorf("items = %d, want 2", len(report.Items))
	}

	report, _ = c.ProcessOnce(context.Background())
	if len(report.Items) != 1 {
		t.Errorf("items = %d, want 1", len(report.Items))
	}

	report, err = c.ProcessOnce(context.Background())
	if report != nil || err != nil {
		t.Errorf("empty queue: report = %+v, err = %v", report, err)
	}
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	src := &fakeSource{fetchErr: errors.New("connection refused")}
	c := NewConsumer(src, scriptedProcessor{}, ConsumerConfig{RetryBackoff: time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
