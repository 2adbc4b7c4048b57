package events

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	badgerstore "github.com/ternarybob/colligo/internal/storage/badger"
)

func newTestStorage(t *testing.T) interfaces.EventStorage {
	t.Helper()

	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "badger"),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return badgerstore.NewEventStorage(db, logger)
}

func TestPublishAssignsSequentialIDs(t *testing.T) {
	storage := newTestStorage(t)
	svc := NewService(storage, arbor.NewLogger())
	defer svc.Close()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		event, err := svc.Publish(ctx, "alice", "job_1", models.EventProgress, map[string]any{"n": want})
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		if event.EventID != want {
			t.Errorf("EventID = %d, want %d", event.EventID, want)
		}
	}

	// A different job has its own counter
	event, err := svc.Publish(ctx, "alice", "job_2", models.EventProgress, nil)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if event.EventID != 1 {
		t.Errorf("EventID for second job = %d, want 1", event.EventID)
	}
}

func TestCounterSeedsFromDurableLog(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	first := NewService(storage, arbor.NewLogger())
	for i := 0; i < 3; i++ {
		if _, err := first.Publish(ctx, "alice", "job_1", models.EventProgress, nil); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	first.Close()

	// A fresh service over the same log continues the sequence without gaps
	second := NewService(storage, arbor.NewLogger())
	defer second.Close()

	event, err := second.Publish(ctx, "alice", "job_1", models.EventProgress, nil)
	if err != nil {
		t.Fatalf("Publish after restart failed: %v", err)
	}
	if event.EventID != 4 {
		t.Errorf("EventID after restart = %d, want 4", event.EventID)
	}
}

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	storage := newTestStorage(t)
	svc := NewService(storage, arbor.NewLogger())
	defer svc.Close()
	ctx := context.Background()

	ch, cancel := svc.Subscribe("alice", "job_1")
	defer cancel()

	if _, err := svc.Publish(ctx, "alice", "job_1", models.EventURLStarted, map[string]any{"url": "https://a"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	// Events for other jobs must not leak into this subscription
	if _, err := svc.Publish(ctx, "alice", "job_2", models.EventURLStarted, nil); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case event := <-ch:
		if event.JobID != "job_1" || event.Type != models.EventURLStarted {
			t.Errorf("got event %s for job %s, want url_started for job_1", event.Type, event.JobID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case event := <-ch:
		t.Errorf("unexpected second event: %s for job %s", event.Type, event.JobID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	storage := newTestStorage(t)
	svc := NewService(storage, arbor.NewLogger())
	defer svc.Close()
	ctx := context.Background()

	ch, cancel := svc.Subscribe("alice", "job_1")
	defer cancel()

	// Never drain: once the buffer overflows the subscriber's channel closes
	for i := 0; i < subscriberBuffer+5; i++ {
		if _, err := svc.Publish(ctx, "alice", "job_1", models.EventProgress, map[string]any{"n": i}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	received := 0
	for range ch {
		received++
	}
	if received != subscriberBuffer {
		t.Errorf("received %d buffered events before drop, want %d", received, subscriberBuffer)
	}

	// The dropped subscriber recovers the full sequence from the log
	events, err := svc.Replay(ctx, "alice", "job_1", 0)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(events) != subscriberBuffer+5 {
		t.Errorf("durable log holds %d events, want %d", len(events), subscriberBuffer+5)
	}
}

func TestSubscribeAllSeesEveryJob(t *testing.T) {
	storage := newTestStorage(t)
	svc := NewService(storage, arbor.NewLogger())
	defer svc.Close()
	ctx := context.Background()

	ch, cancel := svc.SubscribeAll()
	defer cancel()

	jobs := []string{"job_1", "job_2", "job_3"}
	for _, jobID := range jobs {
		if _, err := svc.Publish(ctx, "alice", jobID, models.EventProgress, nil); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	seen := make(map[string]bool)
	for i := 0; i < len(jobs); i++ {
		select {
		case event := <-ch:
			seen[event.JobID] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for firehose event")
		}
	}
	for _, jobID := range jobs {
		if !seen[jobID] {
			t.Errorf("firehose missed events for %s", jobID)
		}
	}
}

func TestReplayReturnsSuffixInOrder(t *testing.T) {
	storage := newTestStorage(t)
	svc := NewService(storage, arbor.NewLogger())
	defer svc.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.Publish(ctx, "alice", "job_1", models.EventProgress, map[string]any{"n": i}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	events, err := svc.Replay(ctx, "alice", "job_1", 3)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].EventID != 4 || events[1].EventID != 5 {
		t.Errorf("replayed IDs %d,%d, want 4,5", events[0].EventID, events[1].EventID)
	}

	lastID, err := svc.LastEventID(ctx, "alice", "job_1")
	if err != nil {
		t.Fatalf("LastEventID failed: %v", err)
	}
	if lastID != 5 {
		t.Errorf("LastEventID = %d, want 5", lastID)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	storage := newTestStorage(t)
	svc := NewService(storage, arbor.NewLogger())
	defer svc.Close()

	_, cancel := svc.Subscribe("alice", "job_1")
	cancel()
	cancel()

	_, cancelAll := svc.SubscribeAll()
	cancelAll()
	cancelAll()
}

func TestCloseRejectsPublishAndClosesChannels(t *testing.T) {
	storage := newTestStorage(t)
	svc := NewService(storage, arbor.NewLogger())
	ctx := context.Background()

	ch, cancel := svc.Subscribe("alice", "job_1")
	defer cancel()

	if err := svc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, open := <-ch; open {
		t.Error("subscriber channel should be closed after Close")
	}
	if _, err := svc.Publish(ctx, "alice", "job_1", models.EventProgress, nil); err == nil {
		t.Error("Publish after Close should fail")
	}
}

func TestConcurrentPublishersProduceNoGaps(t *testing.T) {
	storage := newTestStorage(t)
	svc := NewService(storage, arbor.NewLogger())
	defer svc.Close()
	ctx := context.Background()

	const publishers = 4
	const perPublisher = 10

	errCh := make(chan error, publishers)
	for p := 0; p < publishers; p++ {
		go func(p int) {
			for i := 0; i < perPublisher; i++ {
				_, err := svc.Publish(ctx, "alice", "job_1", models.EventProgress, map[string]any{"p": p, "i": i})
				if err != nil {
					errCh <- fmt.Errorf("publisher %d: %w", p, err)
					return
				}
			}
			errCh <- nil
		}(p)
	}
	for p := 0; p < publishers; p++ {
		if err := <-errCh; err != nil {
			t.Fatal(err)
		}
	}

	events, err := svc.Replay(ctx, "alice", "job_1", 0)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(events) != publishers*perPublisher {
		t.Fatalf("len(events) = %d, want %d", len(events), publishers*perPublisher)
	}
	for i, event := range events {
		if event.EventID != int64(i+1) {
			t.Fatalf("events[%d].EventID = %d, want %d (gap or duplicate)", i, event.EventID, i+1)
		}
	}
}
