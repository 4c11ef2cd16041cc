package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pulsebench/internal/testsupport/redisstub"
)

func TestPublishAndRunDeliversAndAcks(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	defer stub.Close()

	q, err := New(Config{Addr: stub.Addr(), ReadTimeout: 2 * time.Second, WriteTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer q.Close()

	ctx := context.Background()
	type jobBody struct {
		JobID string `json:"job_id"`
	}
	if _, err := q.Publish(ctx, "audit_jobs", jobBody{JobID: "a1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	received := make(chan string, 1)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- q.Run(runCtx, RunOptions{
			Stream:       "audit_jobs",
			Group:        "audit-workers",
			Consumer:     "worker-1",
			BlockTimeout: 200 * time.Millisecond,
		}, func(_ context.Context, msg Message) error {
			var body jobBody
			if err := json.Unmarshal(msg.Payload, &body); err != nil {
				return err
			}
			received <- body.JobID
			return nil
		})
	}()

	select {
	case id := <-received:
		if id != "a1" {
			t.Fatalf("got job id %q, want a1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job was not delivered in time")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on cancellation: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop in time")
	}
}

func TestRunRequiresStreamGroupConsumer(t *testing.T) {
	q := &Queue{}
	if err := q.Run(context.Background(), RunOptions{}, nil); err == nil {
		t.Fatal("expected error for missing stream/group/consumer")
	}
}
