package bg

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSupervisorStopsAllLoopsOnCancel(t *testing.T) {
	s := New(nil)
	started := make(chan struct{}, 2)
	stopped := make(chan struct{}, 2)

	for i := 0; i < 2; i++ {
		s.Add("loop", func(ctx context.Context) error {
			started <- struct{}{}
			<-ctx.Done()
			stopped <- struct{}{}
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("loop did not start in time")
		}
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on clean cancellation: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop in time")
	}

	for i := 0; i < 2; i++ {
		select {
		case <-stopped:
		default:
			t.Fatal("loop was not given a chance to observe cancellation")
		}
	}
}

func TestSupervisorCancelsSiblingsOnError(t *testing.T) {
	s := New(nil)
	failing := errors.New("boom")
	s.Add("failing", func(ctx context.Context) error { return failing })

	siblingSawCancel := make(chan struct{}, 1)
	s.Add("sibling", func(ctx context.Context) error {
		<-ctx.Done()
		siblingSawCancel <- struct{}{}
		return nil
	})

	err := s.Run(context.Background())
	if !errors.Is(err, failing) {
		t.Fatalf("Run error = %v, want %v", err, failing)
	}

	select {
	case <-siblingSawCancel:
	case <-time.After(time.Second):
		t.Fatal("sibling loop was not cancelled after a peer failed")
	}
}
