package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingWorker's Wait returns only once its context is cancelled.
type blockingWorker struct {
	done chan struct{}
}

func (w *blockingWorker) Start(ctx context.Context) {
	w.done = make(chan struct{})
	go func() {
		<-ctx.Done()
		close(w.done)
	}()
}

func (w *blockingWorker) Wait() { <-w.done }

func TestServeWithWorkerStopsWorkerWhenServerFails(t *testing.T) {
	w := &blockingWorker{}
	errBind := errors.New("listen tcp :8080: bind: address already in use")

	result := make(chan error, 1)
	go func() {
		result <- serveWithWorker(context.Background(), w, func(context.Context) error { return errBind })
	}()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, errBind)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after the server failed")
	}
}

func TestServeWithWorkerSharesCancellation(t *testing.T) {
	w := &blockingWorker{}
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() {
		result <- serveWithWorker(ctx, w, func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
	}()
	cancel()

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}
