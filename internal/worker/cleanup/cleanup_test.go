package cleanup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type mockSweeper struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context) (int, error)
}

func (m *mockSweeper) SweepPending(ctx context.Context) (int, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.fn != nil {
		return m.fn(ctx)
	}
	return 0, nil
}

func (m *mockSweeper) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestJob_RunOnce は掃除が1回実行されることを検証する。
func TestJob_RunOnce(t *testing.T) {
	sweeper := &mockSweeper{}
	job := NewJob(sweeper, time.Minute, testLogger())

	job.RunOnce(context.Background())

	if sweeper.callCount() != 1 {
		t.Errorf("sweeper called %d times, want 1", sweeper.callCount())
	}
}

// TestJob_RunOnce_ErrorTolerated は掃除エラーがpanicせず握り潰されることを検証する。
func TestJob_RunOnce_ErrorTolerated(t *testing.T) {
	sweeper := &mockSweeper{
		fn: func(context.Context) (int, error) {
			return 0, errors.New("storage unavailable")
		},
	}
	job := NewJob(sweeper, time.Minute, testLogger())

	job.RunOnce(context.Background())
}

// TestJob_Run_Disabled は間隔0のジョブが即座に返ることを検証する。
func TestJob_Run_Disabled(t *testing.T) {
	sweeper := &mockSweeper{}
	job := NewJob(sweeper, 0, testLogger())

	done := make(chan struct{})
	go func() {
		job.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately when disabled")
	}
	if sweeper.callCount() != 0 {
		t.Errorf("sweeper called %d times, want 0", sweeper.callCount())
	}
}

// TestJob_Run_SweepsImmediately は起動直後に1回掃除が走ることを検証する。
func TestJob_Run_SweepsImmediately(t *testing.T) {
	sweeper := &mockSweeper{}
	job := NewJob(sweeper, time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Run(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for sweeper.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("initial sweep did not run")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
