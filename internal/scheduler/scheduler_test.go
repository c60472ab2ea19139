package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opentalon/metisctl/internal/batch"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]batch.Item
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, items []batch.Item) ([]batch.Output, error) {
	f.mu.Lock()
	f.calls = append(f.calls, items)
	block, started := f.block, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	outputs := make([]batch.Output, len(items))
	for i := range items {
		outputs[i] = batch.Output{Index: i, Kind: batch.KindChat}
	}
	return outputs, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]batch.Output
	err     error
}

func (w *fakeWriter) Write(_ context.Context, outputs []batch.Output) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, outputs)
	return nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batches)
}

func chatJob(name, spec string) Job {
	return Job{Name: name, Cron: spec, Items: []batch.Item{batch.ChatItem{BotID: "b", Content: name}}}
}

func TestAddJobRejectsBadCron(t *testing.T) {
	s := New(&fakeRunner{}, nil)
	defer s.Stop()

	for _, spec := range []string{"", "not a cron", "* * *", "61 * * * *", "*/5 * * * * *"} {
		err := s.AddJob(chatJob("bad", spec))
		if err == nil {
			t.Errorf("AddJob(%q): expected error", spec)
			continue
		}
		if !strings.Contains(err.Error(), "invalid cron expression") {
			t.Errorf("AddJob(%q) err = %v", spec, err)
		}
	}
	if len(s.ListJobs()) != 0 {
		t.Error("bad jobs must not be registered")
	}
}

func TestAddJobAcceptsDescriptors(t *testing.T) {
	s := New(&fakeRunner{}, nil)
	defer s.Stop()

	for i, spec := range []string{"0 * * * *", "@hourly", "@every 10m", "*/15 9-17 * * MON-FRI"} {
		if err := s.AddJob(chatJob(string(rune('a'+i)), spec)); err != nil {
			t.Errorf("AddJob(%q): %v", spec, err)
		}
	}
}

func TestAddJobValidation(t *testing.T) {
	s := New(&fakeRunner{}, nil)
	defer s.Stop()

	if err := s.AddJob(Job{Cron: "@hourly"}); err == nil {
		t.Error("expected error for missing name")
	}
	if err := s.AddJob(chatJob("dup", "@hourly")); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob(chatJob("dup", "@daily")); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("err = %v, want already exists", err)
	}
}

func TestStartFailsOnInvalidJob(t *testing.T) {
	s := New(&fakeRunner{}, nil)
	defer s.Stop()

	err := s.Start([]Job{chatJob("ok", "@hourly"), chatJob("broken", "every tuesday")})
	if err == nil || !strings.Contains(err.Error(), `"broken"`) {
		t.Errorf("err = %v, want it to name the broken job", err)
	}
}

func TestRunNowRunsBatchAndWrites(t *testing.T) {
	runner := &fakeRunner{}
	writer := &fakeWriter{}
	s := New(runner, writer)
	defer s.Stop()

	if err := s.Start([]Job{chatJob("nightly", "0 3 * * *")}); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow("nightly"); err != nil {
		t.Fatal(err)
	}
	if runner.callCount() != 1 {
		t.Errorf("runner calls = %d, want 1", runner.callCount())
	}
	if writer.count() != 1 {
		t.Errorf("writer batches = %d, want 1", writer.count())
	}

	if err := s.RunNow("missing"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestFailedRunIsNotWritten(t *testing.T) {
	runner := &fakeRunner{err: errors.New("item 0 (generation): upstream failure")}
	writer := &fakeWriter{}
	s := New(runner, writer)
	defer s.Stop()

	if err := s.AddJob(chatJob("j", "@hourly")); err != nil {
		t.Fatal(err)
	}
	err := s.RunNow("j")
	if err == nil || !strings.Contains(err.Error(), "upstream failure") {
		t.Errorf("RunNow err = %v, want the run error", err)
	}
	if writer.count() != 0 {
		t.Errorf("writer batches = %d, want 0", writer.count())
	}

	runner.mu.Lock()
	runner.err = nil
	runner.mu.Unlock()
	if err := s.RunNow("j"); err != nil {
		t.Errorf("a successful run should clear the error, got %v", err)
	}
}

func TestRunNowReportsWriteError(t *testing.T) {
	s := New(&fakeRunner{}, &fakeWriter{err: errors.New("redis down")})
	defer s.Stop()

	if err := s.AddJob(chatJob("j", "@hourly")); err != nil {
		t.Fatal(err)
	}
	err := s.RunNow("j")
	if err == nil || !strings.Contains(err.Error(), "redis down") {
		t.Errorf("RunNow err = %v, want the write error", err)
	}
}

func TestOverlappingRunIsSkipped(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s := New(runner, nil)
	defer s.Stop()

	if err := s.AddJob(chatJob("slow", "@hourly")); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		_ = s.RunNow("slow")
		close(done)
	}()
	<-runner.started

	// The first run is still blocked, so this fire is dropped.
	if err := s.RunNow("slow"); err != nil {
		t.Fatal(err)
	}
	if runner.callCount() != 1 {
		t.Errorf("runner calls = %d, want 1", runner.callCount())
	}

	close(runner.block)
	<-done
}

func TestPauseResume(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, nil)
	defer s.Stop()

	if err := s.AddJob(chatJob("j", "@hourly")); err != nil {
		t.Fatal(err)
	}
	if err := s.PauseJob("j"); err != nil {
		t.Fatal(err)
	}
	if job, _ := s.GetJob("j"); !job.Paused {
		t.Error("job should be paused")
	}
	if err := s.RunNow("j"); err == nil {
		t.Error("paused job should not run")
	}
	if err := s.PauseJob("j"); err == nil {
		t.Error("expected error pausing twice")
	}

	if err := s.ResumeJob("j"); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow("j"); err != nil {
		t.Fatal(err)
	}
	if runner.callCount() != 1 {
		t.Errorf("runner calls = %d, want 1", runner.callCount())
	}
	if err := s.ResumeJob("j"); err == nil {
		t.Error("expected error resuming a running job")
	}
}

func TestRemoveJob(t *testing.T) {
	s := New(&fakeRunner{}, nil)
	defer s.Stop()

	if err := s.AddJob(chatJob("a", "@hourly")); err != nil {
		t.Fatal(err)
	}
	if err := s.AddJob(Job{Name: "b", Cron: "@daily", Paused: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveJob("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveJob("b"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveJob("a"); err == nil {
		t.Error("expected error removing twice")
	}
	if _, ok := s.GetJob("a"); ok {
		t.Error("job a should be gone")
	}
}

func TestListJobsSorted(t *testing.T) {
	s := New(&fakeRunner{}, nil)
	defer s.Stop()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := s.AddJob(chatJob(name, "@daily")); err != nil {
			t.Fatal(err)
		}
	}
	jobs := s.ListJobs()
	if len(jobs) != 3 || jobs[0].Name != "alpha" || jobs[1].Name != "mid" || jobs[2].Name != "zeta" {
		t.Errorf("jobs = %+v", jobs)
	}
}

func TestScheduledFire(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a real cron tick")
	}
	runner := &fakeRunner{}
	writer := &fakeWriter{}
	s := New(runner, writer)

	if err := s.Start([]Job{chatJob("tick", "@every 1s")}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for runner.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()
	if runner.callCount() == 0 {
		t.Error("job never fired")
	}
}

func TestStopCancelsInFlightRun(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	writer := &fakeWriter{}
	s := New(runner, writer)
	if err := s.Start([]Job{chatJob("slow", "@every 1s")}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		s.Stop()
		t.Fatal("job never fired")
	}
	s.Stop()
	if writer.count() != 0 {
		t.Errorf("cancelled run should not be written, got %d batches", writer.count())
	}
}
