package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/opentalon/metisctl/internal/batch"
)

// BatchRunner executes one batch; *batch.Runner satisfies it.
type BatchRunner interface {
	Run(ctx context.Context, items []batch.Item) ([]batch.Output, error)
}

// ResultWriter receives the outputs of every successful run.
type ResultWriter interface {
	Write(ctx context.Context, outputs []batch.Output) error
}

// Job is a batch fired on a five-field cron expression (or a descriptor
// such as @hourly or @every 10m).
type Job struct {
	Name   string
	Cron   string
	Items  []batch.Item
	Paused bool
}

type scheduledJob struct {
	job     Job
	entryID cron.EntryID
	lastErr error
}

// Scheduler runs batches on cron schedules. A run that is still going when
// its next fire time arrives causes that fire to be skipped. Distinct jobs
// may run concurrently.
type Scheduler struct {
	mu     sync.RWMutex
	cron   *cron.Cron
	parser cron.Parser
	jobs   map[string]*scheduledJob
	runner BatchRunner
	writer ResultWriter

	ctx    context.Context
	cancel context.CancelFunc
}

func New(runner BatchRunner, writer ResultWriter) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	logger := cron.PrintfLogger(log.Default())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		parser: parser,
		jobs:   make(map[string]*scheduledJob),
		runner: runner,
		writer: writer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers jobs, on top of any added before, and starts the cron
// loop. Invalid jobs are reported before anything starts.
func (s *Scheduler) Start(jobs []Job) error {
	for _, j := range jobs {
		if err := s.AddJob(j); err != nil {
			return err
		}
	}
	s.cron.Start()
	log.Printf("scheduler: started with %d jobs", len(s.ListJobs()))
	return nil
}

// Stop halts new fires, cancels in-flight runs and waits for them to drain.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
	log.Printf("scheduler: stopped")
}

func (s *Scheduler) AddJob(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if _, err := s.parser.Parse(job.Cron); err != nil {
		return fmt.Errorf("invalid cron expression for job %q: %w", job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already exists", job.Name)
	}
	sj := &scheduledJob{job: job}
	if !job.Paused {
		if err := s.scheduleLocked(sj); err != nil {
			return err
		}
	}
	s.jobs[job.Name] = sj
	return nil
}

func (s *Scheduler) scheduleLocked(sj *scheduledJob) error {
	job := sj.job
	id, err := s.cron.AddFunc(job.Cron, func() { s.executeJob(job) })
	if err != nil {
		return fmt.Errorf("invalid cron expression for job %q: %w", job.Name, err)
	}
	sj.entryID = id
	return nil
}

func (s *Scheduler) RemoveJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sj, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	if !sj.job.Paused {
		s.cron.Remove(sj.entryID)
	}
	delete(s.jobs, name)
	return nil
}

// PauseJob stops future fires of a job; a run in progress is not interrupted.
func (s *Scheduler) PauseJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sj, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	if sj.job.Paused {
		return fmt.Errorf("job %q is already paused", name)
	}
	s.cron.Remove(sj.entryID)
	sj.job.Paused = true
	return nil
}

func (s *Scheduler) ResumeJob(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sj, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	if !sj.job.Paused {
		return fmt.Errorf("job %q is not paused", name)
	}
	sj.job.Paused = false
	return s.scheduleLocked(sj)
}

// ListJobs returns all registered jobs sorted by name.
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.jobs))
	for _, sj := range s.jobs {
		out = append(out, sj.job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) GetJob(name string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sj, ok := s.jobs[name]
	if !ok {
		return Job{}, false
	}
	return sj.job, true
}

// RunNow fires a job immediately through the same wrappers as a scheduled
// fire, so it is skipped when the job is already running. It blocks until
// the run finishes and returns the error of the job's latest run.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	sj, ok := s.jobs[name]
	var entry cron.Entry
	if ok && !sj.job.Paused {
		entry = s.cron.Entry(sj.entryID)
	}
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %q not found", name)
	}
	if !entry.Valid() {
		return fmt.Errorf("job %q is paused", name)
	}
	entry.WrappedJob.Run()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return sj.lastErr
}

func (s *Scheduler) executeJob(job Job) {
	err := s.runJob(job)
	s.mu.Lock()
	if sj, ok := s.jobs[job.Name]; ok {
		sj.lastErr = err
	}
	s.mu.Unlock()
}

func (s *Scheduler) runJob(job Job) error {
	outputs, err := s.runner.Run(s.ctx, job.Items)
	if err != nil {
		log.Printf("scheduler: job %q execution error: %v", job.Name, err)
		return err
	}
	if s.writer == nil {
		return nil
	}
	if err := s.writer.Write(s.ctx, outputs); err != nil {
		log.Printf("scheduler: job %q write error: %v", job.Name, err)
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
