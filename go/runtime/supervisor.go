// Package runtime supervises the processor's long-lived loops: the
// processing pipeline, the synthetic generator, the status publisher, and
// the command poller, under one task group.
package runtime

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/task"

	"github.com/finwire/mtflow/go/compliance"
	"github.com/finwire/mtflow/go/generator"
	"github.com/finwire/mtflow/go/ipcfiles"
	"github.com/finwire/mtflow/go/pipeline"
	"github.com/finwire/mtflow/go/queue"
	"github.com/finwire/mtflow/go/store"
)

// Status labels published to the control plane.
const (
	StatusRunning    = "Running"
	StatusStopped    = "Stopped"
	StatusProcessing = "Processing"
	StatusRestarting = "Restarting"
)

// Config tunes the supervisor.
type Config struct {
	StatusInterval time.Duration // Cadence of status.json publication.
	CommandPoll    time.Duration // Cadence of command.json polling.
	AutoStart      bool          // Start the pipeline on boot.
	TestMode       bool          // Enable the generator on boot.

	Pipeline  pipeline.Config
	Generator generator.Config
}

func (c Config) withDefaults() Config {
	if c.StatusInterval <= 0 {
		c.StatusInterval = 5 * time.Second
	}
	if c.CommandPoll <= 0 {
		c.CommandPoll = time.Second
	}
	return c
}

// Supervisor owns the pipeline lifecycle. Metrics are owned here rather
// than by the pipeline, so counters carry across Restart commands.
type Supervisor struct {
	cfg     Config
	queues  queue.Queue
	repo    store.Repository
	checker *compliance.Checker
	plane   *ipcfiles.Plane
	metrics *pipeline.Metrics
	tasks   *task.Group

	mu           sync.Mutex
	label        string
	testMode     bool
	stopPipeline context.CancelFunc
	pipelineDone chan struct{}
	stopGen      context.CancelFunc
	genDone      chan struct{}

	// stateMu guards fields written by pipeline callbacks. It is separate
	// from mu: Stop waits for the pipeline while holding mu, and the
	// in-flight message's callbacks must not block on it.
	stateMu       sync.Mutex
	processing    bool
	lastProcessed *time.Time
}

// NewSupervisor wires a Supervisor over the given backends.
func NewSupervisor(cfg Config, q queue.Queue, repo store.Repository,
	checker *compliance.Checker, plane *ipcfiles.Plane) *Supervisor {

	return &Supervisor{
		cfg:     cfg.withDefaults(),
		queues:  q,
		repo:    repo,
		checker: checker,
		plane:   plane,
		metrics: pipeline.NewMetrics(),
		label:   StatusStopped,
	}
}

// Metrics exposes the shared processing counters.
func (s *Supervisor) Metrics() *pipeline.Metrics { return s.metrics }

// QueueTasks registers the supervisor's loops on the group. The pipeline
// itself starts on demand (AutoStart or a Start command) under a child
// context, so Stop and Restart don't tear the group down.
func (s *Supervisor) QueueTasks(tasks *task.Group) {
	s.tasks = tasks
	s.testMode = s.cfg.TestMode

	if s.cfg.AutoStart {
		s.Start()
	}
	s.publishStatus()

	tasks.Queue("status.publisher", func() error {
		var ticker = time.NewTicker(s.cfg.StatusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-tasks.Context().Done():
				// Final publication so the control front observes the stop.
				s.mu.Lock()
				s.stopLocked()
				s.mu.Unlock()
				s.publishStatus()
				return nil
			case <-ticker.C:
				s.publishStatus()
			}
		}
	})

	tasks.Queue("command.poller", func() error {
		var ticker = time.NewTicker(s.cfg.CommandPoll)
		defer ticker.Stop()
		for {
			select {
			case <-tasks.Context().Done():
				return nil
			case <-ticker.C:
				var env, err = s.plane.PollCommand()
				if err != nil {
					log.WithField("err", err).Warn("command poll failed")
					continue
				}
				if env != nil {
					s.Apply(env.Command)
				}
			}
		}
	})
}

// Apply executes one lifecycle command.
func (s *Supervisor) Apply(cmd ipcfiles.Command) {
	log.WithField("command", cmd).Info("applying command")
	switch cmd {
	case ipcfiles.CmdStart:
		s.Start()
	case ipcfiles.CmdStop:
		s.Stop()
	case ipcfiles.CmdRestart:
		s.Restart()
	case ipcfiles.CmdEnableTestMode:
		s.SetTestMode(true)
	case ipcfiles.CmdDisableTestMode:
		s.SetTestMode(false)
	case ipcfiles.CmdGetStatus:
		s.publishStatus()
	}
}

// Start launches the pipeline (and the generator, in test mode). It is a
// no-op while already running.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
	s.label = StatusRunning
}

func (s *Supervisor) startLocked() {
	if s.stopPipeline != nil {
		return
	}

	var ctx, cancel = context.WithCancel(s.groupContext())
	var done = make(chan struct{})
	var proc = pipeline.New(s.cfg.Pipeline, s.queues, s.repo, s.checker, s.metrics)
	proc.OnProcessing(func(active bool) {
		s.stateMu.Lock()
		s.processing = active
		s.stateMu.Unlock()
	})
	proc.OnProcessed(func(at time.Time) {
		s.stateMu.Lock()
		s.lastProcessed = &at
		s.stateMu.Unlock()
	})

	s.stopPipeline, s.pipelineDone = cancel, done
	go func() {
		defer close(done)
		if err := proc.Run(ctx); err != nil {
			log.WithField("err", err).Error("pipeline terminated abnormally")
		}
	}()

	if s.testMode {
		s.startGeneratorLocked()
	}
}

// Stop cancels the pipeline and waits for the in-flight message.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.label = StatusStopped
}

func (s *Supervisor) stopLocked() {
	s.stopGeneratorLocked()
	if s.stopPipeline == nil {
		return
	}
	s.stopPipeline()
	<-s.pipelineDone
	s.stopPipeline, s.pipelineDone = nil, nil

	s.stateMu.Lock()
	s.processing = false
	s.stateMu.Unlock()
}

// Restart stops and relaunches the pipeline. Counters are preserved; only
// the loop and its duplicate cache are rebuilt.
func (s *Supervisor) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.label = StatusRestarting
	s.stopLocked()
	s.startLocked()
	s.label = StatusRunning
}

// SetTestMode toggles the synthetic generator. The generator only emits
// while the pipeline is running.
func (s *Supervisor) SetTestMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.testMode = enabled
	if enabled && s.stopPipeline != nil {
		s.startGeneratorLocked()
	} else if !enabled {
		s.stopGeneratorLocked()
	}
}

// TestMode reports whether the generator is enabled.
func (s *Supervisor) TestMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.testMode
}

// Running reports whether the pipeline loop is live.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopPipeline != nil
}

func (s *Supervisor) startGeneratorLocked() {
	if s.stopGen != nil {
		return
	}
	var ctx, cancel = context.WithCancel(s.groupContext())
	var done = make(chan struct{})
	var gen = generator.New(s.cfg.Generator, s.queues, 0)

	s.stopGen, s.genDone = cancel, done
	go func() {
		defer close(done)
		if err := gen.Run(ctx); err != nil {
			log.WithField("err", err).Error("generator terminated abnormally")
		}
	}()
}

func (s *Supervisor) stopGeneratorLocked() {
	if s.stopGen == nil {
		return
	}
	s.stopGen()
	<-s.genDone
	s.stopGen, s.genDone = nil, nil
}

func (s *Supervisor) groupContext() context.Context {
	if s.tasks != nil {
		return s.tasks.Context()
	}
	return context.Background()
}

// publishStatus composes and writes the current status file.
func (s *Supervisor) publishStatus() {
	var snap = s.metrics.Snapshot()

	s.stateMu.Lock()
	var processing, lastProcessed = s.processing, s.lastProcessed
	s.stateMu.Unlock()

	s.mu.Lock()
	var label = s.label
	if label == StatusRunning && processing {
		label = StatusProcessing
	}
	var status = ipcfiles.ProcessStatus{
		IsRunning:         s.stopPipeline != nil,
		IsProcessing:      processing,
		MessagesProcessed: snap.TotalProcessed,
		MessagesFailed:    snap.TotalFailed,
		LastProcessedAt:   lastProcessed,
		Status:            label,
		TestModeEnabled:   s.testMode,
		Metadata: map[string]interface{}{
			"averageProcessingTimeMs": snap.AverageProcessingTimeMs,
			"messagesPerMinute":       snap.MessagesPerMinute,
			"errorsByType":            snap.ErrorsByType,
		},
	}
	s.mu.Unlock()

	var ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if stats, err := s.queues.Stats(ctx, s.pipelineQueues().Input); err == nil {
		status.MessagesPending = stats.MessagesInQueue
	}

	if err := s.plane.WriteStatus(status); err != nil {
		log.WithField("err", err).Warn("status publication failed")
	}
}

func (s *Supervisor) pipelineQueues() queue.Names {
	if s.cfg.Pipeline.Queues.Input != "" {
		return s.cfg.Pipeline.Queues
	}
	return queue.DefaultNames()
}
