// mt-processor consumes raw MT103 payloads from the input queue, runs them
// through parsing, validation, and compliance screening, persists the
// outcome, and forwards or dead-letters each message. It publishes its
// status to the communication directory and obeys lifecycle commands found
// there, until signaled to exit (via SIGTERM or SIGINT).
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/task"

	"github.com/finwire/mtflow/go/compliance"
	"github.com/finwire/mtflow/go/control"
	"github.com/finwire/mtflow/go/generator"
	"github.com/finwire/mtflow/go/ipcfiles"
	"github.com/finwire/mtflow/go/pipeline"
	"github.com/finwire/mtflow/go/queue"
	"github.com/finwire/mtflow/go/runtime"
	"github.com/finwire/mtflow/go/store"
)

type config struct {
	Database struct {
		Path     string `long:"path" env:"PATH" default:"mtflow.db" description:"SQLite database path"`
		InMemory bool   `long:"in-memory" env:"IN_MEMORY" description:"Use a volatile in-memory repository instead of SQLite"`
	} `group:"Database" namespace:"db" env-namespace:"DB"`

	Queue struct {
		Provider   string        `long:"provider" env:"PROVIDER" default:"memory" choice:"memory" choice:"broker" description:"Queue backend"`
		Input      string        `long:"input" env:"INPUT" default:"mt103-input" description:"Input queue name"`
		Completed  string        `long:"completed" env:"COMPLETED" default:"mt103-completed" description:"Completed queue name"`
		DeadLetter string        `long:"dead-letter" env:"DEAD_LETTER" default:"mt103-dead-letter" description:"Dead-letter queue name"`
		Endpoint   string        `long:"endpoint" env:"ENDPOINT" description:"Broker base URL (https)"`
		Secret     string        `long:"secret" env:"SECRET" description:"Broker shared secret for bearer tokens"`
		Issuer     string        `long:"issuer" env:"ISSUER" default:"mt-processor" description:"Broker token issuer"`
		Visibility time.Duration `long:"visibility" env:"VISIBILITY" default:"30s" description:"Broker visibility timeout"`
	} `group:"Queue" namespace:"queue" env-namespace:"QUEUE"`

	Processing struct {
		AutoStart     bool          `long:"auto-start" env:"AUTO_START" description:"Start the pipeline on boot"`
		MaxConcurrent int           `long:"max-concurrent" env:"MAX_CONCURRENT" default:"1" description:"Concurrent in-flight messages (currently bounded to 1 per instance)"`
		RetryAttempts int           `long:"retry-attempts" env:"RETRY_ATTEMPTS" default:"3" description:"Attempts per processing stage"`
		RetryDelay    time.Duration `long:"retry-delay" env:"RETRY_DELAY" default:"5s" description:"Delay between retry attempts"`
		PollInterval  time.Duration `long:"poll-interval" env:"POLL_INTERVAL" default:"1s" description:"Input poll interval when idle"`
		Timeout       time.Duration `long:"timeout" env:"TIMEOUT" default:"60s" description:"Per-message processing timeout"`
		Sanctions     string        `long:"sanctions" env:"SANCTIONS" description:"Comma-separated sanctions keywords"`
	} `group:"Processing" namespace:"processing" env-namespace:"PROCESSING"`

	Generator struct {
		Enabled      bool          `long:"enabled" env:"ENABLED" description:"Enable test-mode traffic on boot"`
		Cadence      time.Duration `long:"cadence" env:"CADENCE" default:"5s" description:"Interval between generated batches"`
		BatchSize    int           `long:"batch-size" env:"BATCH_SIZE" default:"1" description:"Messages per generated batch"`
		ValidPercent int           `long:"valid-percent" env:"VALID_PERCENT" default:"80" description:"Share of well-formed generated messages"`
	} `group:"Generator" namespace:"generator" env-namespace:"GENERATOR"`

	Communication struct {
		Dir            string        `long:"dir" env:"DIR" default:"./comm" description:"Status and command exchange directory"`
		StatusInterval time.Duration `long:"status-interval" env:"STATUS_INTERVAL" default:"5s" description:"Status publication cadence"`
		CommandPoll    time.Duration `long:"command-poll" env:"COMMAND_POLL" default:"1s" description:"Command poll cadence"`
	} `group:"Communication" namespace:"comm" env-namespace:"COMM"`

	API struct {
		Port uint16 `long:"port" env:"PORT" default:"8080" description:"Control API listening port (0 disables)"`
	} `group:"Control API" namespace:"api" env-namespace:"API"`

	Log logConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func (cfg config) validate() error {
	if cfg.Queue.Provider == "broker" {
		if cfg.Queue.Endpoint == "" {
			return fmt.Errorf("--queue.endpoint is required with the broker provider")
		}
		if cfg.Queue.Secret == "" {
			return fmt.Errorf("--queue.secret is required with the broker provider")
		}
	}
	if cfg.Generator.ValidPercent < 0 || cfg.Generator.ValidPercent > 100 {
		return fmt.Errorf("--generator.valid-percent must be within [0, 100]")
	}
	if cfg.Processing.MaxConcurrent < 1 {
		return fmt.Errorf("--processing.max-concurrent must be at least 1")
	}
	if !cfg.Database.InMemory && cfg.Database.Path == "" {
		return fmt.Errorf("--db.path is required")
	}
	return nil
}

func main() {
	var cfg config
	if _, err := flags.NewParser(&cfg, flags.Default).Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(1)
	}
	initLog(cfg.Log)

	if err := cfg.validate(); err != nil {
		log.WithField("err", err).Error("configuration is invalid")
		os.Exit(1)
	}
	log.WithFields(log.Fields{
		"queueProvider": cfg.Queue.Provider,
		"database":      cfg.Database.Path,
		"commDir":       cfg.Communication.Dir,
	}).Info("mt-processor configuration")
	if cfg.Processing.MaxConcurrent > 1 {
		log.Warn("in-flight is bounded to one message per instance; run more instances to scale")
	}

	if err := run(cfg); err != nil {
		log.WithField("err", err).Error("mt-processor failed")
		os.Exit(2)
	}
	log.Info("goodbye")
}

func run(cfg config) error {
	var repo store.Repository
	if cfg.Database.InMemory {
		repo = store.NewMemory()
	} else {
		var sql, err = store.OpenSQLite(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer sql.Close()
		repo = sql
	}

	var queues queue.Queue
	if cfg.Queue.Provider == "broker" {
		var broker, err = queue.NewBroker(queue.BrokerConfig{
			Endpoint:          cfg.Queue.Endpoint,
			Secret:            cfg.Queue.Secret,
			Issuer:            cfg.Queue.Issuer,
			VisibilityTimeout: cfg.Queue.Visibility,
		})
		if err != nil {
			return fmt.Errorf("building broker client: %w", err)
		}
		queues = broker
	} else {
		queues = queue.NewMemory()
	}

	plane, err := ipcfiles.New(cfg.Communication.Dir)
	if err != nil {
		return fmt.Errorf("opening communication directory: %w", err)
	}

	var checker *compliance.Checker
	if s := strings.TrimSpace(cfg.Processing.Sanctions); s != "" {
		checker = compliance.New(strings.Split(s, ","))
	} else {
		checker = compliance.New(nil)
	}

	var names = queue.Names{
		Input:      cfg.Queue.Input,
		Completed:  cfg.Queue.Completed,
		DeadLetter: cfg.Queue.DeadLetter,
	}
	var sup = runtime.NewSupervisor(runtime.Config{
		StatusInterval: cfg.Communication.StatusInterval,
		CommandPoll:    cfg.Communication.CommandPoll,
		AutoStart:      cfg.Processing.AutoStart,
		TestMode:       cfg.Generator.Enabled,
		Pipeline: pipeline.Config{
			Queues:            names,
			RetryAttempts:     cfg.Processing.RetryAttempts,
			RetryDelay:        cfg.Processing.RetryDelay,
			PollInterval:      cfg.Processing.PollInterval,
			ProcessingTimeout: cfg.Processing.Timeout,
		},
		Generator: generator.Config{
			Cadence:      cfg.Generator.Cadence,
			BatchSize:    cfg.Generator.BatchSize,
			ValidPercent: cfg.Generator.ValidPercent,
			QueueName:    cfg.Queue.Input,
		},
	}, queues, repo, checker, plane)

	var tasks = task.NewGroup(context.Background())
	sup.QueueTasks(tasks)

	var server *http.Server
	if cfg.API.Port != 0 {
		var router = mux.NewRouter()
		control.RegisterAPIs(router, plane, repo, cfg.Communication.StatusInterval)

		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.API.Port))
		if err != nil {
			return fmt.Errorf("binding control API listener: %w", err)
		}
		server = &http.Server{Handler: router}

		tasks.Queue("control.api", func() error {
			log.WithField("addr", listener.Addr()).Info("serving control API")
			if err := server.Serve(listener); err != http.ErrServerClosed {
				return fmt.Errorf("control API server: %w", err)
			}
			return nil
		})
	}

	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			tasks.Cancel()
			if server != nil {
				var ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(ctx)
			}
			return nil
		case <-tasks.Context().Done():
			if server != nil {
				_ = server.Close()
			}
			return nil
		}
	})
	tasks.GoRun()

	if err := tasks.Wait(); err != nil {
		return fmt.Errorf("task failed: %w", err)
	}
	return nil
}
