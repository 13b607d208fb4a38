package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/core/task"

	"github.com/finwire/mtflow/go/control"
	"github.com/finwire/mtflow/go/ipcfiles"
	"github.com/finwire/mtflow/go/store"
)

type cmdServe struct {
	baseConfig
	Database string `long:"db.path" env:"DB_PATH" default:"mtflow.db" description:"SQLite database path"`
	Port     uint16 `long:"port" env:"PORT" default:"8081" description:"Listening port"`
}

func (cmd cmdServe) Execute(_ []string) error {
	initLog(cmd.Log)

	var plane, err = ipcfiles.New(cmd.Communication.Dir)
	if err != nil {
		return err
	}
	repo, err := store.OpenSQLite(cmd.Database)
	if err != nil {
		return err
	}
	defer repo.Close()

	interval, err := time.ParseDuration(cmd.Communication.StatusInterval)
	if err != nil {
		return fmt.Errorf("parsing --comm.status-interval: %w", err)
	}

	var router = mux.NewRouter()
	control.RegisterAPIs(router, plane, repo, interval)

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cmd.Port))
	if err != nil {
		return fmt.Errorf("binding listener: %w", err)
	}
	var server = &http.Server{Handler: router}

	var tasks = task.NewGroup(context.Background())
	tasks.Queue("control.api", func() error {
		log.WithField("addr", listener.Addr()).Info("serving control API")
		if err := server.Serve(listener); err != http.ErrServerClosed {
			return fmt.Errorf("control API server: %w", err)
		}
		return nil
	})

	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			tasks.Cancel()
			var ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(ctx)
		case <-tasks.Context().Done():
			return server.Close()
		}
	})
	tasks.GoRun()

	if err := tasks.Wait(); err != nil {
		return fmt.Errorf("task failed: %w", err)
	}
	log.Info("goodbye")
	return nil
}
