package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/finwire/mtflow/go/ipcfiles"
)

type cmdStatus struct {
	baseConfig
	JSON bool `long:"json" description:"Emit raw JSON instead of formatted output"`
}

func (cmd cmdStatus) Execute(_ []string) error {
	initLog(cmd.Log)

	var plane, err = ipcfiles.New(cmd.Communication.Dir)
	if err != nil {
		return err
	}
	status, err := plane.ReadStatus()
	if os.IsNotExist(err) {
		color.Red("no status published yet in %s", cmd.Communication.Dir)
		return nil
	} else if err != nil {
		return err
	}

	if cmd.JSON {
		return printJSON(status)
	}

	interval, err := time.ParseDuration(cmd.Communication.StatusInterval)
	if err != nil {
		return fmt.Errorf("parsing --comm.status-interval: %w", err)
	}

	var stale = time.Since(status.StatusUpdatedAt) > 3*interval
	switch {
	case stale:
		color.Red("● %s (stale, last seen %s)", status.Status,
			status.StatusUpdatedAt.Format(time.RFC3339))
	case status.IsRunning:
		color.Green("● %s", status.Status)
	default:
		color.Yellow("● %s", status.Status)
	}

	var bold = color.New(color.Bold)
	bold.Printf("  processed: ")
	fmt.Println(status.MessagesProcessed)
	bold.Printf("  failed:    ")
	fmt.Println(status.MessagesFailed)
	bold.Printf("  pending:   ")
	fmt.Println(status.MessagesPending)
	bold.Printf("  test mode: ")
	fmt.Println(status.TestModeEnabled)
	if status.LastProcessedAt != nil {
		bold.Printf("  last processed: ")
		fmt.Println(status.LastProcessedAt.Format(time.RFC3339))
	}
	if status.IsProcessing {
		color.Cyan("  a message is in flight")
	}
	return nil
}
