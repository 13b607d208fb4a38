package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/finwire/mtflow/go/store"
)

type cmdMessages struct {
	baseConfig
	Database  string `long:"db.path" env:"DB_PATH" default:"mtflow.db" description:"SQLite database path"`
	Status    string `long:"status" description:"Filter by lifecycle status"`
	Reference string `long:"reference" description:"Filter by transaction reference"`
	Take      int    `long:"take" default:"20" description:"Maximum records to show"`
	JSON      bool   `long:"json" description:"Emit raw JSON instead of formatted output"`
}

func (cmd cmdMessages) Execute(_ []string) error {
	initLog(cmd.Log)

	var repo, err = store.OpenSQLite(cmd.Database)
	if err != nil {
		return err
	}
	defer repo.Close()

	var ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var msgs []store.ProcessedMessage
	if cmd.Reference != "" {
		msgs, err = repo.GetByReference(ctx, cmd.Reference)
	} else {
		var filter = store.Filter{Take: cmd.Take}
		if cmd.Status != "" {
			var s = store.Status(cmd.Status)
			if !store.ValidStatus(s) {
				return fmt.Errorf("unknown status %q", cmd.Status)
			}
			filter.Status = s
		}
		msgs, err = repo.Query(ctx, filter)
	}
	if err != nil {
		return err
	}

	if cmd.JSON {
		return printJSON(msgs)
	}
	if len(msgs) == 0 {
		color.Yellow("no matching messages")
		return nil
	}
	for _, m := range msgs {
		var paint = color.New(color.FgGreen)
		if m.Status == store.Failed || m.Status == store.DeadLetter {
			paint = color.New(color.FgRed)
		}
		paint.Printf("%-10s", m.Status)
		fmt.Printf(" %s  %s", m.ProcessedAt.Format(time.RFC3339), m.ID)
		if ref, ok := m.Metadata["transactionReference"].(string); ok {
			fmt.Printf("  %s", ref)
		}
		fmt.Println()
		if m.ErrorDetails != "" {
			fmt.Printf("           %s\n", m.ErrorDetails)
		}
	}
	return nil
}

func printJSON(v interface{}) error {
	var enc = json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
