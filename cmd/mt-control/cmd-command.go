package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"github.com/finwire/mtflow/go/ipcfiles"
)

type cmdCommand struct {
	baseConfig
	Wait    bool   `long:"wait" description:"Block until the processor consumes the command"`
	Timeout string `long:"timeout" default:"30s" description:"Bound on --wait"`

	kind string
}

var commandKinds = map[string]ipcfiles.Command{
	"start":             ipcfiles.CmdStart,
	"stop":              ipcfiles.CmdStop,
	"restart":           ipcfiles.CmdRestart,
	"enable-test-mode":  ipcfiles.CmdEnableTestMode,
	"disable-test-mode": ipcfiles.CmdDisableTestMode,
}

func (cmd cmdCommand) Execute(_ []string) error {
	initLog(cmd.Log)

	var c, ok = commandKinds[cmd.kind]
	if !ok {
		return fmt.Errorf("unknown command kind %q", cmd.kind)
	}
	plane, err := ipcfiles.New(cmd.Communication.Dir)
	if err != nil {
		return err
	}
	if err := plane.WriteCommand(c); err != nil {
		return err
	}
	color.Green("issued %s", c)

	if !cmd.Wait {
		return nil
	}
	timeout, err := time.ParseDuration(cmd.Timeout)
	if err != nil {
		return fmt.Errorf("parsing --timeout: %w", err)
	}
	var deadline = time.Now().Add(timeout)
	for {
		// The processor consumes command.json by renaming it away.
		if _, err := os.Stat(filepath.Join(plane.Dir(), "command.json")); os.IsNotExist(err) {
			color.Green("consumed")
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("command was not consumed within %s", timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
