// mt-control is the operator's front to a running mt-processor: it reads
// the published status, issues lifecycle commands through the shared
// communication directory, and can serve the control HTTP API for remote
// operation.
package main

import (
	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

type baseConfig struct {
	Communication struct {
		Dir            string `long:"dir" env:"DIR" default:"./comm" description:"Status and command exchange directory"`
		StatusInterval string `long:"status-interval" env:"STATUS_INTERVAL" default:"5s" description:"Processor status cadence, for staleness checks"`
	} `group:"Communication" namespace:"comm" env-namespace:"COMM"`

	Log logConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func main() {
	var parser = flags.NewParser(nil, flags.HelpFlag|flags.PassDoubleDash)

	_, _ = parser.AddCommand("status", "Show processor status", `
Read and pretty-print the processor's last published status.
`, &cmdStatus{})

	_, _ = parser.AddCommand("start", "Start the processing pipeline", "", &cmdCommand{kind: "start"})
	_, _ = parser.AddCommand("stop", "Stop the processing pipeline", "", &cmdCommand{kind: "stop"})
	_, _ = parser.AddCommand("restart", "Restart the processing pipeline", "", &cmdCommand{kind: "restart"})
	_, _ = parser.AddCommand("enable-test-mode", "Enable synthetic test traffic", "", &cmdCommand{kind: "enable-test-mode"})
	_, _ = parser.AddCommand("disable-test-mode", "Disable synthetic test traffic", "", &cmdCommand{kind: "disable-test-mode"})

	_, _ = parser.AddCommand("messages", "List processed messages", `
Query the message database, newest first.
`, &cmdMessages{})

	_, _ = parser.AddCommand("serve", "Serve the control HTTP API", `
Serve the control HTTP API over the shared communication directory and
message database, until signaled to exit (via SIGTERM).
`, &cmdServe{})

	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		log.WithField("err", err).Fatal("command failed")
	}
}
