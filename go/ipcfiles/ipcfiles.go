// Package ipcfiles is the file-backed rendezvous between the processor and
// its control front: the processor publishes status.json on a cadence and
// polls command.json for lifecycle commands. All writes go to a temp sibling
// and are renamed into place, so readers never observe partial files.
// A single processor instance owns the directory; multiple writers sharing
// it are not supported.
package ipcfiles

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	statusFile  = "status.json"
	commandFile = "command.json"
)

// ProcessStatus is the processor's published operational state.
type ProcessStatus struct {
	IsRunning         bool                   `json:"isRunning"`
	IsProcessing      bool                   `json:"isProcessing"`
	MessagesProcessed int64                  `json:"messagesProcessed"`
	MessagesFailed    int64                  `json:"messagesFailed"`
	MessagesPending   int64                  `json:"messagesPending"`
	LastProcessedAt   *time.Time             `json:"lastProcessedAt,omitempty"`
	StatusUpdatedAt   time.Time              `json:"statusUpdatedAt"`
	Status            string                 `json:"status"`
	TestModeEnabled   bool                   `json:"testModeEnabled"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// Command is a lifecycle command for the processor.
type Command string

const (
	CmdStart           Command = "Start"
	CmdStop            Command = "Stop"
	CmdRestart         Command = "Restart"
	CmdGetStatus       Command = "GetStatus"
	CmdEnableTestMode  Command = "EnableTestMode"
	CmdDisableTestMode Command = "DisableTestMode"
)

// Known reports whether cmd is a recognized command. Unknown commands are
// logged and discarded by the poller.
func (c Command) Known() bool {
	switch c {
	case CmdStart, CmdStop, CmdRestart, CmdGetStatus, CmdEnableTestMode, CmdDisableTestMode:
		return true
	}
	return false
}

// CommandEnvelope is the on-disk shape of command.json.
type CommandEnvelope struct {
	Command  Command   `json:"command"`
	IssuedAt time.Time `json:"issuedAt"`
}

// Plane is one processor/control-front rendezvous directory.
type Plane struct {
	dir string

	mu          sync.Mutex
	lastPublish time.Time
}

// New opens (creating if needed) the communication directory.
func New(dir string) (*Plane, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating communication directory %s: %w", dir, err)
	}
	return &Plane{dir: dir}, nil
}

// Dir is the communication directory path.
func (p *Plane) Dir() string { return p.dir }

// WriteStatus publishes the status atomically. StatusUpdatedAt is stamped
// here and is monotonically non-decreasing across publications of this
// Plane instance.
func (p *Plane) WriteStatus(s ProcessStatus) error {
	p.mu.Lock()
	var now = time.Now().UTC()
	if now.Before(p.lastPublish) {
		now = p.lastPublish // Wall clock stepped back: hold the last stamp.
	}
	p.lastPublish = now
	p.mu.Unlock()

	s.StatusUpdatedAt = now
	return p.writeAtomic(statusFile, s)
}

// ReadStatus reads the last published status. os.ErrNotExist surfaces when
// nothing was published yet.
func (p *Plane) ReadStatus() (*ProcessStatus, error) {
	var raw, err = os.ReadFile(filepath.Join(p.dir, statusFile))
	if err != nil {
		return nil, err
	}
	var s ProcessStatus
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", statusFile, err)
	}
	return &s, nil
}

// Healthy reports processor liveness: status.json exists and its
// StatusUpdatedAt is within three publication intervals of now.
func (p *Plane) Healthy(interval time.Duration) bool {
	var s, err = p.ReadStatus()
	if err != nil {
		return false
	}
	return time.Since(s.StatusUpdatedAt) <= 3*interval
}

// WriteCommand atomically replaces command.json with the given command.
func (p *Plane) WriteCommand(cmd Command) error {
	return p.writeAtomic(commandFile, CommandEnvelope{
		Command:  cmd,
		IssuedAt: time.Now().UTC(),
	})
}

// PollCommand consumes a pending command, if any. The file is renamed to a
// .processed sibling before its content is returned, so a command is applied
// at most once even across processor restarts. Unknown commands are logged
// and discarded (nil is returned).
func (p *Plane) PollCommand() (*CommandEnvelope, error) {
	var path = filepath.Join(p.dir, commandFile)
	var processed = path + ".processed"

	// Rename-first claims the file; a concurrent poll loses the rename
	// and sees ErrNotExist.
	if err := os.Rename(path, processed); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("claiming %s: %w", commandFile, err)
	}

	var raw, err = os.ReadFile(processed)
	if err != nil {
		return nil, fmt.Errorf("reading claimed command: %w", err)
	}
	var env CommandEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", commandFile, err)
	}
	if !env.Command.Known() {
		log.WithField("command", env.Command).Warn("discarding unknown command")
		return nil, nil
	}
	return &env, nil
}

func (p *Plane) writeAtomic(name string, v interface{}) error {
	var raw, err = json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	var final = filepath.Join(p.dir, name)
	tmp, err := os.CreateTemp(p.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp sibling of %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp sibling of %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp sibling of %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("renaming %s into place: %w", name, err)
	}
	return nil
}
