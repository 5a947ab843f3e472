package ui

import (
	"os/exec"
	"slices"
	"sync"

	"github.com/yllada/tunnelbar/common"
)

// ManageWindow opens the manage tunnels window by running an external
// command, normally a terminal running `tunnelbar manage`.
//
// Present and ImportTunnels only schedule the launch; the command starts on
// the next loop turn so that an import request made right after Present
// opens a single window with --import.
type ManageWindow struct {
	command []string
	post    func(func())
	start   func(argv []string) (wait func() error, err error)

	mu        sync.Mutex
	scheduled bool
	importing bool
	running   bool
}

// NewManageWindow creates a launcher for command. Launches are posted
// through post.
func NewManageWindow(command []string, post func(func())) *ManageWindow {
	return &ManageWindow{
		command: slices.Clone(command),
		post:    post,
		start:   startProcess,
	}
}

func startProcess(argv []string) (func() error, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Wait, nil
}

// Present implements menu.Window.
func (w *ManageWindow) Present() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.schedule()
}

// ImportTunnels implements menu.Importer.
func (w *ManageWindow) ImportTunnels() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.importing = true
	w.schedule()
}

func (w *ManageWindow) schedule() {
	if w.scheduled {
		return
	}
	w.scheduled = true
	w.post(w.launch)
}

// Running reports whether a window started by w is still open.
func (w *ManageWindow) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *ManageWindow) launch() {
	w.mu.Lock()
	defer w.mu.Unlock()

	importing := w.importing
	w.scheduled, w.importing = false, false

	if len(w.command) == 0 {
		common.LogDebug("No manage_command configured")
		return
	}
	if w.running {
		common.LogInfo("Manage window is already open")
		return
	}

	argv := slices.Clone(w.command)
	if importing {
		argv = append(argv, "--import")
	}
	wait, err := w.start(argv)
	if err != nil {
		common.LogWarn("Failed to open manage window with %q: %v", argv[0], err)
		return
	}
	w.running = true
	common.LogDebug("Opened manage window: %v", argv)

	go func() {
		err := wait()
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		if err != nil {
			common.LogDebug("Manage window exited: %v", err)
		}
	}()
}
