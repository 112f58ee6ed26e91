package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning is returned by PIDFile.Acquire when the file names a live process
var ErrAlreadyRunning = errors.New("another instance is already running")

// PIDFile guards a single gateway instance per path
type PIDFile struct {
	path string
}

func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

func (p *PIDFile) Path() string { return p.path }

// Acquire records the current pid. A file left behind by a dead process is
// overwritten; one held by a live process other than ours is refused.
func (p *PIDFile) Acquire() error {
	if pid, err := p.Read(); err == nil && pid != os.Getpid() && processAlive(pid) {
		return fmt.Errorf("%w (pid %d, %s)", ErrAlreadyRunning, pid, p.path)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("creating pid directory: %w", err)
	}
	return os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// Read returns the pid stored in the file
func (p *PIDFile) Read() (int, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %s", p.path)
	}
	return pid, nil
}

// Release removes the file if it still holds our pid. Missing files are fine.
func (p *PIDFile) Release() error {
	pid, err := p.Read()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && pid != os.Getpid() {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
