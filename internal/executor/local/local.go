// Package local runs scrapers as plain child processes of morph. It
// gives no isolation and is meant for development and tests.
package local

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dyet92k/morph/internal/executor"
	"github.com/dyet92k/morph/internal/language"
	"github.com/dyet92k/morph/internal/metric"
	"github.com/dyet92k/morph/pkg/log"
)

// Address is reported as the IP address of every local run.
const Address = "127.0.0.1"

// ProcessName is the Procfile entry that is run.
const ProcessName = "scraper"

// ErrNoProcess is returned when the Procfile has no scraper entry.
var ErrNoProcess = errors.New("procfile has no scraper process")

// Executor implements executor.Executor with os/exec.
type Executor struct {
	cfg executor.Config

	mu    sync.Mutex
	procs map[string]*exec.Cmd
}

// New creates a local Executor.
func New(cfg executor.Config) *Executor {
	return &Executor{
		cfg:   cfg,
		procs: make(map[string]*exec.Cmd),
	}
}

// CompileAndRun runs the Procfile scraper process of a scratch
// copy of the source tree. There is no compile step.
func (e *Executor) CompileAndRun(ctx context.Context, req *executor.Request, events chan<- executor.Event) (int, error) {
	scratch, err := executor.PrepareScratch(req.RepoPath, req.Language, e.cfg.ScratchRoot)
	if err != nil {
		return -1, err
	}
	defer os.RemoveAll(scratch)

	command, err := procfileCommand(filepath.Join(scratch, language.ProcfileName))
	if err != nil {
		return -1, err
	}

	spec := e.cfg.Spec(req, scratch)
	spec.Env = withDataPath(req.Env, req.DataPath)

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = scratch
	cmd.Env = append(os.Environ(), spec.EnvList()...)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, err
	}

	if err := e.register(req.ContainerName, cmd); err != nil {
		return -1, err
	}
	defer e.unregister(req.ContainerName)

	log.Info("starting local process", "name", req.ContainerName, "command", command)

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start %s: %w", req.ContainerName, err)
	}

	cancel := context.AfterFunc(ctx, func() { _ = terminate(cmd) })
	defer cancel()

	executor.Send(ctx, events, executor.IPAddress{Addr: Address})

	wait := func() (int, error) {
		err := cmd.Wait()
		code, err := exitCode(cmd, err)
		if err != nil {
			return -1, err
		}
		if werr := writeReport(req.DataPath, cmd, time.Since(started)); werr != nil {
			log.Warn("failed to write resource report", "name", req.ContainerName, "error", werr)
		}
		return code, nil
	}

	code, err := e.cfg.Limiter().Run(stdout, stderr, wait, executor.Forward(ctx, events))
	if err != nil {
		// the limiter gave up before wait, so reap here
		terminate(cmd)
		_ = cmd.Wait()
		return -1, err
	}

	log.Info("local process exited", "name", req.ContainerName, "status_code", code)

	return code, nil
}

// Stop terminates the named process and everything it spawned.
func (e *Executor) Stop(ctx context.Context, name string) error {
	e.mu.Lock()
	cmd, ok := e.procs[name]
	e.mu.Unlock()

	if !ok {
		return executor.ErrNotFound
	}

	log.Info("stopping local process", "name", name)

	return terminate(cmd)
}

// ContainerExists reports whether the named process is running.
func (e *Executor) ContainerExists(ctx context.Context, name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.procs[name]
	return ok, nil
}

func (e *Executor) register(name string, cmd *exec.Cmd) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.procs[name]; ok {
		return fmt.Errorf("process %s is already running", name)
	}
	e.procs[name] = cmd
	return nil
}

func (e *Executor) unregister(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.procs, name)
}

func withDataPath(env map[string]string, dataPath string) map[string]string {
	out := make(map[string]string, len(env)+1)
	for k, v := range env {
		out[k] = v
	}
	out["MORPH_DATA_PATH"] = dataPath
	return out
}

func procfileCommand(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name, command, ok := strings.Cut(scanner.Text(), ":")
		if ok && strings.TrimSpace(name) == ProcessName {
			if command = strings.TrimSpace(command); command != "" {
				return command, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", ErrNoProcess
}

func exitCode(cmd *exec.Cmd, err error) (int, error) {
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return -1, err
	}
	return statusOf(cmd.ProcessState), nil
}

// writeReport records the process's resource usage in the same
// format GNU time uses so metric.Read can pick it up.
func writeReport(dataPath string, cmd *exec.Cmd, wall time.Duration) error {
	if dataPath == "" || cmd.ProcessState == nil {
		return nil
	}

	state := cmd.ProcessState
	seconds := wall.Seconds()
	minutes := int(seconds) / 60

	var b strings.Builder
	fmt.Fprintf(&b, "\tCommand being timed: %q\n", strings.Join(cmd.Args, " "))
	fmt.Fprintf(&b, "\tUser time (seconds): %.2f\n", state.UserTime().Seconds())
	fmt.Fprintf(&b, "\tSystem time (seconds): %.2f\n", state.SystemTime().Seconds())
	fmt.Fprintf(&b, "\tElapsed (wall clock) time (h:mm:ss or m:ss): %d:%05.2f\n", minutes, seconds-float64(minutes*60))
	writeUsage(&b, state)
	fmt.Fprintf(&b, "\tExit status: %d\n", state.ExitCode())

	return os.WriteFile(filepath.Join(dataPath, metric.Filename), []byte(b.String()), 0o644)
}
