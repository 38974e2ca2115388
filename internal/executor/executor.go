// Package executor defines how a scraper's code is compiled and run in
// an isolated environment, and the events reported while it runs.
package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dyet92k/morph/internal/language"
	"github.com/dyet92k/morph/internal/metric"
	"github.com/dyet92k/morph/internal/stream"
	"github.com/dyet92k/morph/pkg/container"
)

// Label marks containers managed by morph.
const Label = "io.morph.run"

// Paths the scratch build and the data directory are mounted
// at inside the execution environment.
const (
	AppPath  = "/app"
	DataPath = "/data"
)

// DefaultCommand compiles the app with its buildpack and runs the
// Procfile scraper process under GNU time, which writes the
// metrics artifact into the data directory.
var DefaultCommand = []string{
	"/bin/sh", "-c",
	"/bin/herokuish buildpack build && cd " + DataPath +
		" && exec /usr/bin/time -v -o " + DataPath + "/" + metric.Filename +
		" /bin/herokuish procfile start scraper",
}

// ErrNotFound is returned when a named execution environment
// does not exist.
var ErrNotFound = errors.New("container not found")

// DefaultPollInterval is used by backends that poll for state
// when Config.PollInterval is unset.
const DefaultPollInterval = time.Second

// Executor compiles and runs scrapers in isolated environments.
type Executor interface {
	// CompileAndRun builds and runs the scraper described by req,
	// sending events as they happen, and returns the process's
	// exit status once it has exited and its output is drained.
	// events is never closed by the executor.
	CompileAndRun(ctx context.Context, req *Request, events chan<- Event) (int, error)
	// Stop terminates the named execution environment.
	Stop(ctx context.Context, name string) error
	// ContainerExists reports whether the named execution
	// environment exists.
	ContainerExists(ctx context.Context, name string) (bool, error)
}

// Request defines the input parameters to CompileAndRun.
type Request struct {
	RepoPath      string
	DataPath      string
	Env           map[string]string
	ContainerName string
	Language      language.Language
}

// Event is reported by an Executor while a scraper runs. It is
// one of Log or IPAddress.
type Event interface {
	event()
}

// Log is one flushed line of scraper output.
type Log struct {
	Stream stream.Stream
	Text   string
}

// IPAddress is the network address allocated to the
// execution environment.
type IPAddress struct {
	Addr string
}

func (Log) event()       {}
func (IPAddress) event() {}

// Config captures the knobs shared by every executor backend.
type Config struct {
	Image        string
	Command      []string
	ScratchRoot  string
	StopTimeout  time.Duration
	PollInterval time.Duration
	ReadSize     int
	MaxLineSize  int
}

// ParseCommand splits a configured command line. An empty
// command selects DefaultCommand.
func ParseCommand(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultCommand
	}
	return []string{"/bin/sh", "-c", raw}
}

// CommandOrDefault returns the configured command, falling back
// to DefaultCommand.
func (c Config) CommandOrDefault() []string {
	if len(c.Command) == 0 {
		return DefaultCommand
	}
	return c.Command
}

// Limiter builds the stream limiter for one run.
func (c Config) Limiter() *stream.Limiter {
	opts := []stream.Option{}
	if c.ReadSize > 0 {
		opts = append(opts, stream.WithReadSize(c.ReadSize))
	}
	if c.MaxLineSize > 0 {
		opts = append(opts, stream.WithMaxLineSize(c.MaxLineSize))
	}
	return stream.NewLimiter(opts...)
}

// Forward returns a flush function sending each line as a Log
// event. It gives up when ctx is done so a departed consumer
// cannot block the limiter forever.
func Forward(ctx context.Context, events chan<- Event) stream.FlushFunc {
	return func(s stream.Stream, text string) {
		Send(ctx, events, Log{Stream: s, Text: text})
	}
}

// Send delivers e unless ctx is done first.
func Send(ctx context.Context, events chan<- Event, e Event) {
	select {
	case events <- e:
	case <-ctx.Done():
	}
}

// Spec describes the container that compiles and runs req from
// the scratch build at scratch.
func (c Config) Spec(req *Request, scratch string) container.Spec {
	return container.Spec{
		Name:    req.ContainerName,
		Image:   c.Image,
		Command: c.CommandOrDefault(),
		Env:     req.Env,
		Labels:  map[string]string{Label: req.ContainerName},
		WorkDir: AppPath,
		Mounts: []container.Mount{
			{Type: container.MountTypeBind, Source: scratch, Target: AppPath},
			{Type: container.MountTypeBind, Source: req.DataPath, Target: DataPath},
		},
	}
}
