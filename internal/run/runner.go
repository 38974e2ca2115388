package run

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dyet92k/morph/internal/datastore"
	"github.com/dyet92k/morph/internal/diff"
	"github.com/dyet92k/morph/internal/event"
	"github.com/dyet92k/morph/internal/executor"
	"github.com/dyet92k/morph/internal/language"
	"github.com/dyet92k/morph/internal/logsink"
	"github.com/dyet92k/morph/internal/metric"
	"github.com/dyet92k/morph/internal/metrics"
	"github.com/dyet92k/morph/internal/models"
	"github.com/dyet92k/morph/internal/revision"
	"github.com/dyet92k/morph/internal/stream"
	"github.com/dyet92k/morph/pkg/log"
)

var ErrNotRunning = errors.New("run is not running")

// Config locates the directories a Runner works in.
type Config struct {
	DataRoot string
	RepoRoot string
}

// Runner drives a Run from start to a terminal state.
type Runner struct {
	cfg       Config
	store     *Store
	executor  executor.Executor
	sink      *logsink.Sink
	differ    diff.Differ
	revisions revision.Source
	bus       event.Bus
	archiver  datastore.Archiver
	languages []language.Language
	now       func() time.Time

	// mu serialises terminal transitions between Start and Stop.
	mu sync.Mutex
}

type Option func(*Runner)

func WithDiffer(d diff.Differ) Option {
	return func(r *Runner) { r.differ = d }
}

func WithRevisionSource(s revision.Source) Option {
	return func(r *Runner) { r.revisions = s }
}

func WithBus(b event.Bus) Option {
	return func(r *Runner) { r.bus = b }
}

func WithArchiver(a datastore.Archiver) Option {
	return func(r *Runner) { r.archiver = a }
}

func WithLanguages(langs []language.Language) Option {
	return func(r *Runner) { r.languages = langs }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func NewRunner(cfg Config, store *Store, exec executor.Executor, sink *logsink.Sink, opts ...Option) *Runner {
	r := &Runner{
		cfg:       cfg,
		store:     store,
		executor:  exec,
		sink:      sink,
		differ:    diff.SQLite{},
		revisions: revision.Git{},
		languages: language.Supported,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs the scraper attached to run and returns once the run
// has reached a terminal state. Failures of the scraper itself are
// recorded on the run; the returned error only reports failures to
// persist the run.
func (r *Runner) Start(ctx context.Context, run *models.Run) error {
	if run.StartedAt != nil {
		return models.ErrAlreadyStarted
	}
	if run.ScraperID != nil && run.Scraper == nil {
		scraper, err := r.store.Scraper(ctx, *run.ScraperID)
		if err != nil {
			return fmt.Errorf("load scraper: %w", err)
		}
		run.Scraper = scraper
	}

	ctx = WithRunID(ctx, run.ID)
	dataPath := run.DataPath(r.cfg.DataRoot)
	repoPath := run.RepoPath(r.cfg.RepoRoot)

	if err := datastore.Backup(dataPath); err != nil {
		return fmt.Errorf("backup data store: %w", err)
	}

	if err := run.Start(r.now()); err != nil {
		return err
	}

	rev, err := r.revisions.Revision(ctx, repoPath)
	if err != nil {
		log.Warn("failed to read source revision", "run_id", run.ID, "error", err)
	}
	run.GitRevision = rev

	if err := r.store.Save(ctx, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	log.Info("run started", "run_id", run.ID, "owner", run.Owner, "name", run.Name())
	r.publish(event.TypeRunStarted, run, run)

	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	if err := prepareDataPath(dataPath); err != nil {
		r.logLine(ctx, run, stream.Stderr, fmt.Sprintf("Failed to prepare data directory: %v\n", err))
		return r.complete(ctx, run, models.StatusCodeInfrastructureFailure)
	}

	lang, ok := language.Detect(os.DirFS(repoPath), r.languages)
	if !ok {
		r.logLine(ctx, run, stream.Stderr, language.MissingEntrypointMessage(r.languages)+"\n")
		return r.complete(ctx, run, models.StatusCodeSetupFailure)
	}

	req := &executor.Request{
		RepoPath:      repoPath,
		DataPath:      dataPath,
		ContainerName: run.ContainerName(),
		Language:      lang,
	}
	if run.Scraper != nil {
		req.Env = run.Scraper.Env()
	}

	code, err := r.execute(ctx, run, req)
	switch {
	case errors.Is(err, stream.ErrStream):
		metrics.StreamFailuresTotal.Inc()
		log.Error("output stream failed", "run_id", run.ID, "error", err)
		r.logLine(ctx, run, stream.Stderr, "Lost the output stream of the scraper\n")
		return r.complete(ctx, run, models.StatusCodeStreamFailure)
	case err != nil:
		log.Error("executor failed", "run_id", run.ID, "error", err)
		r.logLine(ctx, run, stream.Stderr, fmt.Sprintf("Failed to run scraper: %v\n", err))
		return r.complete(ctx, run, models.StatusCodeInfrastructureFailure)
	}

	r.collectMetric(ctx, run, dataPath)

	if err := r.finish(ctx, run, code); err != nil {
		return err
	}

	r.applyDiff(ctx, run, dataPath)

	if err := r.store.Save(ctx, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	if run.Scraper != nil {
		r.index(ctx, run, dataPath, repoPath)
	}

	r.finished(run)
	return nil
}

// execute runs the executor on its own goroutine while this one
// consumes its events, so every run state write happens here.
func (r *Runner) execute(ctx context.Context, run *models.Run, req *executor.Request) (int, error) {
	type result struct {
		code int
		err  error
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan executor.Event)
	done := make(chan result, 1)

	go func() {
		code, err := r.executor.CompileAndRun(ctx, req, events)
		done <- result{code: code, err: err}
	}()

	for {
		select {
		case e := <-events:
			r.handle(ctx, run, e)
		case res := <-done:
			return res.code, res.err
		}
	}
}

func (r *Runner) handle(ctx context.Context, run *models.Run, e executor.Event) {
	switch e := e.(type) {
	case executor.Log:
		r.logLine(ctx, run, e.Stream, e.Text)
	case executor.IPAddress:
		if err := r.store.UpdateIPAddress(ctx, run.ID, e.Addr); err != nil {
			log.Error("failed to record ip address", "run_id", run.ID, "error", err)
			return
		}
		r.mu.Lock()
		run.IPAddress = e.Addr
		r.mu.Unlock()
		r.publish(event.TypeRunIPAddress, run, e)
	}
}

// Stop terminates a running run's container and records it as
// stopped.
func (r *Runner) Stop(ctx context.Context, run *models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !run.Running() {
		return ErrNotRunning
	}

	if err := r.executor.Stop(ctx, run.ContainerName()); err != nil {
		log.Warn("failed to stop container", "run_id", run.ID, "container", run.ContainerName(), "error", err)
	}

	if err := run.Finish(r.now(), models.StatusCodeStopped); err != nil {
		return err
	}
	if err := r.store.Finish(ctx, run); err != nil {
		if errors.Is(err, models.ErrAlreadyFinished) {
			r.adopt(ctx, run)
			return ErrNotRunning
		}
		return fmt.Errorf("save run: %w", err)
	}

	log.Info("run stopped", "run_id", run.ID)
	r.publish(event.TypeRunStopped, run, run)
	return nil
}

// Log appends a line of console output to the run.
func (r *Runner) Log(ctx context.Context, run *models.Run, st stream.Stream, text string) (*models.LogLine, error) {
	return r.sink.Log(ctx, run, st, text)
}

func (r *Runner) logLine(ctx context.Context, run *models.Run, st stream.Stream, text string) {
	if _, err := r.Log(ctx, run, st, text); err != nil {
		log.Error("failed to store log line", "run_id", run.ID, "stream", st, "error", err)
	}
}

// finish moves the run to its terminal state unless a concurrent
// Stop got there first, in which case the stop result is kept.
func (r *Runner) finish(ctx context.Context, run *models.Run, code int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run.Finished() {
		return nil
	}
	if err := run.Finish(r.now(), code); err != nil {
		return err
	}
	err := r.store.Finish(ctx, run)
	if errors.Is(err, models.ErrAlreadyFinished) {
		r.adopt(ctx, run)
		return nil
	}
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// adopt copies the terminal fields written by another writer.
func (r *Runner) adopt(ctx context.Context, run *models.Run) {
	stored, err := r.store.Get(ctx, run.ID)
	if err != nil {
		log.Error("failed to reload run", "run_id", run.ID, "error", err)
		return
	}
	run.FinishedAt = stored.FinishedAt
	run.StatusCode = stored.StatusCode
	run.WallTime = stored.WallTime
}

// complete finishes a run that never produced a result worth
// collecting.
func (r *Runner) complete(ctx context.Context, run *models.Run, code int) error {
	if err := r.finish(ctx, run, code); err != nil {
		return err
	}
	if err := r.store.Save(ctx, run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	r.finished(run)
	return nil
}

func (r *Runner) finished(run *models.Run) {
	status := string(run.Status())
	metrics.RunsTotal.WithLabelValues(status).Inc()
	if d, ok := run.Duration(); ok {
		metrics.RunWallTimeSeconds.WithLabelValues(status).Observe(d.Seconds())
	}

	code := -1
	if run.StatusCode != nil {
		code = *run.StatusCode
	}
	log.Info("run finished", "run_id", run.ID, "status", status, "status_code", code)
	r.publish(event.TypeRunFinished, run, run)
}

func (r *Runner) collectMetric(ctx context.Context, run *models.Run, dataPath string) {
	m, err := metric.Read(filepath.Join(dataPath, metric.Filename))
	if err != nil {
		log.Warn("failed to read run metric", "run_id", run.ID, "error", err)
		return
	}
	if m == nil {
		return
	}
	m.RunID = run.ID
	if err := r.store.SaveMetric(ctx, m); err != nil {
		log.Error("failed to save run metric", "run_id", run.ID, "error", err)
		return
	}
	metrics.RunCPUSeconds.Observe(m.CPUTime())
}

func (r *Runner) applyDiff(ctx context.Context, run *models.Run, dataPath string) {
	if r.differ == nil {
		return
	}
	res, err := r.differ.Diff(ctx, datastore.BackupPath(dataPath), datastore.Path(dataPath))
	if err != nil {
		log.Warn("failed to diff data store", "run_id", run.ID, "error", err)
		return
	}
	if res != nil {
		res.Apply(run)
	}
}

// index refreshes the scraper's sizes and archives its data store.
func (r *Runner) index(ctx context.Context, run *models.Run, dataPath, repoPath string) {
	scraper := run.Scraper

	dbSize, err := datastore.Size(datastore.Path(dataPath))
	if err != nil {
		log.Warn("failed to size data store", "scraper_id", scraper.ID, "error", err)
	}
	repoSize, err := datastore.Size(repoPath)
	if err != nil {
		log.Warn("failed to size repository", "scraper_id", scraper.ID, "error", err)
	}

	now := r.now()
	scraper.SQLiteDBSize = dbSize
	scraper.RepoSize = repoSize
	scraper.IndexedAt = &now
	if err := r.store.SaveScraper(ctx, scraper); err != nil {
		log.Error("failed to update scraper", "scraper_id", scraper.ID, "error", err)
		return
	}

	if r.archiver != nil && dbSize > 0 {
		if err := r.archiver.Archive(ctx, run, dataPath); err != nil {
			log.Error("failed to archive data store", "run_id", run.ID, "error", err)
		}
	}

	r.publish(event.TypeScraperIndexed, run, scraper)
}

func (r *Runner) publish(t event.Type, run *models.Run, payload any) {
	if r.bus == nil {
		return
	}
	e, err := event.NewEvent(t, run.ID, run.ScraperID, payload)
	if err != nil {
		log.Error("failed to build event", "type", t, "run_id", run.ID, "error", err)
		return
	}
	r.bus.Publish(e)
}

func prepareDataPath(dataPath string) error {
	if err := os.MkdirAll(dataPath, 0o777); err != nil {
		return err
	}
	// The scraper runs as an unprivileged user inside the container.
	if err := os.Chmod(dataPath, 0o777); err != nil {
		return err
	}
	// time.output is only written when the scraper process exits, so
	// one left by an earlier run must not be read back for this one.
	err := os.Remove(filepath.Join(dataPath, metric.Filename))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
