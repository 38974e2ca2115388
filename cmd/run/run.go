package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dyet92k/morph/internal/app"
	"github.com/dyet92k/morph/internal/event"
	"github.com/dyet92k/morph/internal/logsink"
	"github.com/dyet92k/morph/internal/models"
	"github.com/dyet92k/morph/internal/stream"
	"github.com/dyet92k/morph/pkg/env"
	"github.com/dyet92k/morph/pkg/jsonmap"
	"github.com/dyet92k/morph/pkg/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	output    string
	variables map[string]string
)

// Cmd runs a scraper in the foreground.
var Cmd = &cobra.Command{
	Use:     "run <owner> [scraper]",
	Short:   "Run a scraper and stream its output",
	Example: "morph run alice planning-alerts --output yaml",
	Args:    cobra.RangeArgs(1, 2),
	RunE:    execute,
}

func init() {
	Cmd.Flags().StringVarP(&output, "output", "o", FormatText, "Summary format (text, json, yaml)")
	Cmd.Flags().StringToStringVarP(&variables, "env", "e", nil, "Set scraper variables (MORPH_NAME=value, empty value unsets)")
}

func execute(cmd *cobra.Command, args []string) error {
	if err := validateFormat(output); err != nil {
		return err
	}
	if err := validateVariables(variables, len(args) > 1); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := app.Build(ctx, env.Variables())
	if err != nil {
		return err
	}
	defer a.Close()

	r := &models.Run{Owner: args[0]}
	if len(args) > 1 {
		scraper, err := a.Store.FindOrCreateScraper(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		if len(variables) > 0 {
			scraper.Variables = jsonmap.Merge(scraper.Variables, variables)
			if err := a.Store.SaveScraper(ctx, scraper); err != nil {
				return err
			}
		}
		r.ScraperID = &scraper.ID
		r.Scraper = scraper
	}
	r.Queue(time.Now().UTC())
	if err := a.Store.Create(ctx, r); err != nil {
		return err
	}

	p := &printer{
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
		sink:   a.Sink,
		runID:  r.ID,
	}

	subCtx, unsubscribe := context.WithCancel(ctx)
	lines, err := a.Bus.Subscribe(subCtx, event.Filter{RunID: r.ID, Types: []event.Type{event.TypeLogLine}})
	if err != nil {
		unsubscribe()
		return err
	}

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for e := range lines {
			var line models.LogLine
			if err := json.Unmarshal(e.Payload, &line); err != nil {
				log.Warn("failed to decode log line", "run_id", r.ID, "error", err)
				continue
			}
			p.print(ctx, line)
		}
	}()

	go stopOnSignal(ctx, a, r.ID)

	startErr := a.Runner.Start(ctx, r)

	unsubscribe()
	<-printed
	if err := p.catchUp(ctx); err != nil {
		log.Warn("failed to read remaining log lines", "run_id", r.ID, "error", err)
	}

	if startErr != nil {
		return startErr
	}

	summary, err := summarize(ctx, a, r)
	if err != nil {
		return err
	}
	return writeSummary(cmd.OutOrStdout(), output, summary)
}

func validateVariables(vars map[string]string, hasScraper bool) error {
	if len(vars) == 0 {
		return nil
	}
	if !hasScraper {
		return errors.New("--env requires a scraper name")
	}
	for name := range vars {
		if !strings.HasPrefix(name, models.EnvPrefix) {
			return fmt.Errorf("variable %q must start with %s", name, models.EnvPrefix)
		}
	}
	return nil
}

// stopOnSignal stops the run when the user interrupts the command.
func stopOnSignal(ctx context.Context, a *app.App, id uuid.UUID) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case <-ctx.Done():
		return
	case s := <-signals:
		log.Info("stopping run", "run_id", id, "signal", s.String())
	}

	r, err := a.Store.Get(ctx, id)
	if err != nil {
		log.Error("failed to load run", "run_id", id, "error", err)
		return
	}
	if err := a.Runner.Stop(ctx, r); err != nil {
		log.Error("failed to stop run", "run_id", id, "error", err)
	}
}

// printer writes a run's console output in order. Lines missed on
// the event bus are read back from the sink.
type printer struct {
	stdout io.Writer
	stderr io.Writer
	sink   *logsink.Sink
	runID  uuid.UUID
	last   int
}

func (p *printer) print(ctx context.Context, line models.LogLine) {
	switch {
	case line.Number <= p.last:
		return
	case line.Number > p.last+1:
		if err := p.catchUp(ctx); err != nil {
			log.Warn("failed to read missed log lines", "run_id", p.runID, "error", err)
		}
		return
	}
	p.write(line)
}

func (p *printer) catchUp(ctx context.Context) error {
	lines, err := p.sink.Lines(ctx, p.runID)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if line.Number > p.last {
			p.write(line)
		}
	}
	return nil
}

func (p *printer) write(line models.LogLine) {
	w := p.stdout
	if line.Stream == string(stream.Stderr) {
		w = p.stderr
	}
	if _, err := fmt.Fprint(w, line.Text); err != nil {
		log.Warn("failed to print log line", "run_id", p.runID, "error", err)
	}
	p.last = line.Number
}
