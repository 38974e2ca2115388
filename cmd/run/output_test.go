package run

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dyet92k/morph/internal/logsink"
	"github.com/dyet92k/morph/internal/models"
	"github.com/dyet92k/morph/internal/stream"
	"github.com/dyet92k/morph/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func finishedRun(t *testing.T) *models.Run {
	t.Helper()

	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r := &models.Run{
		ID:             uuid.MustParse("6f1c2b1e-8f9e-4f3c-9d1b-0c2e7a5b9e10"),
		Owner:          "alice",
		Scraper:        &models.Scraper{Name: "planning"},
		TablesAdded:    1,
		RecordsAdded:   12,
		RecordsRemoved: 2,
	}
	require.NoError(t, r.Start(started))
	require.NoError(t, r.Finish(started.Add(90*time.Second), 0))
	return r
}

func TestValidateFormat(t *testing.T) {
	for _, f := range []string{FormatText, FormatJSON, FormatYAML} {
		assert.NoError(t, validateFormat(f))
	}
	assert.EqualError(t, validateFormat("xml"), `unsupported output format "xml"`)
}

func TestWriteSummaryText(t *testing.T) {
	s := newSummary(finishedRun(t), &models.Metric{UTime: 1.25, STime: 0.5, MaxRSS: 4096})

	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, FormatText, s))

	assert.Equal(t, "Run 6f1c2b1e-8f9e-4f3c-9d1b-0c2e7a5b9e10 (alice/planning) finished_success with status code 0 in 90.00s\n"+
		"Tables: 1 added, 0 removed, 0 changed, 0 unchanged\n"+
		"Records: 12 added, 2 removed, 0 changed, 0 unchanged\n"+
		"CPU time: 1.75s, max RSS: 4096 kB\n", buf.String())
}

func TestWriteSummaryJSON(t *testing.T) {
	s := newSummary(finishedRun(t), nil)

	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, FormatJSON, s))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "finished_success", got["status"])
	assert.Equal(t, 90.0, got["wall_time"])
	assert.NotContains(t, got, "cpu_time")
}

func TestWriteSummaryYAML(t *testing.T) {
	s := newSummary(finishedRun(t), nil)

	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, FormatYAML, s))

	var got Summary
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, s, got)
}

func TestPrinterCatchesUp(t *testing.T) {
	db := testutil.OpenTestDB(t)
	sink := logsink.New(db, nil)
	r := &models.Run{Owner: "alice"}
	require.NoError(t, db.Create(r).Error)

	ctx := context.Background()
	var lines []*models.LogLine
	for _, l := range []struct {
		st   stream.Stream
		text string
	}{
		{stream.Stdout, "one\n"},
		{stream.Stderr, "two\n"},
		{stream.Stdout, "three\n"},
	} {
		line, err := sink.Log(ctx, r, l.st, l.text)
		require.NoError(t, err)
		lines = append(lines, line)
	}

	var stdout, stderr bytes.Buffer
	p := &printer{stdout: &stdout, stderr: &stderr, sink: sink, runID: r.ID}

	p.print(ctx, *lines[0])
	// the second line was dropped on the bus
	p.print(ctx, *lines[2])
	p.print(ctx, *lines[1])
	require.NoError(t, p.catchUp(ctx))

	assert.Equal(t, "one\nthree\n", stdout.String())
	assert.Equal(t, "two\n", stderr.String())
	assert.Equal(t, 3, p.last)
}

func TestValidateVariables(t *testing.T) {
	assert.NoError(t, validateVariables(nil, false))
	assert.NoError(t, validateVariables(map[string]string{"MORPH_KEY": "x"}, true))
	assert.EqualError(t, validateVariables(map[string]string{"MORPH_KEY": "x"}, false), "--env requires a scraper name")
	assert.EqualError(t, validateVariables(map[string]string{"KEY": "x"}, true), `variable "KEY" must start with MORPH_`)
}
