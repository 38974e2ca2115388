// Package metric reads the resource usage report written by GNU time
// around a scraper process.
package metric

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dyet92k/morph/internal/models"
)

// Filename is the report's name inside a run's data directory.
const Filename = "time.output"

// Read parses the report at path. A missing report is not an
// error: the process ended before writing it, and Read returns
// nil, nil.
func Read(path string) (*models.Metric, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return m, nil
}

// Parse reads a `time -v` report.
func Parse(r io.Reader) (*models.Metric, error) {
	m := &models.Metric{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// keys can contain ": " themselves, e.g. the wall
		// clock line, so split on the last one
		i := strings.LastIndex(line, ": ")
		if i < 0 {
			continue
		}
		key, value := line[:i], strings.TrimSpace(line[i+2:])

		var err error
		switch key {
		case "User time (seconds)":
			m.UTime, err = strconv.ParseFloat(value, 64)
		case "System time (seconds)":
			m.STime, err = strconv.ParseFloat(value, 64)
		case "Elapsed (wall clock) time (h:mm:ss or m:ss)":
			m.WallTime, err = parseClock(value)
		case "Maximum resident set size (kbytes)":
			m.MaxRSS, err = strconv.ParseInt(value, 10, 64)
		case "Major (requiring I/O) page faults":
			m.MajFlt, err = strconv.ParseInt(value, 10, 64)
		case "Minor (reclaiming a frame) page faults":
			m.MinFlt, err = strconv.ParseInt(value, 10, 64)
		case "Voluntary context switches":
			m.NVCSw, err = strconv.ParseInt(value, 10, 64)
		case "Involuntary context switches":
			m.NIVCSw, err = strconv.ParseInt(value, 10, 64)
		case "File system inputs":
			m.InBlock, err = strconv.ParseInt(value, 10, 64)
		case "File system outputs":
			m.OuBlock, err = strconv.ParseInt(value, 10, 64)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid %q: %w", key, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return m, nil
}

// parseClock converts h:mm:ss or m:ss(.ss) into seconds.
func parseClock(value string) (float64, error) {
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("unexpected clock format %q", value)
	}

	var seconds float64
	for _, p := range parts[:len(parts)-1] {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, err
		}
		seconds = (seconds + float64(n)) * 60
	}

	s, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil {
		return 0, err
	}

	return seconds + s, nil
}
