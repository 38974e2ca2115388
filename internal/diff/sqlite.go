package diff

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLite diffs sqlite files table by table, matching records by
// rowid.
type SQLite struct{}

type table struct {
	schema string
	rows   map[int64]string
}

// Diff implements Differ. A missing after file yields no result;
// a missing before file counts everything as added.
func (SQLite) Diff(ctx context.Context, before, after string) (*Result, error) {
	if !exists(after) {
		return nil, nil
	}

	next, err := load(ctx, after)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", after, err)
	}

	prev := map[string]*table{}
	if exists(before) {
		if prev, err = load(ctx, before); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", before, err)
		}
	}

	return compare(prev, next), nil
}

func compare(prev, next map[string]*table) *Result {
	r := &Result{}

	for name, old := range prev {
		if _, ok := next[name]; !ok {
			r.TablesRemoved++
			r.RecordsRemoved += len(old.rows)
		}
	}

	for name, cur := range next {
		old, ok := prev[name]
		if !ok {
			r.TablesAdded++
			r.RecordsAdded += len(cur.rows)
			continue
		}

		var added, removed, changed, unchanged int
		for id, row := range cur.rows {
			oldRow, ok := old.rows[id]
			switch {
			case !ok:
				added++
			case oldRow != row:
				changed++
			default:
				unchanged++
			}
		}
		for id := range old.rows {
			if _, ok := cur.rows[id]; !ok {
				removed++
			}
		}

		r.RecordsAdded += added
		r.RecordsRemoved += removed
		r.RecordsChanged += changed
		r.RecordsUnchanged += unchanged

		if old.schema != cur.schema || added+removed+changed > 0 {
			r.TablesChanged++
		} else {
			r.TablesUnchanged++
		}
	}

	return r
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func open(path string) (*gorm.DB, error) {
	dsn := (&url.URL{Scheme: "file", Opaque: path, RawQuery: "mode=ro"}).String()
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func load(ctx context.Context, path string) (map[string]*table, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	db = db.WithContext(ctx)

	var schemas []struct {
		Name string
		SQL  string
	}
	if err := db.Raw(
		"SELECT name, sql FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'",
	).Scan(&schemas).Error; err != nil {
		return nil, err
	}

	tables := make(map[string]*table, len(schemas))
	for _, s := range schemas {
		rows, err := loadRows(db, s.Name)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", s.Name, err)
		}
		tables[s.Name] = &table{schema: s.SQL, rows: rows}
	}
	return tables, nil
}

// loadRows renders every record of name keyed by rowid. Tables
// created WITHOUT ROWID fall back to their row position.
func loadRows(db *gorm.DB, name string) (map[int64]string, error) {
	quoted := `"` + strings.ReplaceAll(name, `"`, `""`) + `"`

	rows, err := db.Raw("SELECT rowid, * FROM " + quoted).Rows()
	if err != nil {
		rows, err = db.Raw("SELECT NULL, * FROM " + quoted).Rows()
		if err != nil {
			return nil, err
		}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := map[int64]string{}
	var position int64
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		position++
		id := position
		if rowid, ok := values[0].(int64); ok {
			id = rowid
		}

		var b strings.Builder
		for i, v := range values[1:] {
			if i > 0 {
				b.WriteByte(0x1f)
			}
			if raw, ok := v.([]byte); ok {
				v = string(raw)
			}
			fmt.Fprintf(&b, "%T:%v", v, v)
		}
		out[id] = b.String()
	}
	return out, rows.Err()
}
