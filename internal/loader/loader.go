package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/cgem-lab/strainboard/internal/blob"
	"github.com/cgem-lab/strainboard/internal/dashboard"
	"github.com/cgem-lab/strainboard/internal/parser"
	"github.com/cgem-lab/strainboard/internal/strains"
)

// WorkbookLoader reads the lab workbook from blob storage and assembles the
// strain table from it.
type WorkbookLoader struct {
	Store blob.Store
	Key   string
	Labs  []string
}

// Workbook fetches and parses the workbook.
func (w *WorkbookLoader) Workbook(ctx context.Context) (*parser.Workbook, blob.Info, error) {
	if w.Store == nil || w.Key == "" {
		return nil, blob.Info{}, fmt.Errorf("workbook loader: store and key required")
	}
	info, data, err := blob.ReadAll(ctx, w.Store, w.Key)
	if err != nil {
		return nil, blob.Info{}, err
	}
	wb, err := parser.ParseWorkbook(path.Base(w.Key), data)
	if err != nil {
		return nil, blob.Info{}, err
	}
	return wb, info, nil
}

// Load implements dashboard.Loader. The workbook is always read, fresh or not.
func (w *WorkbookLoader) Load(ctx context.Context, _ bool) (*dashboard.Dataset, error) {
	wb, _, err := w.Workbook(ctx)
	if err != nil {
		return nil, err
	}
	t, err := Assemble(wb, w.Labs)
	if err != nil {
		return nil, err
	}
	return &dashboard.Dataset{Table: t, FetchedAt: time.Now().UTC(), Source: w.Key}, nil
}

// Emails reads the lab notification addresses from the workbook.
func (w *WorkbookLoader) Emails(ctx context.Context) (LabEmails, error) {
	wb, _, err := w.Workbook(ctx)
	if err != nil {
		return nil, err
	}
	return ReadLabEmails(wb), nil
}

// snapshot is the on-store form of an assembled table.
type snapshot struct {
	SavedAt time.Time      `json:"saved_at"`
	Source  string         `json:"source"`
	Table   *strains.Table `json:"table"`
}

// SnapshotCache stores the last assembled table as JSON so a restart does
// not need the workbook.
type SnapshotCache struct {
	Store blob.Store
	Key   string
}

// Save writes ds as the current snapshot.
func (c *SnapshotCache) Save(ctx context.Context, ds *dashboard.Dataset) error {
	snap := snapshot{SavedAt: ds.FetchedAt, Source: ds.Source, Table: ds.Table}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = c.Store.Put(ctx, c.Key, bytes.NewReader(b), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"source": ds.Source},
	})
	return err
}

// Load reads the snapshot. A missing snapshot returns blob.ErrNotFound.
func (c *SnapshotCache) Load(ctx context.Context) (*dashboard.Dataset, error) {
	_, data, err := blob.ReadAll(ctx, c.Store, c.Key)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", c.Key, err)
	}
	if snap.Table == nil {
		return nil, fmt.Errorf("snapshot %s has no table", c.Key)
	}
	return &dashboard.Dataset{Table: normalize(snap.Table), FetchedAt: snap.SavedAt, Source: snap.Source}, nil
}

// LastLoaded returns when the snapshot was last written.
func (c *SnapshotCache) LastLoaded(ctx context.Context) (time.Time, error) {
	info, err := c.Store.Head(ctx, c.Key)
	if err != nil {
		return time.Time{}, err
	}
	return info.LastModified.UTC(), nil
}

// StatusLine renders the "last loaded" message shown next to the refresh control.
func StatusLine(t time.Time) string {
	return fmt.Sprintf("Spreadsheet last loaded at %s UTC.", t.UTC().Format("2006-01-02 15:04:05"))
}

// normalize projects a decoded table onto the strain columns.
func normalize(t *strains.Table) *strains.Table {
	out := strains.NewTable(strains.ColumnNames())
	out.Rows = make([]strains.Row, 0, len(t.Rows))
	for _, r := range t.Rows {
		row := make(strains.Row, len(out.Columns))
		for _, col := range out.Columns {
			v, ok := r[col]
			if !ok || v == "" {
				v = strains.Blank
			}
			row[col] = v
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// CachedLoader serves the snapshot when one exists and the caller did not
// ask for fresh data; otherwise it reads the source and rewrites the snapshot.
type CachedLoader struct {
	Source dashboard.Loader
	Cache  *SnapshotCache
	Logger *zap.Logger
}

// Load implements dashboard.Loader.
func (c *CachedLoader) Load(ctx context.Context, fresh bool) (*dashboard.Dataset, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if !fresh && c.Cache != nil {
		ds, err := c.Cache.Load(ctx)
		if err == nil {
			logger.Debug("serving inventory snapshot", zap.String("key", c.Cache.Key), zap.Int("rows", ds.Table.Len()))
			return ds, nil
		}
		if !errors.Is(err, blob.ErrNotFound) {
			logger.Warn("inventory snapshot unreadable, reloading", zap.Error(err))
		}
	}
	ds, err := c.Source.Load(ctx, true)
	if err != nil {
		return nil, err
	}
	if c.Cache != nil {
		if err := c.Cache.Save(ctx, ds); err != nil {
			logger.Warn("save inventory snapshot", zap.Error(err))
		}
	}
	logger.Info("inventory loaded", zap.String("source", ds.Source), zap.Int("rows", ds.Table.Len()))
	return ds, nil
}
