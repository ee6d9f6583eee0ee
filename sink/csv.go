package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/onnwee/chat-tender/backend/capture"
)

// CSV appends records to a UTF-8 comma-separated file. The header row is
// written once, when the file is created (or found empty); appending to an
// existing capture file continues without a second header. Values containing
// commas, quotes, or newlines are quoted per RFC 4180 by encoding/csv.
type CSV struct {
	path            string
	includeUserInfo bool

	f *os.File
	w *csv.Writer
}

// NewCSV builds a CSV writer for cfg.Destination.
func NewCSV(cfg Config) *CSV {
	return &CSV{path: cfg.Destination, includeUserInfo: cfg.IncludeUserInfo}
}

// EnsureDestination creates parent directories as needed, opens the file in
// append mode, and writes the header when the file is new.
func (c *CSV) EnsureDestination(ctx context.Context) error {
	if dir := filepath.Dir(c.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return capture.E(capture.KindIO, "create output directory", err)
		}
	}
	info, statErr := os.Stat(c.path)
	needHeader := errors.Is(statErr, fs.ErrNotExist) || (statErr == nil && info.Size() == 0)

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return capture.E(capture.KindIO, "open output file", err)
	}
	c.f = f
	c.w = csv.NewWriter(f)

	if needHeader {
		if err := c.w.Write(capture.Columns(c.includeUserInfo)); err != nil {
			return capture.E(capture.KindIO, "write csv header", err)
		}
		c.w.Flush()
		if err := c.w.Error(); err != nil {
			return capture.E(capture.KindIO, "write csv header", err)
		}
	}
	return nil
}

// AppendRows writes rows in order and flushes them to the file.
func (c *CSV) AppendRows(ctx context.Context, rows []capture.ChatRecord) error {
	for _, r := range rows {
		if err := c.w.Write(r.Row(c.includeUserInfo)); err != nil {
			return capture.E(capture.KindSinkWrite, "write csv row", err)
		}
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return capture.E(capture.KindSinkWrite, "flush csv", err)
	}
	return nil
}

// Close flushes any buffered output and closes the file. Safe to call twice.
func (c *CSV) Close(ctx context.Context) error {
	if c.f == nil {
		return nil
	}
	c.w.Flush()
	werr := c.w.Error()
	cerr := c.f.Close()
	c.f = nil
	if werr != nil {
		return capture.E(capture.KindSinkWrite, "flush csv", werr)
	}
	if cerr != nil {
		return capture.E(capture.KindIO, "close output file", cerr)
	}
	return nil
}
