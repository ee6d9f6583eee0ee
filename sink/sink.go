// Package sink provides the durable tabular writers a capture session
// flushes to: CSV files, XLSX workbooks, Google Sheets spreadsheets, and
// Postgres. All variants share the column set from capture.Columns and write
// the header once, at session start, before any data rows.
package sink

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/oauth2"

	"github.com/onnwee/chat-tender/backend/capture"
)

// Format selects a sink variant.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatXLSX     Format = "xlsx"
	FormatSheets   Format = "gsheets"
	FormatPostgres Format = "postgres"
)

// DetectFormat infers the sink format from a destination descriptor:
// gsheets:// URLs, postgres:// DSNs, .xlsx paths; anything else is CSV.
func DetectFormat(dest string) Format {
	switch {
	case strings.HasPrefix(dest, "gsheets://"):
		return FormatSheets
	case strings.HasPrefix(dest, "postgres://"), strings.HasPrefix(dest, "postgresql://"):
		return FormatPostgres
	case strings.EqualFold(filepath.Ext(dest), ".xlsx"):
		return FormatXLSX
	default:
		return FormatCSV
	}
}

// ParseFormat parses an explicit CAPTURE_FORMAT value.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "csv":
		return FormatCSV, nil
	case "xlsx", "spreadsheet":
		return FormatXLSX, nil
	case "gsheets", "sheets":
		return FormatSheets, nil
	case "postgres", "postgresql":
		return FormatPostgres, nil
	default:
		return "", fmt.Errorf("unknown sink format %q (want csv, xlsx, gsheets, or postgres)", s)
	}
}

// Config describes one sink destination.
type Config struct {
	// Destination is a file path, postgres DSN, or gsheets://<id>[/<tab>] URL.
	Destination     string
	Format          Format // empty means DetectFormat(Destination)
	IncludeUserInfo bool

	// SessionID and Channel key the rows in the postgres variant.
	SessionID string
	Channel   string

	// TokenSource supplies Google credentials for the gsheets variant.
	TokenSource oauth2.TokenSource
}

// Open builds the writer for cfg.
func Open(cfg Config) (capture.SinkWriter, error) {
	format := cfg.Format
	if format == "" {
		format = DetectFormat(cfg.Destination)
	}
	switch format {
	case FormatCSV:
		return NewCSV(cfg), nil
	case FormatXLSX:
		return NewXLSX(cfg), nil
	case FormatPostgres:
		return NewPostgres(cfg), nil
	case FormatSheets:
		return NewSheets(cfg)
	default:
		return nil, fmt.Errorf("unknown sink format %q", format)
	}
}
