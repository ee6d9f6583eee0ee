package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"github.com/onnwee/chat-tender/backend/capture"
)

// sheetColPixels pairs with capture.Columns for the Sheets variant.
var sheetColPixels = []int64{170, 110, 130, 130, 420, 100, 90, 200, 200}

// Sheets appends records to a Google Sheets spreadsheet. The destination
// descriptor is gsheets://<spreadsheetID>[/<sheet title>]; the sheet title
// defaults to SheetName. Requires an OAuth2 token source with the
// spreadsheets scope.
type Sheets struct {
	spreadsheetID   string
	title           string
	includeUserInfo bool
	cfg             Config

	svc     *sheets.Service
	sheetID int64
}

// NewSheets builds a Sheets writer from a gsheets:// destination.
func NewSheets(cfg Config) (*Sheets, error) {
	rest, ok := strings.CutPrefix(cfg.Destination, "gsheets://")
	if !ok || rest == "" {
		return nil, capture.E(capture.KindConfig, "parse gsheets destination",
			fmt.Errorf("want gsheets://<spreadsheetID>[/<sheet>], got %q", cfg.Destination))
	}
	id, title, _ := strings.Cut(rest, "/")
	if title == "" {
		title = SheetName
	}
	if cfg.TokenSource == nil {
		return nil, capture.E(capture.KindConfig, "gsheets credentials",
			errors.New("no Google token source configured"))
	}
	return &Sheets{
		spreadsheetID:   id,
		title:           title,
		includeUserInfo: cfg.IncludeUserInfo,
		cfg:             cfg,
	}, nil
}

// EnsureDestination builds the Sheets client, creates the target sheet tab
// when missing, and writes the styled header once.
func (s *Sheets) EnsureDestination(ctx context.Context) error {
	svc, err := sheets.NewService(ctx, option.WithTokenSource(s.cfg.TokenSource))
	if err != nil {
		return capture.E(capture.KindIO, "create sheets client", err)
	}
	s.svc = svc

	ss, err := svc.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return capture.E(capture.KindIO, "get spreadsheet", err)
	}
	found := false
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == s.title {
			s.sheetID = sh.Properties.SheetId
			found = true
			break
		}
	}
	if !found {
		resp, err := svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{
				AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: s.title}},
			}},
		}).Context(ctx).Do()
		if err != nil {
			return capture.E(capture.KindIO, "add sheet", err)
		}
		s.sheetID = resp.Replies[0].AddSheet.Properties.SheetId
	}
	return s.ensureHeader(ctx)
}

func (s *Sheets) ensureHeader(ctx context.Context) error {
	cols := capture.Columns(s.includeUserInfo)
	headerRange := fmt.Sprintf("%s!A1:%c1", s.title, 'A'+len(cols)-1)
	existing, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return capture.E(capture.KindIO, "read header", err)
	}
	if len(existing.Values) > 0 && len(existing.Values[0]) > 0 {
		return nil
	}

	header := make([]interface{}, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	_, err = s.svc.Spreadsheets.Values.Update(s.spreadsheetID, headerRange, &sheets.ValueRange{
		Values: [][]interface{}{header},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return capture.E(capture.KindIO, "write header", err)
	}

	reqs := []*sheets.Request{{
		RepeatCell: &sheets.RepeatCellRequest{
			Range: &sheets.GridRange{SheetId: s.sheetID, StartRowIndex: 0, EndRowIndex: 1},
			Cell: &sheets.CellData{UserEnteredFormat: &sheets.CellFormat{
				TextFormat: &sheets.TextFormat{Bold: true},
			}},
			Fields: "userEnteredFormat.textFormat.bold",
		},
	}}
	for i := range cols {
		px := sheetColPixels[len(sheetColPixels)-1]
		if i < len(sheetColPixels) {
			px = sheetColPixels[i]
		}
		reqs = append(reqs, &sheets.Request{
			UpdateDimensionProperties: &sheets.UpdateDimensionPropertiesRequest{
				Range:      &sheets.DimensionRange{SheetId: s.sheetID, Dimension: "COLUMNS", StartIndex: int64(i), EndIndex: int64(i + 1)},
				Properties: &sheets.DimensionProperties{PixelSize: px},
				Fields:     "pixelSize",
			},
		})
	}
	_, err = s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: reqs}).Context(ctx).Do()
	if err != nil {
		return capture.E(capture.KindIO, "style header", err)
	}
	return nil
}

// AppendRows appends rows below the existing data in order.
func (s *Sheets) AppendRows(ctx context.Context, rows []capture.ChatRecord) error {
	values := make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		cells := r.Row(s.includeUserInfo)
		row := make([]interface{}, len(cells))
		for i, v := range cells {
			row[i] = v
		}
		values = append(values, row)
	}
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, s.title, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return capture.E(capture.KindSinkWrite, "append rows", err)
	}
	return nil
}

// Close is a no-op; the Sheets client holds no local state to flush.
func (s *Sheets) Close(ctx context.Context) error { return nil }
