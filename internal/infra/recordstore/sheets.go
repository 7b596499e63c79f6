package recordstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// versionColumn is appended to every sheet header. Sheets has no
// compare-and-swap, so Update re-reads this cell right before writing. The
// window between the read and the write is not covered; callers serialize
// writes per key in-process on top of it.
const versionColumn = "_version"

// Sheets stores each logical sheet as a tab of one Google spreadsheet.
type Sheets struct {
	svc           *sheets.Service
	spreadsheetID string
	timeout       time.Duration
}

// NewSheets authenticates with a service-account JSON key.
func NewSheets(ctx context.Context, spreadsheetID string, credentialsJSON []byte, timeout time.Duration) (*Sheets, error) {
	creds, err := google.CredentialsFromJSON(ctx, credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	svc, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Sheets{svc: svc, spreadsheetID: spreadsheetID, timeout: timeout}, nil
}

type sheetsTab struct {
	store  *Sheets
	name   string
	header []string
}

func (s *Sheets) Sheet(ctx context.Context, name string, header []string) (Sheet, error) {
	ctx, cancel := bounded(ctx, s.timeout)
	defer cancel()

	ss, err := s.svc.Spreadsheets.Get(s.spreadsheetID).
		Fields("sheets(properties(title))").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("load spreadsheet: %w", err)
	}

	exists := false
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == name {
			exists = true
			break
		}
	}
	if !exists {
		req := &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{Title: name},
				},
			}},
		}
		if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return nil, fmt.Errorf("add sheet %q: %w", name, err)
		}
	}

	var existing []string
	if exists {
		vr, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, quoteSheet(name)+"!1:1").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("read header of %q: %w", name, err)
		}
		if len(vr.Values) > 0 {
			existing = cellsToStrings(vr.Values[0])
		}
	}

	want := append(append([]string(nil), header...), versionColumn)
	merged, changed := mergeHeader(existing, want)
	if changed {
		row := make([]interface{}, len(merged))
		for i, c := range merged {
			row[i] = c
		}
		_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, quoteSheet(name)+"!A1",
			&sheets.ValueRange{Values: [][]interface{}{row}}).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("write header of %q: %w", name, err)
		}
	}

	return &sheetsTab{store: s, name: name, header: merged}, nil
}

func (t *sheetsTab) Name() string { return t.name }

func (t *sheetsTab) Header() []string {
	out := make([]string, 0, len(t.header))
	for _, c := range t.header {
		if c != versionColumn {
			out = append(out, c)
		}
	}
	return out
}

func (t *sheetsTab) AppendRow(ctx context.Context, values map[string]string) (*Row, error) {
	ctx, cancel := bounded(ctx, t.store.timeout)
	defer cancel()

	resp, err := t.store.svc.Spreadsheets.Values.Append(t.store.spreadsheetID, quoteSheet(t.name)+"!A1",
		&sheets.ValueRange{Values: [][]interface{}{t.encode(values, 1)}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("append row to %q: %w", t.name, err)
	}

	updated := ""
	if resp.Updates != nil {
		updated = resp.Updates.UpdatedRange
	}
	rowNum := rowFromRange(updated)
	if rowNum < 2 {
		return nil, fmt.Errorf("append row to %q: unexpected range %q", t.name, updated)
	}
	stored := t.decode(t.encode(values, 1))
	delete(stored, versionColumn)
	return newRow(t, int64(rowNum-1), 1, stored), nil
}

func (t *sheetsTab) Rows(ctx context.Context) ([]*Row, error) {
	ctx, cancel := bounded(ctx, t.store.timeout)
	defer cancel()

	vr, err := t.store.svc.Spreadsheets.Values.Get(t.store.spreadsheetID, quoteSheet(t.name)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read rows of %q: %w", t.name, err)
	}
	if len(vr.Values) <= 1 {
		return nil, nil
	}

	out := make([]*Row, 0, len(vr.Values)-1)
	for i, cells := range vr.Values[1:] {
		values := t.decode(cells)
		if isBlank(values) {
			continue
		}
		version, _ := strconv.ParseInt(values[versionColumn], 10, 64)
		delete(values, versionColumn)
		out = append(out, newRow(t, int64(i+1), version, values))
	}
	return out, nil
}

func (t *sheetsTab) Update(ctx context.Context, row *Row) error {
	ctx, cancel := bounded(ctx, t.store.timeout)
	defer cancel()

	rowNum := row.key + 1
	rng := fmt.Sprintf("%s!A%d:%s%d", quoteSheet(t.name), rowNum, columnLetter(len(t.header)), rowNum)

	current, err := t.store.svc.Spreadsheets.Values.Get(t.store.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read row %d of %q: %w", rowNum, t.name, err)
	}
	if len(current.Values) == 0 || isBlank(t.decode(current.Values[0])) {
		return ErrNotFound
	}
	version, _ := strconv.ParseInt(t.decode(current.Values[0])[versionColumn], 10, 64)
	if version != row.version {
		return ErrConflict
	}

	_, err = t.store.svc.Spreadsheets.Values.Update(t.store.spreadsheetID, rng,
		&sheets.ValueRange{Values: [][]interface{}{t.encode(row.values, row.version+1)}}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write row %d of %q: %w", rowNum, t.name, err)
	}
	row.version++
	return nil
}

func (t *sheetsTab) encode(values map[string]string, version int64) []interface{} {
	out := make([]interface{}, len(t.header))
	for i, col := range t.header {
		if col == versionColumn {
			out[i] = strconv.FormatInt(version, 10)
			continue
		}
		out[i] = values[col]
	}
	return out
}

func (t *sheetsTab) decode(cells []interface{}) map[string]string {
	values := make(map[string]string, len(t.header))
	for i, col := range t.header {
		if i < len(cells) {
			values[col] = fmt.Sprint(cells[i])
		}
	}
	return values
}

func isBlank(values map[string]string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func cellsToStrings(cells []interface{}) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = fmt.Sprint(c)
	}
	return out
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// columnLetter converts a 1-based column index to A1 notation (1 -> A, 27 -> AA).
func columnLetter(n int) string {
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// rowFromRange extracts the first row number from an A1 range such as
// "'Trades'!A5:P5".
func rowFromRange(rng string) int {
	if i := strings.LastIndex(rng, "!"); i >= 0 {
		rng = rng[i+1:]
	}
	if i := strings.Index(rng, ":"); i >= 0 {
		rng = rng[:i]
	}
	digits := strings.TrimLeft(rng, "ABCDEFGHIJKLMNOPQRSTUVWXYZ")
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}
