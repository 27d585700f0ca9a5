package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/hfql/internal/domain"
	"github.com/rpattn/hfql/internal/query"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts a format name in any case.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	}
	return "", fmt.Errorf("unsupported export format %q", name)
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

const (
	summarySheet = "Summary"
	recordsSheet = "Records"
	groupsSheet  = "Groups"
)

// Service renders query results as downloadable files.
type Service struct {
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(opts ...Option) *Service {
	s := &Service{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FileName builds a download name such as applicants-list-20240515-143000.xlsx.
func (s *Service) FileName(res query.Result, format Format) string {
	base := sanitizeFileComponent(fmt.Sprintf("%s %s", res.Entity, res.Operation))
	return fmt.Sprintf("%s-%s.%s", base, s.now().UTC().Format("20060102-150405"), format)
}

// Write renders res to w. CSV carries a single table: the records when
// present, otherwise the groups, otherwise the summary.
func (s *Service) Write(w io.Writer, format Format, res query.Result) error {
	var err error
	switch format {
	case FormatCSV:
		err = writeCSV(w, res)
	case FormatXLSX:
		err = writeXLSX(w, res)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return fmt.Errorf("export %s: %w", format, err)
	}
	s.logger.Info("query result exported",
		slog.String("execution_id", res.ExecutionID),
		slog.String("format", string(format)),
		slog.Int("records", len(res.Records)),
	)
	return nil
}

type table struct {
	headers []string
	rows    [][]any
}

func summaryTable(res query.Result) table {
	return table{
		headers: []string{"execution_id", "entity", "operation", "count", "optimized", "stale", "group_by"},
		rows:    [][]any{{res.ExecutionID, string(res.Entity), string(res.Operation), res.Count, res.Optimized, res.Stale, res.GroupBy}},
	}
}

func recordsTable(res query.Result) table {
	headers := domain.FieldsOf(res.Entity)
	t := table{headers: headers, rows: make([][]any, 0, len(res.Records))}
	for _, r := range res.Records {
		row := make([]any, len(headers))
		for i, field := range headers {
			value, _ := r.Field(field)
			row[i] = cellValue(value)
		}
		t.rows = append(t.rows, row)
	}
	return t
}

func groupsTable(res query.Result) table {
	t := table{headers: []string{res.GroupBy, "count"}}
	for _, key := range res.SortedGroups() {
		t.rows = append(t.rows, []any{key, res.Groups[key]})
	}
	return t
}

func writeCSV(w io.Writer, res query.Result) error {
	t := summaryTable(res)
	switch {
	case len(res.Records) > 0:
		t = recordsTable(res)
	case len(res.Groups) > 0:
		t = groupsTable(res)
	}

	buffered := bufio.NewWriter(w)
	csvWriter := csv.NewWriter(buffered)
	if err := csvWriter.Write(t.headers); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	line := make([]string, len(t.headers))
	for _, row := range t.rows {
		for i, value := range row {
			line[i] = formatValue(value)
		}
		if err := csvWriter.Write(line); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return buffered.Flush()
}

func writeXLSX(w io.Writer, res query.Result) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeSheet(f, summarySheet, summaryTable(res)); err != nil {
		return err
	}
	if len(res.Records) > 0 {
		if err := writeSheet(f, recordsSheet, recordsTable(res)); err != nil {
			return err
		}
	}
	if len(res.Groups) > 0 {
		if err := writeSheet(f, groupsSheet, groupsTable(res)); err != nil {
			return err
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, t table) error {
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("create sheet %s: %w", sheet, err)
		}
	}
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("open sheet %s: %w", sheet, err)
	}
	header := make([]any, len(t.headers))
	for i, h := range t.headers {
		header[i] = h
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	for i, row := range t.rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return sw.Flush()
}

// cellValue keeps numbers numeric for spreadsheets and flattens the rest.
func cellValue(value any) any {
	switch v := value.(type) {
	case nil:
		return ""
	case int, int64, float64, bool:
		return v
	case []string:
		return strings.Join(v, ", ")
	default:
		return formatValue(v)
	}
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float32, float64, int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%v", v)
	case []string:
		return strings.Join(v, ", ")
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}
