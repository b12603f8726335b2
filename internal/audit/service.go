// Package audit produces the monthly xlsx export of halls, reservations,
// blocks and staff, and anonymizes finished reservations past retention.
package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TableExporter provides access to store tables for export.
type TableExporter interface {
	GetTableNames(ctx context.Context) ([]string, error)
	GetTableData(ctx context.Context, tableName string) ([]map[string]any, []string, error)
}

// Notifier delivers a finished report.
type Notifier interface {
	SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error
}

// Cleaner anonymizes cancelled and rejected reservations that ended before
// cutoff. Reservation rows are never deleted.
type Cleaner interface {
	AnonymizeFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Config struct {
	// RetentionDays keeps customer data of finished reservations this long.
	// 0 disables cleanup.
	RetentionDays int
	ExportOnStart bool
	// Location drives the monthly schedule and file names.
	Location *time.Location
}

var monthNames = map[time.Month]string{
	time.January:   "Январь",
	time.February:  "Февраль",
	time.March:     "Март",
	time.April:     "Апрель",
	time.May:       "Май",
	time.June:      "Июнь",
	time.July:      "Июль",
	time.August:    "Август",
	time.September: "Сентябрь",
	time.October:   "Октябрь",
	time.November:  "Ноябрь",
	time.December:  "Декабрь",
}

// Filename names the report of t's month, e.g. "Март_2026.xlsx".
func Filename(t time.Time) string {
	return fmt.Sprintf("%s_%d.xlsx", monthNames[t.Month()], t.Year())
}

// Service runs the export on the first day of every month.
type Service struct {
	config   Config
	exporter TableExporter
	workbook func() (Workbook, error)
	notifier Notifier
	cleaner  Cleaner
	logger   zerolog.Logger
	now      func() time.Time

	mu sync.Mutex // serializes runs
}

func NewService(cfg Config, exporter TableExporter, notifier Notifier, cleaner Cleaner, logger *zerolog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RetentionDays < 0 {
		cfg.RetentionDays = 0
	}
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Service{
		config:   cfg,
		exporter: exporter,
		workbook: NewExcelizeWorkbook,
		notifier: notifier,
		cleaner:  cleaner,
		logger:   l.With().Str("component", "audit").Logger(),
		now:      time.Now,
	}
}

// Start blocks until ctx is done, running the export monthly.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Int("retention_days", s.config.RetentionDays).Msg("audit service started")
	if s.config.ExportOnStart {
		s.RunExportAndCleanup(ctx)
	}

	for {
		next := s.nextFirstOfMonth()
		s.logger.Info().Time("at", next).Msg("next audit scheduled")
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.RunExportAndCleanup(ctx)
		}
	}
}

func (s *Service) nextFirstOfMonth() time.Time {
	now := s.now().In(s.config.Location)
	return time.Date(now.Year(), now.Month()+1, 1, 0, 1, 0, 0, s.config.Location)
}

// RunExportAndCleanup sends the previous month's report, then anonymizes
// finished reservations. A failed export does not skip the cleanup.
func (s *Service) RunExportAndCleanup(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sendReport(ctx); err != nil {
		s.logger.Error().Err(err).Msg("audit export failed")
	}
	if _, err := s.Cleanup(ctx); err != nil {
		s.logger.Error().Err(err).Msg("audit cleanup failed")
	}
}

func (s *Service) sendReport(ctx context.Context) error {
	if s.notifier == nil {
		return errors.New("no report notifier configured")
	}
	var buf bytes.Buffer
	if err := s.Export(ctx, &buf); err != nil {
		return err
	}
	filename := Filename(s.now().In(s.config.Location).AddDate(0, -1, 0))
	if err := s.notifier.SendDocument(ctx, filename, &buf, "📊 Ежемесячный отчёт"); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	s.logger.Info().Str("filename", filename).Msg("audit report sent")
	return nil
}

// Export writes the workbook of all exported tables to w. A table that
// cannot be read is logged and skipped.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	tables, err := s.exporter.GetTableNames(ctx)
	if err != nil {
		return fmt.Errorf("get table names: %w", err)
	}

	wb, err := s.workbook()
	if err != nil {
		return err
	}
	defer wb.Close()

	for _, table := range tables {
		data, columns, err := s.exporter.GetTableData(ctx, table)
		if err != nil {
			s.logger.Error().Err(err).Str("table", table).Msg("read table")
			continue
		}
		rows := make([][]any, len(data))
		for i, m := range data {
			row := make([]any, len(columns))
			for j, col := range columns {
				row[j] = cellValue(m[col], s.config.Location)
			}
			rows[i] = row
		}
		if err := wb.WriteTable(table, columns, rows); err != nil {
			return fmt.Errorf("write %s: %w", table, err)
		}
		s.logger.Debug().Str("table", table).Int("rows", len(rows)).Msg("exported table")
	}

	if err := wb.Save(w); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// cellValue renders times in the facility zone without offset so that
// spreadsheets show local wall time.
func cellValue(v any, loc *time.Location) any {
	switch t := v.(type) {
	case time.Time:
		local := t.In(loc)
		return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), local.Second(), 0, time.UTC)
	case nil:
		return ""
	}
	return v
}

// Cleanup anonymizes finished reservations older than the retention period.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	if s.cleaner == nil || s.config.RetentionDays == 0 {
		return 0, nil
	}
	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
	n, err := s.cleaner.AnonymizeFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("anonymize finished reservations: %w", err)
	}
	s.logger.Info().
		Int64("anonymized_count", n).
		Int("retention_days", s.config.RetentionDays).
		Msg("anonymized finished reservations")
	return n, nil
}
