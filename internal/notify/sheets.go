package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// RowAppender appends rows to a sheet range.
type RowAppender interface {
	Append(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) error
}

type sheetsAppender struct {
	svc *sheets.Service
}

func (a *sheetsAppender) Append(ctx context.Context, spreadsheetID, rng string, rows [][]interface{}) error {
	_, err := a.svc.Spreadsheets.Values.
		Append(spreadsheetID, rng, &sheets.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// NewSheetsAppender authenticates with a service account key file.
func NewSheetsAppender(ctx context.Context, credentialsFile string) (RowAppender, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	svc, err := sheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &sheetsAppender{svc: svc}, nil
}

// SheetsSink appends one row per event to a spreadsheet, giving staff a
// running journal of reservation changes.
type SheetsSink struct {
	appender      RowAppender
	spreadsheetID string
	sheetName     string
	loc           *time.Location
}

func NewSheetsSink(appender RowAppender, spreadsheetID, sheetName string, loc *time.Location) *SheetsSink {
	if sheetName == "" {
		sheetName = "Reservations"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &SheetsSink{appender: appender, spreadsheetID: spreadsheetID, sheetName: sheetName, loc: loc}
}

func (s *SheetsSink) Name() string { return "sheets" }

func (s *SheetsSink) Deliver(ctx context.Context, ev Event) error {
	rng := s.sheetName + "!A:L"
	err := s.appender.Append(ctx, s.spreadsheetID, rng, [][]interface{}{eventRowValues(ev, s.loc)})
	return classifyGoogle(err)
}

const sheetTimeLayout = "2006-01-02 15:04"

func eventRowValues(ev Event, loc *time.Location) []interface{} {
	r := ev.Reservation
	return []interface{}{
		ev.At.In(loc).Format("2006-01-02 15:04:05"),
		string(ev.Type),
		r.ID,
		ev.HallName,
		r.Interval.Start.In(loc).Format(sheetTimeLayout),
		r.Interval.End.In(loc).Format(sheetTimeLayout),
		r.Customer.Name,
		r.Customer.Phone,
		r.TotalPrice.String(),
		string(r.Status),
		r.StatusReason,
		r.ChangedBy,
	}
}

func classifyGoogle(err error) error {
	if err == nil {
		return nil
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch gErr.Code {
		case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound:
			return Permanent(err)
		}
	}
	return err
}
