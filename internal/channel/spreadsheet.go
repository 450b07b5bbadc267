package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/djlord-it/formrelay/internal/domain"
	"github.com/djlord-it/formrelay/internal/template"
)

// DefaultWorksheet is the sheet range used when none is configured.
const DefaultWorksheet = "Sheet1"

// SheetAppender appends one row to a worksheet.
type SheetAppender interface {
	AppendRow(ctx context.Context, spreadsheetID, worksheet string, row []any) error
}

// Spreadsheet appends each submission as one row.
type Spreadsheet struct {
	appender SheetAppender
}

func NewSpreadsheet(appender SheetAppender) *Spreadsheet {
	return &Spreadsheet{appender: appender}
}

func (s *Spreadsheet) Execute(ctx context.Context, settings domain.ChannelSettings, sub domain.Submission) error {
	cfg, err := settingsAs[domain.SpreadsheetSettings](domain.ChannelSpreadsheet, settings)
	if err != nil {
		return err
	}

	worksheet := cfg.WorksheetName
	if worksheet == "" {
		worksheet = DefaultWorksheet
	}
	if err := s.appender.AppendRow(ctx, cfg.SpreadsheetID, worksheet, SheetRow(sub)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.NewChannelError(domain.ChannelSpreadsheet, domain.KindTimeout, err)
		}
		return domain.NewChannelError(domain.ChannelSpreadsheet, domain.KindWriteFailed, err)
	}
	return nil
}

// SheetRow lays a submission out as submission id, timestamp, then data
// values ordered by field key.
func SheetRow(sub domain.Submission) []any {
	keys := make([]string, 0, len(sub.Data))
	for k := range sub.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	row := make([]any, 0, len(keys)+2)
	row = append(row, sub.SubmissionID, sub.ISOTimestamp())
	for _, k := range keys {
		row = append(row, template.Value(sub.Data[k]))
	}
	return row
}

// SheetsAppender writes rows through the Google Sheets API.
type SheetsAppender struct {
	svc *sheets.Service
}

// NewSheetsAppender builds a Sheets client. With an empty credentials file the
// application default credentials are used.
func NewSheetsAppender(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*SheetsAppender, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	return &SheetsAppender{svc: svc}, nil
}

func (a *SheetsAppender) AppendRow(ctx context.Context, spreadsheetID, worksheet string, row []any) error {
	values := &sheets.ValueRange{Values: [][]interface{}{row}}
	_, err := a.svc.Spreadsheets.Values.Append(spreadsheetID, worksheet, values).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append to %s/%s: %w", spreadsheetID, worksheet, err)
	}
	return nil
}
