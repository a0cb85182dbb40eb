package gsheet

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// API is the narrow surface of the Sheets service the gateway needs.
// This interface enables mocking and testing of remote operations.
type API interface {
	// BatchUpdate writes several value ranges in one request.
	BatchUpdate(ctx context.Context, spreadsheetID string, data []*sheets.ValueRange) error

	// BatchClear clears several ranges in one request.
	BatchClear(ctx context.Context, spreadsheetID string, ranges []string) error

	// Append appends rows after the last data row of the range's sheet.
	Append(ctx context.Context, spreadsheetID, rng string, values [][]any) error

	// Values reads the cell values of a range.
	Values(ctx context.Context, spreadsheetID, rng string) ([][]any, error)

	// SheetTitles lists the titles of every sheet in the spreadsheet.
	SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error)

	// AddSheet creates an empty sheet with the given title.
	AddSheet(ctx context.Context, spreadsheetID, title string) error
}

// Config carries the remote gateway settings. Values are passed in
// explicitly; the gateway keeps no process-wide state.
type Config struct {
	SpreadsheetID   string
	CredentialsFile string // service-account or authorized-user JSON
}

// Client is the concrete implementation of API using the official
// Sheets service.
type Client struct {
	svc *sheets.Service
}

// NewClient builds a Sheets client from the given credentials file, or
// Application Default Credentials when the file is empty.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewClient: creating sheets service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// BatchUpdate issues one values.batchUpdate call covering all ranges.
func (c *Client) BatchUpdate(ctx context.Context, spreadsheetID string, data []*sheets.ValueRange) error {
	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "USER_ENTERED",
		Data:             data,
	}
	if _, err := c.svc.Spreadsheets.Values.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("BatchUpdate: %w", err)
	}
	return nil
}

// BatchClear issues one values.batchClear call covering all ranges.
func (c *Client) BatchClear(ctx context.Context, spreadsheetID string, ranges []string) error {
	req := &sheets.BatchClearValuesRequest{Ranges: ranges}
	if _, err := c.svc.Spreadsheets.Values.BatchClear(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("BatchClear: %w", err)
	}
	return nil
}

// Append inserts rows after the existing data of the range's sheet.
func (c *Client) Append(ctx context.Context, spreadsheetID, rng string, values [][]any) error {
	vr := &sheets.ValueRange{Values: values}
	_, err := c.svc.Spreadsheets.Values.Append(spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}

// Values reads the cell values of a range.
func (c *Client) Values(ctx context.Context, spreadsheetID, rng string) ([][]any, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("Values: %w", err)
	}
	return resp.Values, nil
}

// SheetTitles lists sheet titles without fetching grid data.
func (c *Client) SheetTitles(ctx context.Context, spreadsheetID string) ([]string, error) {
	resp, err := c.svc.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("SheetTitles: %w", err)
	}
	titles := make([]string, 0, len(resp.Sheets))
	for _, sheet := range resp.Sheets {
		if sheet.Properties != nil {
			titles = append(titles, sheet.Properties.Title)
		}
	}
	return titles, nil
}

// AddSheet creates an empty sheet with the given title.
func (c *Client) AddSheet(ctx context.Context, spreadsheetID, title string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				AddSheet: &sheets.AddSheetRequest{
					Properties: &sheets.SheetProperties{Title: title},
				},
			},
		},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("AddSheet: %w", err)
	}
	return nil
}
