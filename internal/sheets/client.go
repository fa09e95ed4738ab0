package sheets

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"
)

type Client struct {
	srv           *sheetsv4.Service
	spreadsheetID string
}

func New(ctx context.Context, serviceAccountJSONPath, spreadsheetID string) (*Client, error) {
	if _, err := os.Stat(serviceAccountJSONPath); err != nil {
		return nil, fmt.Errorf("service account json: %w", err)
	}
	srv, err := sheetsv4.NewService(ctx,
		option.WithCredentialsFile(serviceAccountJSONPath),
		option.WithScopes(sheetsv4.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{srv: srv, spreadsheetID: spreadsheetID}, nil
}

// NewWithOptions builds a client from explicit API options, e.g. an
// endpoint and HTTP client pointing at a test server.
func NewWithOptions(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Client, error) {
	srv, err := sheetsv4.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &Client{srv: srv, spreadsheetID: spreadsheetID}, nil
}

func (c *Client) SpreadsheetID() string { return c.spreadsheetID }

// ensureSheet returns the id of the sheet titled title, adding it when
// the spreadsheet has none.
func (c *Client) ensureSheet(ctx context.Context, title string) (int64, error) {
	ss, err := c.srv.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties").
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			return sh.Properties.SheetId, nil
		}
	}

	resp, err := c.srv.Spreadsheets.BatchUpdate(c.spreadsheetID, &sheetsv4.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsv4.Request{{
			AddSheet: &sheetsv4.AddSheetRequest{
				Properties: &sheetsv4.SheetProperties{Title: title},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("add sheet %q: %w", title, err)
	}
	for _, r := range resp.Replies {
		if r.AddSheet != nil && r.AddSheet.Properties != nil {
			return r.AddSheet.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("add sheet %q: no sheet id in reply", title)
}

// WriteSheet replaces the content of the sheet titled title with rows and
// returns the sheet id.
func (c *Client) WriteSheet(ctx context.Context, title string, rows [][]interface{}) (int64, error) {
	sheetID, err := c.ensureSheet(ctx, title)
	if err != nil {
		return 0, err
	}
	rangeAll := quoteTitle(title) + "!A:Z"
	if _, err := c.srv.Spreadsheets.Values.Clear(c.spreadsheetID, rangeAll, &sheetsv4.ClearValuesRequest{}).
		Context(ctx).
		Do(); err != nil {
		return 0, fmt.Errorf("clear %q: %w", title, err)
	}
	if len(rows) == 0 {
		return sheetID, nil
	}
	vr := &sheetsv4.ValueRange{Values: rows}
	if _, err := c.srv.Spreadsheets.Values.Update(c.spreadsheetID, quoteTitle(title)+"!A1", vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do(); err != nil {
		return 0, fmt.Errorf("write %q: %w", title, err)
	}
	return sheetID, nil
}

// quoteTitle quotes a sheet title for A1 notation; titles with spaces or
// Hangul need it.
func quoteTitle(title string) string {
	out := make([]rune, 0, len(title)+2)
	out = append(out, '\'')
	for _, r := range title {
		if r == '\'' {
			out = append(out, '\'')
		}
		out = append(out, r)
	}
	return string(append(out, '\''))
}
