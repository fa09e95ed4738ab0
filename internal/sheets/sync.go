package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/OhMinsSup/jwc-platform-sub001/internal/dispatch"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/headers"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/normalize"
	"github.com/OhMinsSup/jwc-platform-sub001/internal/registration"
)

// kst is the zone registration timestamps are shown in.
var kst = time.FixedZone("KST", 9*60*60)

// SyncPayload is the payload of a spreadsheet-sync dispatch job.
type SyncPayload struct {
	SheetName string                `json:"sheetName"`
	Records   []registration.Record `json:"records"`
}

// Writer replaces a sheet's content; *Client implements it.
type Writer interface {
	WriteSheet(ctx context.Context, title string, rows [][]interface{}) (int64, error)
}

// BuildRows renders records in header table order, with a header row of
// display names. Categorical values are shown with their first label.
func BuildRows(table *headers.Table, labels *normalize.Labels, records []registration.Record) [][]interface{} {
	if labels == nil {
		labels = normalize.DefaultLabels()
	}
	entries := table.Entries()
	rows := make([][]interface{}, 0, len(records)+1)

	header := make([]interface{}, len(entries))
	for i, e := range entries {
		header[i] = e.DisplayName
	}
	rows = append(rows, header)

	for _, rec := range records {
		row := make([]interface{}, len(entries))
		for i, e := range entries {
			row[i] = cellValue(labels, e.Key, rec.Get(e.Key))
		}
		rows = append(rows, row)
	}
	return rows
}

func cellValue(labels *normalize.Labels, key string, v any) interface{} {
	if domain, ok := registration.CategoryDomain(key); ok {
		if s, isString := v.(string); isString && s == "" {
			return ""
		}
		if label, ok := labels.Display(domain, v); ok {
			return label
		}
	}
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.In(kst).Format("2006-01-02 15:04:05")
	case bool:
		if t {
			return "O"
		}
		return "X"
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// Handler adapts a sheet writer to the spreadsheet-sync dispatch pool.
func Handler(w Writer, table *headers.Table, labels *normalize.Labels, logger *slog.Logger) dispatch.Handler {
	logger = logger.With("component", "sheets.sync")
	return func(ctx context.Context, job dispatch.Job) error {
		var p SyncPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		if p.SheetName == "" {
			return dispatch.Permanent(fmt.Errorf("sheet sync: sheet name required"))
		}
		sheetID, err := w.WriteSheet(ctx, p.SheetName, BuildRows(table, labels, p.Records))
		if err != nil {
			return err
		}
		logger.Info("sheet synced",
			"job_id", job.ID,
			"sheet", p.SheetName,
			"sheet_id", sheetID,
			"records", len(p.Records),
		)
		return nil
	}
}

// EnqueueSync queues one sync of records, keeping the latest registration
// per person.
func EnqueueSync(ctx context.Context, q dispatch.Queue, sheetName, reason string, records []registration.Record) (string, error) {
	latest := registration.LatestPerPerson(records, func(r registration.Record) registration.Record { return r })
	return q.Enqueue(ctx, dispatch.KindSpreadsheetSync, SyncPayload{SheetName: sheetName, Records: latest}, dispatch.JobContext{
		Reason: reason,
	})
}
