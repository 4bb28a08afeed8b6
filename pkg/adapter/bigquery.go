package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

// BigQueryLog reads interaction log rows exported to a BigQuery table with
// the columns id, prompt, model and datetime_utc.
type BigQueryLog struct {
	client *bigquery.Client
	table  string
}

var _ LogSource = (*BigQueryLog)(nil)

// bigqueryRow is one exported log row
type bigqueryRow struct {
	ID       string              `bigquery:"id"`
	Prompt   bigquery.NullString `bigquery:"prompt"`
	Model    bigquery.NullString `bigquery:"model"`
	Datetime bigquery.NullString `bigquery:"datetime_utc"`
}

// NewBigQueryLog creates a log source over table, given as
// "project.dataset.table" or "dataset.table" in projectID
func NewBigQueryLog(ctx context.Context, projectID, table string) (*BigQueryLog, error) {
	if strings.Count(table, ".") == 1 {
		table = projectID + "." + table
	}
	if strings.Count(table, ".") != 2 || strings.ContainsAny(table, "`;") {
		return nil, goerr.New("invalid BigQuery table name", goerr.V("table", table))
	}

	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	return &BigQueryLog{client: client, table: table}, nil
}

// Close releases the underlying client
func (bq *BigQueryLog) Close() error {
	return bq.client.Close()
}

func (bq *BigQueryLog) EntriesSince(ctx context.Context, checkpoint model.EntryID, limit int) ([]*model.LogEntry, error) {
	// the export keeps the log's ULID ids, so string order is ID order
	q := bq.client.Query(fmt.Sprintf(
		"SELECT CAST(id AS STRING) AS id, prompt, model, CAST(datetime_utc AS STRING) AS datetime_utc "+
			"FROM `%s` WHERE CAST(id AS STRING) > @checkpoint ORDER BY id LIMIT @limit", bq.table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "checkpoint", Value: string(checkpoint)},
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, goerr.Wrap(transient(err), "failed to run log query", goerr.V("table", bq.table))
	}

	var entries []*model.LogEntry
	for {
		var row bigqueryRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(transient(err), "failed to iterate log query result", goerr.V("table", bq.table))
		}

		entries = append(entries, &model.LogEntry{
			ID:        model.EntryID(row.ID),
			UserText:  row.Prompt.StringVal,
			Model:     row.Model.StringVal,
			Timestamp: parseBigQueryTime(row.Datetime.StringVal),
		})
	}

	return entries, nil
}

func parseBigQueryTime(s string) time.Time {
	if t := parseLogTime(s); !t.IsZero() {
		return t
	}
	// CAST(TIMESTAMP AS STRING) renders as "2006-01-02 15:04:05.999999+00"
	if t, err := time.Parse("2006-01-02 15:04:05.999999-07", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
