package adapter

import (
	"context"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mnemo/pkg/model"
)

// BigQuery is the analytics sink for usage events. Rows are streamed
// into a table for offline reporting; this path is fire-and-forget from
// the gateway's point of view.
type BigQuery interface {
	// InsertUsage streams one usage event into the analytics table
	InsertUsage(ctx context.Context, log *model.UsageLog) error
}

type bigqueryClient struct {
	client  *bigquery.Client
	dataset string
	table   string
}

// BigQueryOption is a functional option for BigQuery client
type BigQueryOption func(*bigqueryClient)

// WithUsageTable overrides the destination dataset and table
func WithUsageTable(dataset, table string) BigQueryOption {
	return func(bq *bigqueryClient) {
		bq.dataset = dataset
		bq.table = table
	}
}

// NewBigQuery creates a new BigQuery client
func NewBigQuery(ctx context.Context, projectID string, opts ...BigQueryOption) (BigQuery, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	bq := &bigqueryClient{
		client:  client,
		dataset: "mnemo",
		table:   "usage_events",
	}

	for _, opt := range opts {
		opt(bq)
	}

	return bq, nil
}

// usageRow is the BigQuery row layout for one usage event
type usageRow struct {
	ID               string  `bigquery:"id"`
	UserID           string  `bigquery:"user_id"`
	Model            string  `bigquery:"model"`
	PromptTokens     int     `bigquery:"prompt_tokens"`
	CompletionTokens int     `bigquery:"completion_tokens"`
	Cost             float64 `bigquery:"cost"`
	DurationMS       int64   `bigquery:"duration_ms"`
	Streamed         bool    `bigquery:"streamed"`
	CreatedAt        string  `bigquery:"created_at"`
}

func (bq *bigqueryClient) InsertUsage(ctx context.Context, log *model.UsageLog) error {
	inserter := bq.client.Dataset(bq.dataset).Table(bq.table).Inserter()

	row := &usageRow{
		ID:               string(log.ID),
		UserID:           string(log.UserID),
		Model:            log.Model,
		PromptTokens:     log.PromptTokens,
		CompletionTokens: log.CompletionTokens,
		Cost:             log.Cost,
		DurationMS:       log.DurationMS,
		Streamed:         log.Streamed,
		CreatedAt:        log.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}

	if err := inserter.Put(ctx, row); err != nil {
		return goerr.Wrap(err, "failed to insert usage event", goerr.V("id", log.ID))
	}

	return nil
}
