package gcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/de-tools/cost-atlas/pkg/connector"
	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/goccy/go-json"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var (
	projectPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{4,28}[a-z0-9]$`)
	datasetPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,1024}$`)
)

// billingRow is one grouped row of the standard billing export. Numeric
// columns are read as strings to keep the provider's precision.
type billingRow struct {
	UsageDate   string `bigquery:"usage_date" json:"usage_date"`
	Service     string `bigquery:"service" json:"service"`
	Region      string `bigquery:"region" json:"region"`
	Currency    string `bigquery:"currency" json:"currency"`
	Cost        string `bigquery:"cost" json:"cost"`
	UsageAmount string `bigquery:"usage_amount" json:"usage_amount"`
	UsageUnit   string `bigquery:"usage_unit" json:"usage_unit"`
}

type tableRef struct {
	Project string
	Dataset string
	Table   string
}

func (t tableRef) String() string {
	return fmt.Sprintf("%s.%s.%s", t.Project, t.Dataset, t.Table)
}

// billingQuerier runs export queries with the account's service-account key.
type billingQuerier interface {
	Query(ctx context.Context, keyFile string, table tableRef, start, end time.Time) ([]billingRow, error)
	// Probe authenticates and reads the export table metadata. A failure
	// before any table access is reported with connector.StageAssumeRole.
	Probe(ctx context.Context, keyFile string, table tableRef) (connector.Stage, error)
}

type Options struct {
	// Dataset is used when the account data prefix names only a project.
	Dataset string
	Retry   connector.RetryPolicy
}

// Connector reads the BigQuery standard billing export.
type Connector struct {
	opts    Options
	querier billingQuerier
}

var _ connector.Connector = (*Connector)(nil)

func New(opts Options) *Connector {
	return newConnector(opts, bqQuerier{})
}

func newConnector(opts Options, q billingQuerier) *Connector {
	if opts.Dataset == "" {
		opts.Dataset = "billing_export"
	}
	return &Connector{opts: opts, querier: q}
}

// exportTable resolves project.dataset.gcp_billing_export_v1_<billing account>.
func (c *Connector) exportTable(account domain.ProviderAccount) (tableRef, error) {
	project, dataset, _ := strings.Cut(account.DataPrefix, ".")
	if dataset == "" {
		dataset = c.opts.Dataset
	}
	if !projectPattern.MatchString(project) {
		return tableRef{}, errkind.New(errkind.CapabilityProbeFailed, "invalid billing export project %q", project)
	}
	if !datasetPattern.MatchString(dataset) {
		return tableRef{}, errkind.New(errkind.CapabilityProbeFailed, "invalid billing export dataset %q", dataset)
	}
	billingID := strings.TrimPrefix(account.ExternalAccountID, "billingAccounts/")
	return tableRef{
		Project: project,
		Dataset: dataset,
		Table:   "gcp_billing_export_v1_" + strings.ReplaceAll(billingID, "-", "_"),
	}, nil
}

func (c *Connector) FetchCostAndUsage(
	ctx context.Context,
	account domain.ProviderAccount,
	start, end time.Time,
) ([]domain.RawLineItem, error) {
	if account.Credential.KeyRef == "" {
		return nil, errkind.New(errkind.TrustNotEstablished, "account %s has no service-account key", account.ID)
	}
	table, err := c.exportTable(account)
	if err != nil {
		return nil, err
	}

	rows, err := connector.Do(ctx, c.opts.Retry, func(ctx context.Context) ([]billingRow, error) {
		rows, err := c.querier.Query(ctx, account.Credential.KeyRef, table, start, end)
		return rows, classify(err, "billing export query")
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", table, err)
	}

	items := make([]domain.RawLineItem, 0, len(rows))
	for _, row := range rows {
		raw, _ := json.Marshal(row)
		items = append(items, domain.RawLineItem{
			Provider:      domain.ProviderGCP,
			AccountID:     account.ID,
			Service:       row.Service,
			Region:        row.Region,
			UsageDate:     row.UsageDate,
			Amount:        row.Cost,
			Currency:      row.Currency,
			UsageQuantity: row.UsageAmount,
			UsageUnit:     row.UsageUnit,
			Raw:           raw,
		})
	}
	return items, nil
}

func (c *Connector) TestConnection(ctx context.Context, account domain.ProviderAccount) (bool, connector.Diagnostic) {
	if account.Credential.KeyRef == "" {
		return false, connector.Diagnostic{Stage: connector.StageAssumeRole, Message: "no service-account key reference"}
	}
	table, err := c.exportTable(account)
	if err != nil {
		return false, connector.Diagnostic{Stage: connector.StageCapabilityProbe, Message: errkind.Message(err)}
	}

	stage := connector.StageCapabilityProbe
	_, err = connector.Do(ctx, c.opts.Retry, func(ctx context.Context) (struct{}, error) {
		var err error
		stage, err = c.querier.Probe(ctx, account.Credential.KeyRef, table)
		return struct{}{}, classify(err, "billing export probe")
	})
	if err != nil {
		if stage == "" || stage == connector.StageOK {
			stage = connector.StageCapabilityProbe
		}
		return false, connector.Diagnostic{Stage: stage, Message: errkind.Message(err)}
	}
	return true, connector.OK("billing export table readable")
}

func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests:
			return errkind.Wrap(errkind.RateLimited, err, "%s throttled", op)
		case gerr.Code == http.StatusForbidden && isRateLimitReason(gerr):
			return errkind.Wrap(errkind.RateLimited, err, "%s throttled", op)
		case gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden:
			return errkind.Wrap(errkind.TrustNotEstablished, err, "%s denied", op)
		case gerr.Code == http.StatusNotFound:
			return errkind.Wrap(errkind.CapabilityProbeFailed, err, "%s: export table not found", op)
		case gerr.Code >= 500:
			return errkind.Wrap(errkind.ProviderUnavailable, err, "%s failed", op)
		default:
			return fmt.Errorf("%s rejected: %w", op, err)
		}
	}
	var kerr *errkind.Error
	if errors.As(err, &kerr) {
		return err
	}
	return errkind.Wrap(errkind.ProviderUnavailable, err, "%s unreachable", op)
}

// BigQuery reports quota exhaustion as 403 with a rate-limit reason.
func isRateLimitReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "quotaExceeded" {
			return true
		}
	}
	return false
}

// bqQuerier opens one BigQuery client per call and closes it afterwards.
type bqQuerier struct{}

const exportQuery = `
	SELECT
		FORMAT_DATE('%%Y-%%m-%%d', DATE(usage_start_time)) AS usage_date,
		service.description AS service,
		IFNULL(location.region, '') AS region,
		currency,
		CAST(SUM(cost) AS STRING) AS cost,
		CAST(SUM(usage.amount) AS STRING) AS usage_amount,
		ANY_VALUE(usage.unit) AS usage_unit
	FROM ` + "`%s`" + `
	WHERE usage_start_time >= @start AND usage_start_time < @end
	GROUP BY usage_date, service, region, currency
	ORDER BY usage_date`

func (bqQuerier) Query(ctx context.Context, keyFile string, table tableRef, start, end time.Time) ([]billingRow, error) {
	client, err := bigquery.NewClient(ctx, table.Project, option.WithCredentialsFile(keyFile))
	if err != nil {
		return nil, errkind.Wrap(errkind.TrustNotEstablished, err, "failed to create BigQuery client")
	}
	defer client.Close()

	q := client.Query(fmt.Sprintf(exportQuery, table))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start", Value: start.UTC()},
		{Name: "end", Value: end.UTC()},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to execute BigQuery query: %w", err)
	}

	var rows []billingRow
	for {
		var row billingRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read BigQuery row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (bqQuerier) Probe(ctx context.Context, keyFile string, table tableRef) (connector.Stage, error) {
	client, err := bigquery.NewClient(ctx, table.Project, option.WithCredentialsFile(keyFile))
	if err != nil {
		return connector.StageAssumeRole, errkind.Wrap(errkind.TrustNotEstablished, err, "failed to create BigQuery client")
	}
	defer client.Close()

	_, err = client.DatasetInProject(table.Project, table.Dataset).Table(table.Table).Metadata(ctx)
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusUnauthorized {
			return connector.StageAssumeRole, err
		}
		return connector.StageCapabilityProbe, err
	}
	return connector.StageOK, nil
}
