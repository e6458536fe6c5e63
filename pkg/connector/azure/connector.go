package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
	"github.com/de-tools/cost-atlas/pkg/connector"
	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const managementScope = "https://management.azure.com/.default"

type usageQuerier interface {
	Usage(
		ctx context.Context,
		scope string,
		parameters armcostmanagement.QueryDefinition,
		options *armcostmanagement.QueryClientUsageOptions,
	) (armcostmanagement.QueryClientUsageResponse, error)
}

type credentialFactory func(tenantID, clientID, secret string) (azcore.TokenCredential, error)

type querierFactory func(cred azcore.TokenCredential) (usageQuerier, error)

func newClientSecretCredential(tenantID, clientID, secret string) (azcore.TokenCredential, error) {
	return azidentity.NewClientSecretCredential(tenantID, clientID, secret, nil)
}

func newQueryClient(cred azcore.TokenCredential) (usageQuerier, error) {
	factory, err := armcostmanagement.NewClientFactory(cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cost management client factory: %w", err)
	}
	return factory.NewQueryClient(), nil
}

type Options struct {
	Retry connector.RetryPolicy
}

// Connector queries Cost Management at subscription scope with a service
// principal the customer granted Cost Management Reader.
type Connector struct {
	opts        Options
	credentials credentialFactory
	queriers    querierFactory
	secret      func(name string) string
	now         func() time.Time
}

var _ connector.Connector = (*Connector)(nil)

func New(opts Options) *Connector {
	return &Connector{
		opts:        opts,
		credentials: newClientSecretCredential,
		queriers:    newQueryClient,
		secret:      os.Getenv,
		now:         time.Now,
	}
}

// session builds a credential for the account. The secret itself is read
// from the environment variable named by the key reference.
func (c *Connector) session(ctx context.Context, account domain.ProviderAccount) (usageQuerier, error) {
	cred := account.Credential
	if cred.TenantID == "" || cred.ClientID == "" || cred.KeyRef == "" {
		return nil, errkind.New(errkind.TrustNotEstablished, "account %s has an incomplete service principal reference", account.ID)
	}
	secret := c.secret(cred.KeyRef)
	if secret == "" {
		return nil, errkind.New(errkind.TrustNotEstablished, "client secret variable %s is empty", cred.KeyRef)
	}

	tc, err := c.credentials(cred.TenantID, cred.ClientID, secret)
	if err != nil {
		return nil, errkind.Wrap(errkind.TrustNotEstablished, err, "failed to create client secret credential")
	}
	_, err = connector.Do(ctx, c.opts.Retry, func(ctx context.Context) (azcore.AccessToken, error) {
		tok, err := tc.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{managementScope}})
		return tok, classify(err, "acquire token")
	})
	if err != nil {
		return nil, err
	}
	return c.queriers(tc)
}

func usageDefinition(p domain.Period) armcostmanagement.QueryDefinition {
	sum := to.Ptr(armcostmanagement.FunctionTypeSum)
	dimension := to.Ptr(armcostmanagement.QueryColumnTypeDimension)
	// Cost Management treats To as inclusive.
	until := p.End.Add(-time.Second)
	return armcostmanagement.QueryDefinition{
		Type:      to.Ptr(armcostmanagement.ExportTypeActualCost),
		Timeframe: to.Ptr(armcostmanagement.TimeframeTypeCustom),
		TimePeriod: &armcostmanagement.QueryTimePeriod{
			From: &p.Start,
			To:   &until,
		},
		Dataset: &armcostmanagement.QueryDataset{
			Granularity: to.Ptr(armcostmanagement.GranularityTypeDaily),
			Aggregation: map[string]*armcostmanagement.QueryAggregation{
				"totalCost":  {Name: to.Ptr("Cost"), Function: sum},
				"totalUsage": {Name: to.Ptr("UsageQuantity"), Function: sum},
			},
			Grouping: []*armcostmanagement.QueryGrouping{
				{Type: dimension, Name: to.Ptr("ServiceName")},
				{Type: dimension, Name: to.Ptr("ResourceLocation")},
			},
		},
	}
}

func (c *Connector) FetchCostAndUsage(
	ctx context.Context,
	account domain.ProviderAccount,
	start, end time.Time,
) ([]domain.RawLineItem, error) {
	period, err := domain.NewPeriod(start, end)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidInput, err, "invalid fetch range")
	}
	client, err := c.session(ctx, account)
	if err != nil {
		return nil, err
	}

	scope := "/subscriptions/" + account.ExternalAccountID
	logger := zerolog.Ctx(ctx).With().Str("account_id", account.ID).Logger()

	var items []domain.RawLineItem
	for _, month := range period.Months() {
		resp, err := connector.Do(ctx, c.opts.Retry, func(ctx context.Context) (armcostmanagement.QueryClientUsageResponse, error) {
			resp, err := client.Usage(ctx, scope, usageDefinition(month), nil)
			return resp, classify(err, "cost management query")
		})
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", month, err)
		}
		if resp.Properties == nil {
			continue
		}
		if next := resp.Properties.NextLink; next != nil && *next != "" {
			logger.Warn().Str("period", month.String()).Msg("cost management result truncated")
		}

		rows, err := lineItems(account, resp.Properties)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", month, err)
		}
		items = append(items, rows...)
	}
	return items, nil
}

func columnIndex(props *armcostmanagement.QueryProperties) map[string]int {
	idx := make(map[string]int, len(props.Columns))
	for i, col := range props.Columns {
		if col != nil && col.Name != nil {
			idx[strings.ToLower(*col.Name)] = i
		}
	}
	return idx
}

func lineItems(account domain.ProviderAccount, props *armcostmanagement.QueryProperties) ([]domain.RawLineItem, error) {
	idx := columnIndex(props)
	for _, required := range []string{"cost", "usagedate", "servicename"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("cost management result has no %s column", required)
		}
	}

	cell := func(row []any, name string) any {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return nil
		}
		return row[i]
	}

	items := make([]domain.RawLineItem, 0, len(props.Rows))
	for _, row := range props.Rows {
		raw, _ := json.Marshal(row)
		items = append(items, domain.RawLineItem{
			Provider:      domain.ProviderAzure,
			AccountID:     account.ID,
			Service:       text(cell(row, "servicename")),
			Region:        text(cell(row, "resourcelocation")),
			UsageDate:     usageDate(cell(row, "usagedate")),
			Amount:        text(cell(row, "cost")),
			Currency:      text(cell(row, "currency")),
			UsageQuantity: text(cell(row, "usagequantity")),
			Raw:           raw,
		})
	}
	return items, nil
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// usageDate converts the yyyymmdd number Cost Management returns.
func usageDate(v any) string {
	s := text(v)
	if len(s) == 8 {
		return s[0:4] + "-" + s[4:6] + "-" + s[6:8]
	}
	return s
}

func (c *Connector) TestConnection(ctx context.Context, account domain.ProviderAccount) (bool, connector.Diagnostic) {
	client, err := c.session(ctx, account)
	if err != nil {
		return false, connector.Diagnostic{Stage: connector.StageAssumeRole, Message: errkind.Message(err)}
	}

	yesterday := domain.SingleDay(c.now().UTC().AddDate(0, 0, -1))
	scope := "/subscriptions/" + account.ExternalAccountID
	_, err = connector.Do(ctx, c.opts.Retry, func(ctx context.Context) (armcostmanagement.QueryClientUsageResponse, error) {
		resp, err := client.Usage(ctx, scope, usageDefinition(yesterday), nil)
		return resp, classify(err, "cost management probe")
	})
	if err != nil {
		return false, connector.Diagnostic{Stage: connector.StageCapabilityProbe, Message: errkind.Message(err)}
	}
	return true, connector.OK("service principal authenticated and cost data readable")
}

func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var authErr *azidentity.AuthenticationFailedError
	if errors.As(err, &authErr) {
		return errkind.Wrap(errkind.TrustNotEstablished, err, "%s denied", op)
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch code := respErr.StatusCode; {
		case code == http.StatusTooManyRequests:
			return errkind.Wrap(errkind.RateLimited, err, "%s throttled", op)
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return errkind.Wrap(errkind.TrustNotEstablished, err, "%s denied", op)
		case code >= 500:
			return errkind.Wrap(errkind.ProviderUnavailable, err, "%s failed", op)
		default:
			return fmt.Errorf("%s rejected: %w", op, err)
		}
	}
	return errkind.Wrap(errkind.ProviderUnavailable, err, "%s unreachable", op)
}
