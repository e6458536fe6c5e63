package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	ce "github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/de-tools/cost-atlas/pkg/connector"
	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const (
	metricCost  = "UnblendedCost"
	metricUsage = "UsageQuantity"
)

type Options struct {
	Region          string
	SessionName     string
	SessionDuration time.Duration
	Retry           connector.RetryPolicy
}

// Connector reads Cost Explorer data through a role the customer created
// for the platform. Each call assumes the role afresh.
type Connector struct {
	opts    Options
	base    aws.Config
	sts     stsAPI
	clients clientFactory
	now     func() time.Time
}

var _ connector.Connector = (*Connector)(nil)

// New loads the platform's own AWS identity from the default chain. SDK
// retries are disabled; calls go through the connector retry policy.
func New(ctx context.Context, opts Options) (*Connector, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithDefaultRegion(opts.Region),
		config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	return newConnector(opts, cfg, sts.NewFromConfig(cfg), newSessionClients), nil
}

func newConnector(opts Options, base aws.Config, stsClient stsAPI, clients clientFactory) *Connector {
	if opts.SessionName == "" {
		opts.SessionName = "cost-atlas"
	}
	if opts.SessionDuration <= 0 {
		opts.SessionDuration = 15 * time.Minute
	}
	return &Connector{opts: opts, base: base, sts: stsClient, clients: clients, now: time.Now}
}

// session assumes the account role and returns clients bound to the
// temporary credentials.
func (c *Connector) session(ctx context.Context, account domain.ProviderAccount) (*sessionClients, error) {
	cred := account.Credential
	if cred.RoleARN == "" {
		return nil, errkind.New(errkind.TrustNotEstablished, "account %s has no role arn", account.ID)
	}

	out, err := connector.Do(ctx, c.opts.Retry, func(ctx context.Context) (*sts.AssumeRoleOutput, error) {
		out, err := c.sts.AssumeRole(ctx, &sts.AssumeRoleInput{
			RoleArn:         aws.String(cred.RoleARN),
			RoleSessionName: aws.String(c.opts.SessionName),
			ExternalId:      aws.String(cred.ExternalID),
			DurationSeconds: aws.Int32(int32(c.opts.SessionDuration.Seconds())),
		})
		return out, classify(err, "assume role")
	})
	if err != nil {
		return nil, err
	}
	if out.Credentials == nil {
		return nil, errkind.New(errkind.TrustNotEstablished, "assume role returned no credentials")
	}

	cfg := c.base.Copy()
	cfg.Credentials = credentials.NewStaticCredentialsProvider(
		aws.ToString(out.Credentials.AccessKeyId),
		aws.ToString(out.Credentials.SecretAccessKey),
		aws.ToString(out.Credentials.SessionToken),
	)
	return c.clients(cfg), nil
}

func costInput(p domain.Period, token *string) *ce.GetCostAndUsageInput {
	return &ce.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(p.Start.Format(domain.DateLayout)),
			End:   aws.String(p.End.Format(domain.DateLayout)),
		},
		Granularity: types.GranularityDaily,
		Metrics:     []string{metricCost, metricUsage},
		Filter: &types.Expression{
			Not: &types.Expression{
				Dimensions: &types.DimensionValues{
					Key:    types.DimensionRecordType,
					Values: []string{"Credit", "Refund"},
				},
			},
		},
		GroupBy: []types.GroupDefinition{
			{Type: types.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
			{Type: types.GroupDefinitionTypeDimension, Key: aws.String("REGION")},
		},
		NextPageToken: token,
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

	sess, err := c.session(ctx, account)
	if err != nil {
		return nil, err
	}

	logger := zerolog.Ctx(ctx).With().Str("account_id", account.ID).Logger()
	var items []domain.RawLineItem
	for _, month := range period.Months() {
		var token *string
		pages := 0
		for {
			out, err := connector.Do(ctx, c.opts.Retry, func(ctx context.Context) (*ce.GetCostAndUsageOutput, error) {
				out, err := sess.CE.GetCostAndUsage(ctx, costInput(month, token))
				return out, classify(err, "get cost and usage")
			})
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", month, err)
			}
			pages++
			items = append(items, lineItems(account, out)...)

			if aws.ToString(out.NextPageToken) == "" {
				break
			}
			token = out.NextPageToken
		}
		logger.Debug().Str("period", month.String()).Int("pages", pages).Msg("fetched billing period")
	}
	return items, nil
}

func lineItems(account domain.ProviderAccount, out *ce.GetCostAndUsageOutput) []domain.RawLineItem {
	var items []domain.RawLineItem
	for _, byTime := range out.ResultsByTime {
		var day string
		if byTime.TimePeriod != nil {
			day = aws.ToString(byTime.TimePeriod.Start)
		}
		for _, group := range byTime.Groups {
			item := domain.RawLineItem{
				Provider:  domain.ProviderAWS,
				AccountID: account.ID,
				UsageDate: day,
			}
			if len(group.Keys) > 0 {
				item.Service = group.Keys[0]
			}
			if len(group.Keys) > 1 {
				item.Region = group.Keys[1]
			}
			if m, ok := group.Metrics[metricCost]; ok {
				item.Amount = aws.ToString(m.Amount)
				item.Currency = aws.ToString(m.Unit)
			}
			if m, ok := group.Metrics[metricUsage]; ok {
				item.UsageQuantity = aws.ToString(m.Amount)
				item.UsageUnit = aws.ToString(m.Unit)
			}
			item.Raw, _ = json.Marshal(group)
			items = append(items, item)
		}
	}
	return items
}

// TestConnection assumes the role, reads the most recent day of billing
// data and, when the account names an s3:// data prefix, lists one object
// under it.
func (c *Connector) TestConnection(ctx context.Context, account domain.ProviderAccount) (bool, connector.Diagnostic) {
	sess, err := c.session(ctx, account)
	if err != nil {
		return false, connector.Diagnostic{Stage: connector.StageAssumeRole, Message: errkind.Message(err)}
	}

	yesterday := domain.SingleDay(c.now().UTC().AddDate(0, 0, -1))
	_, err = connector.Do(ctx, c.opts.Retry, func(ctx context.Context) (*ce.GetCostAndUsageOutput, error) {
		out, err := sess.CE.GetCostAndUsage(ctx, &ce.GetCostAndUsageInput{
			TimePeriod: &types.DateInterval{
				Start: aws.String(yesterday.Start.Format(domain.DateLayout)),
				End:   aws.String(yesterday.End.Format(domain.DateLayout)),
			},
			Granularity: types.GranularityDaily,
			Metrics:     []string{metricCost},
		})
		return out, classify(err, "cost explorer probe")
	})
	if err != nil {
		return false, connector.Diagnostic{Stage: connector.StageCapabilityProbe, Message: errkind.Message(err)}
	}

	if bucket, prefix, ok := parseS3Prefix(account.DataPrefix); ok {
		_, err = connector.Do(ctx, c.opts.Retry, func(ctx context.Context) (*s3.ListObjectsV2Output, error) {
			out, err := sess.S3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:  aws.String(bucket),
				Prefix:  aws.String(prefix),
				MaxKeys: aws.Int32(1),
			})
			return out, classify(err, "export bucket probe")
		})
		if err != nil {
			return false, connector.Diagnostic{Stage: connector.StageCapabilityProbe, Message: errkind.Message(err)}
		}
	}

	return true, connector.OK("role assumed and billing data readable")
}

// parseS3Prefix splits s3://bucket/prefix.
func parseS3Prefix(s string) (string, string, bool) {
	rest, ok := strings.CutPrefix(s, "s3://")
	if !ok || rest == "" {
		return "", "", false
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", false
	}
	return bucket, prefix, true
}
