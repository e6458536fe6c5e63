package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	ce "github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/aws/smithy-go"
	"github.com/de-tools/cost-atlas/pkg/connector"
	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSTS struct {
	err   error
	calls int
	input *sts.AssumeRoleInput
}

func (s *stubSTS) AssumeRole(_ context.Context, in *sts.AssumeRoleInput, _ ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	s.calls++
	s.input = in
	if s.err != nil {
		return nil, s.err
	}
	return &sts.AssumeRoleOutput{Credentials: &ststypes.Credentials{
		AccessKeyId:     aws.String("AKIA"),
		SecretAccessKey: aws.String("secret"),
		SessionToken:    aws.String("token"),
	}}, nil
}

type stubCE struct {
	pages  map[string][]*ce.GetCostAndUsageOutput
	err    error
	inputs []*ce.GetCostAndUsageInput
}

func (s *stubCE) GetCostAndUsage(_ context.Context, in *ce.GetCostAndUsageInput, _ ...func(*ce.Options)) (*ce.GetCostAndUsageOutput, error) {
	s.inputs = append(s.inputs, in)
	if s.err != nil {
		return nil, s.err
	}
	pages := s.pages[aws.ToString(in.TimePeriod.Start)]
	idx := 0
	if in.NextPageToken != nil {
		idx = 1
	}
	if idx >= len(pages) {
		return &ce.GetCostAndUsageOutput{}, nil
	}
	return pages[idx], nil
}

type stubS3 struct {
	err   error
	input *s3.ListObjectsV2Input
}

func (s *stubS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	s.input = in
	return &s3.ListObjectsV2Output{}, s.err
}

func group(service, region, amount string) types.Group {
	return types.Group{
		Keys: []string{service, region},
		Metrics: map[string]types.MetricValue{
			metricCost:  {Amount: aws.String(amount), Unit: aws.String("USD")},
			metricUsage: {Amount: aws.String("3"), Unit: aws.String("Hrs")},
		},
	}
}

func byDay(day string, groups ...types.Group) types.ResultByTime {
	return types.ResultByTime{TimePeriod: &types.DateInterval{Start: aws.String(day)}, Groups: groups}
}

func setup(stsStub *stubSTS, ceStub *stubCE, s3Stub *stubS3) *Connector {
	c := newConnector(Options{Retry: connector.RetryPolicy{Attempts: 1}}, aws.Config{}, stsStub,
		func(aws.Config) *sessionClients { return &sessionClients{CE: ceStub, S3: s3Stub} })
	c.now = func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) }
	return c
}

var account = domain.ProviderAccount{
	ID:       "acct-1",
	Provider: domain.ProviderAWS,
	Credential: domain.TrustCredential{
		RoleARN:    "arn:aws:iam::123456789012:role/cost-atlas",
		ExternalID: "ext-1",
	},
}

func TestConnector_FetchCostAndUsage(t *testing.T) {
	ceStub := &stubCE{pages: map[string][]*ce.GetCostAndUsageOutput{
		"2024-01-30": {
			{
				ResultsByTime: []types.ResultByTime{byDay("2024-01-30", group("Amazon EC2", "us-east-1", "10.5"))},
				NextPageToken: aws.String("next"),
			},
			{ResultsByTime: []types.ResultByTime{byDay("2024-01-31", group("Amazon S3", "", "1.25"))}},
		},
		"2024-02-01": {
			{ResultsByTime: []types.ResultByTime{byDay("2024-02-01", group("Amazon EC2", "us-east-1", "11"))}},
		},
	}}
	stsStub := &stubSTS{}
	c := setup(stsStub, ceStub, &stubS3{})

	start := time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	items, err := c.FetchCostAndUsage(context.Background(), account, start, end)
	require.NoError(t, err)

	require.Len(t, items, 3)
	assert.Equal(t, "Amazon EC2", items[0].Service)
	assert.Equal(t, "us-east-1", items[0].Region)
	assert.Equal(t, "10.5", items[0].Amount)
	assert.Equal(t, "USD", items[0].Currency)
	assert.Equal(t, "Hrs", items[0].UsageUnit)
	assert.Equal(t, "2024-01-30", items[0].UsageDate)
	assert.Equal(t, "acct-1", items[0].AccountID)
	assert.NotEmpty(t, items[0].Raw)
	assert.Equal(t, "2024-02-01", items[2].UsageDate)

	// One billing period per calendar month, the first one paginated.
	require.Len(t, ceStub.inputs, 3)
	assert.Equal(t, "2024-02-01", aws.ToString(ceStub.inputs[0].TimePeriod.End))
	assert.Equal(t, "next", aws.ToString(ceStub.inputs[1].NextPageToken))
	assert.Equal(t, "2024-02-02", aws.ToString(ceStub.inputs[2].TimePeriod.End))

	assert.Equal(t, 1, stsStub.calls)
	assert.Equal(t, "ext-1", aws.ToString(stsStub.input.ExternalId))
	assert.Equal(t, int32(900), aws.ToInt32(stsStub.input.DurationSeconds))
}

func TestConnector_FetchErrors(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	tests := []struct {
		name   string
		stsErr error
		ceErr  error
		want   errkind.Kind
	}{
		{
			name:   "assume role denied",
			stsErr: &smithy.GenericAPIError{Code: "AccessDenied", Message: "not authorized"},
			want:   errkind.TrustNotEstablished,
		},
		{
			name:  "throttled",
			ceErr: &smithy.GenericAPIError{Code: "ThrottlingException"},
			want:  errkind.RateLimited,
		},
		{
			name:  "server fault",
			ceErr: &smithy.GenericAPIError{Code: "InternalError", Fault: smithy.FaultServer},
			want:  errkind.ProviderUnavailable,
		},
		{
			name:  "network",
			ceErr: errors.New("dial tcp: i/o timeout"),
			want:  errkind.ProviderUnavailable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := setup(&stubSTS{err: tc.stsErr}, &stubCE{err: tc.ceErr}, &stubS3{})
			_, err := c.FetchCostAndUsage(context.Background(), account, start, end)
			assert.ErrorIs(t, err, &errkind.Error{Kind: tc.want})
		})
	}

	t.Run("missing role", func(t *testing.T) {
		c := setup(&stubSTS{}, &stubCE{}, &stubS3{})
		_, err := c.FetchCostAndUsage(context.Background(), domain.ProviderAccount{ID: "x"}, start, end)
		assert.ErrorIs(t, err, errkind.ErrTrustNotEstablished)
	})
}

func TestConnector_TestConnection(t *testing.T) {
	t.Run("ok with export probe", func(t *testing.T) {
		s3Stub := &stubS3{}
		ceStub := &stubCE{}
		c := setup(&stubSTS{}, ceStub, s3Stub)
		acct := account
		acct.DataPrefix = "s3://billing-exports/cur/daily"

		ok, diag := c.TestConnection(context.Background(), acct)
		assert.True(t, ok)
		assert.Equal(t, connector.StageOK, diag.Stage)
		assert.Equal(t, "billing-exports", aws.ToString(s3Stub.input.Bucket))
		assert.Equal(t, "cur/daily", aws.ToString(s3Stub.input.Prefix))
		assert.Equal(t, "2024-03-14", aws.ToString(ceStub.inputs[0].TimePeriod.Start))
	})

	t.Run("assume role stage", func(t *testing.T) {
		c := setup(&stubSTS{err: &smithy.GenericAPIError{Code: "AccessDenied"}}, &stubCE{}, &stubS3{})
		ok, diag := c.TestConnection(context.Background(), account)
		assert.False(t, ok)
		assert.Equal(t, connector.StageAssumeRole, diag.Stage)
	})

	t.Run("probe stage", func(t *testing.T) {
		c := setup(&stubSTS{}, &stubCE{err: &smithy.GenericAPIError{Code: "AccessDeniedException"}}, &stubS3{})
		ok, diag := c.TestConnection(context.Background(), account)
		assert.False(t, ok)
		assert.Equal(t, connector.StageCapabilityProbe, diag.Stage)
	})

	t.Run("export bucket denied", func(t *testing.T) {
		c := setup(&stubSTS{}, &stubCE{}, &stubS3{err: &smithy.GenericAPIError{Code: "AccessDenied"}})
		acct := account
		acct.DataPrefix = "s3://billing-exports"
		ok, diag := c.TestConnection(context.Background(), acct)
		assert.False(t, ok)
		assert.Equal(t, connector.StageCapabilityProbe, diag.Stage)
	})
}

func TestParseS3Prefix(t *testing.T) {
	bucket, prefix, ok := parseS3Prefix("s3://b/p/q")
	assert.True(t, ok)
	assert.Equal(t, "b", bucket)
	assert.Equal(t, "p/q", prefix)

	_, _, ok = parseS3Prefix("project.dataset")
	assert.False(t, ok)
	_, _, ok = parseS3Prefix("s3://")
	assert.False(t, ok)
}
