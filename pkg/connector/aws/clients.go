package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	ce "github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// stsAPI is the subset of STS used to open a customer session.
type stsAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// ceAPI covers the Cost Explorer calls. Cost Explorer is global; clients
// always point at us-east-1.
type ceAPI interface {
	GetCostAndUsage(ctx context.Context, params *ce.GetCostAndUsageInput, optFns ...func(*ce.Options)) (*ce.GetCostAndUsageOutput, error)
}

// s3API covers the export-delivery probe.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// sessionClients live for one connector call.
type sessionClients struct {
	CE ceAPI
	S3 s3API
}

type clientFactory func(cfg aws.Config) *sessionClients

func newSessionClients(cfg aws.Config) *sessionClients {
	ceCfg := cfg.Copy()
	ceCfg.Region = "us-east-1"
	return &sessionClients{
		CE: ce.NewFromConfig(ceCfg),
		S3: s3.NewFromConfig(cfg),
	}
}
