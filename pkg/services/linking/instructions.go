package linking

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/de-tools/cost-atlas/pkg/errkind"
	"github.com/de-tools/cost-atlas/pkg/models/domain"
	"github.com/goccy/go-json"
)

var (
	awsAccountID      = regexp.MustCompile(`^\d{12}$`)
	gcpBillingID      = regexp.MustCompile(`^[0-9A-Fa-f]{6}-[0-9A-Fa-f]{6}-[0-9A-Fa-f]{6}$`)
	azureSubscription = regexp.MustCompile(`^[0-9A-Fa-f]{8}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{12}$`)
	awsRoleARN        = regexp.MustCompile(`^arn:aws[a-z-]*:iam::(\d{12}):role/[\w+=,.@/-]+$`)
)

func validatePayerID(p domain.Provider, id string) error {
	var re *regexp.Regexp
	var format string
	switch p {
	case domain.ProviderAWS:
		re, format = awsAccountID, "a 12 digit AWS account id"
	case domain.ProviderGCP:
		re, format = gcpBillingID, "a billing account id like 01A2B3-C4D5E6-F7A8B9"
	case domain.ProviderAzure:
		re, format = azureSubscription, "a subscription GUID"
	default:
		return errkind.New(errkind.InvalidInput, "unsupported provider %q", p)
	}
	if !re.MatchString(id) {
		return errkind.New(errkind.InvalidAccountId, "%q is not %s", id, format)
	}
	return nil
}

// validateCredential checks the customer-supplied trust reference has the
// fields the provider connector needs.
func validateCredential(link domain.Link, cred domain.TrustCredential) error {
	switch link.Provider {
	case domain.ProviderAWS:
		m := awsRoleARN.FindStringSubmatch(cred.RoleARN)
		if m == nil {
			return errkind.New(errkind.InvalidInput, "role_arn %q is not an IAM role ARN", cred.RoleARN)
		}
		if m[1] != link.PayerAccountID {
			return errkind.New(errkind.InvalidInput, "role_arn belongs to account %s, expected %s", m[1], link.PayerAccountID)
		}
	case domain.ProviderGCP:
		if strings.TrimSpace(cred.KeyRef) == "" {
			return errkind.New(errkind.InvalidInput, "key_ref is required for gcp")
		}
	case domain.ProviderAzure:
		if cred.TenantID == "" || cred.ClientID == "" || cred.KeyRef == "" {
			return errkind.New(errkind.InvalidInput, "tenant_id, client_id and key_ref are required for azure")
		}
	}
	return nil
}

var requiredActions = map[domain.Provider][]string{
	domain.ProviderAWS: {
		"ce:GetCostAndUsage",
		"ce:GetDimensionValues",
		"s3:ListBucket",
		"s3:GetObject",
	},
	domain.ProviderGCP: {
		"bigquery.jobs.create",
		"bigquery.tables.get",
		"bigquery.tables.getData",
	},
	domain.ProviderAzure: {
		"Microsoft.CostManagement/query/action",
		"Microsoft.Consumption/usageDetails/read",
	},
}

type awsTrustPolicy struct {
	Version   string           `json:"Version"`
	Statement []awsPolicyEntry `json:"Statement"`
}

type awsPolicyEntry struct {
	Effect    string                       `json:"Effect"`
	Principal map[string]string            `json:"Principal"`
	Action    string                       `json:"Action"`
	Condition map[string]map[string]string `json:"Condition"`
}

func instructions(link domain.Link, principal string) (domain.TrustInstructions, error) {
	in := domain.TrustInstructions{
		TrustPrincipal:  principal,
		ExternalID:      link.ExternalID,
		RequiredActions: requiredActions[link.Provider],
	}

	switch link.Provider {
	case domain.ProviderAWS:
		policy, err := json.MarshalIndent(awsTrustPolicy{
			Version: "2012-10-17",
			Statement: []awsPolicyEntry{{
				Effect:    "Allow",
				Principal: map[string]string{"AWS": principal},
				Action:    "sts:AssumeRole",
				Condition: map[string]map[string]string{
					"StringEquals": {"sts:ExternalId": link.ExternalID},
				},
			}},
		}, "", "  ")
		if err != nil {
			return in, fmt.Errorf("unable to render trust policy: %w", err)
		}
		in.PolicyDocument = string(policy)
		in.Steps = []string{
			fmt.Sprintf("In account %s create an IAM role trusted by %s.", link.PayerAccountID, principal),
			"Attach the trust policy below; it requires the external id on every assume-role call.",
			"Grant the role the listed read-only billing actions.",
			"Submit the role ARN to finalize the link.",
		}
	case domain.ProviderGCP:
		in.Steps = []string{
			fmt.Sprintf("Enable the BigQuery billing export for billing account %s.", link.PayerAccountID),
			fmt.Sprintf("Grant %s the BigQuery Data Viewer and Job User roles on the export dataset.", principal),
			"Create a key for the service account and store it where the platform can read it.",
			"Submit the key reference to finalize the link.",
		}
	case domain.ProviderAzure:
		in.Steps = []string{
			"Register an application in the subscription's Entra ID tenant.",
			fmt.Sprintf("Assign it the Cost Management Reader role on /subscriptions/%s.", link.PayerAccountID),
			"Create a client secret and expose it to the platform under an environment variable.",
			"Submit tenant id, client id and the variable name to finalize the link.",
		}
	}
	return in, nil
}
