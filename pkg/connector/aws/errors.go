package aws

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/smithy-go"
	"github.com/de-tools/cost-atlas/pkg/errkind"
)

var throttleCodes = map[string]bool{
	"Throttling":               true,
	"ThrottlingException":      true,
	"TooManyRequestsException": true,
	"RequestLimitExceeded":     true,
	"LimitExceededException":   true,
	"SlowDown":                 true,
}

var authCodes = map[string]bool{
	"AccessDenied":                true,
	"AccessDeniedException":       true,
	"ExpiredToken":                true,
	"ExpiredTokenException":       true,
	"InvalidClientTokenId":        true,
	"UnrecognizedClientException": true,
	"AuthorizationError":          true,
	"InvalidAccessKeyId":          true,
}

// classify maps SDK errors onto the connector error kinds.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case throttleCodes[code]:
			return errkind.Wrap(errkind.RateLimited, err, "%s throttled", op)
		case authCodes[code]:
			return errkind.Wrap(errkind.TrustNotEstablished, err, "%s denied", op)
		case apiErr.ErrorFault() == smithy.FaultServer:
			return errkind.Wrap(errkind.ProviderUnavailable, err, "%s failed", op)
		}
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		code := status.HTTPStatusCode()
		switch {
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

	if apiErr != nil {
		return fmt.Errorf("%s rejected: %w", op, err)
	}
	// No response at all: network trouble.
	return errkind.Wrap(errkind.ProviderUnavailable, err, "%s unreachable", op)
}
