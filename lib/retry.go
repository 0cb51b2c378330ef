package lib

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go"
	"github.com/aws/smithy-go"
)

// RetryPolicy bounds the retries around a single remote call. The delay
// before attempt n (1-indexed, n>1) is BaseDelay * 2^(n-2).
type RetryPolicy struct {
	Attempts  uint
	BaseDelay time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	Attempts:  3,
	BaseDelay: 1 * time.Second,
}

// Backoff is a retry.DelayTypeFunc. n counts completed attempts, so the
// first retry waits BaseDelay, the second 2x, the third 4x.
func (p RetryPolicy) Backoff(n uint, _ error, _ *retry.Config) time.Duration {
	return p.BaseDelay << n
}

var nonRetryableErrorCodes = []string{
	"AccessDenied",
	"AccessDeniedException",
	"UnauthorizedOperation",
	"ValidationError",
	"ValidationException",
	"InvalidParameter",
	"InvalidParameterException",
	"InvalidParameterValue",
	"InvalidParameterValueException",
	"MalformedPolicyDocument",
}

var notFoundErrorCodes = []string{
	"NoSuchEntity",
	"ResourceNotFoundException",
	"NotFoundException",
	"NotFound",
	"RepositoryNotFoundException",
	"ParameterNotFound",
}

func ErrorCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

func IsNonRetryable(err error) bool {
	return Contains(nonRetryableErrorCodes, ErrorCode(err))
}

func IsNotFound(err error) bool {
	return Contains(notFoundErrorCodes, ErrorCode(err))
}

func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(p.Attempts),
		retry.DelayType(p.Backoff),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !IsNonRetryable(err)
		}),
	)
}

func Retry(ctx context.Context, fn func() error) error {
	return DefaultRetryPolicy.Do(ctx, fn)
}
