package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// TransientError marks a store failure worth retrying: throttling, timeouts,
// connection drops, server-side 5xx.
type TransientError struct {
	Op  string
	Key string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("store %s %q: transient: %v", e.Op, e.Key, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a store failure that retrying cannot fix: denied
// access, bad credentials, missing bucket, malformed requests.
type PermanentError struct {
	Op  string
	Key string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable store failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// API error codes that clear up on their own. Anything else with a code is
// treated as permanent.
var transientCodes = map[string]struct{}{
	"SlowDown":                 {},
	"Throttling":               {},
	"ThrottlingException":      {},
	"ThrottledException":       {},
	"TooManyRequestsException": {},
	"RequestLimitExceeded":     {},
	"RequestTimeout":           {},
	"RequestTimeoutException":  {},
	"PriorRequestNotComplete":  {},
	"BandwidthLimitExceeded":   {},
	"InternalError":            {},
	"InternalFailure":          {},
	"ServiceUnavailable":       {},
}

// classify wraps err for op/key as transient or permanent. Context
// cancellation passes through untouched so callers can tell shutdown apart
// from store trouble.
func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if retryable(err) {
		return &TransientError{Op: op, Key: key, Err: err}
	}
	return &PermanentError{Op: op, Key: key, Err: err}
}

// isNotFound matches the ways S3 and compatible stores say a key is absent.
func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var respErr *awshttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}

func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, ok := transientCodes[apiErr.ErrorCode()]; ok {
			return true
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		code := respErr.HTTPStatusCode()
		return code == 408 || code == 429 || code >= 500
	}

	// Connection-level failures never reached the service.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
