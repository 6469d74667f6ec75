// Package awsx carries the AWS call plumbing shared by the identity,
// directory, and event clients: bounded retry with jittered backoff for
// transient errors, and smithy error classification.
package awsx

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/aws/smithy-go"

	"github.com/halcyonops/sandbox-control-plane/internal/metrics"
)

// Retry runs fn up to four times, backing off with jitter on transient AWS
// errors. Non-transient errors (including access-denied class errors, which
// must propagate unchanged) return immediately.
func Retry(ctx context.Context, opName string, fn func(context.Context) error) error {
	const (
		maxAttempts = 4
		baseDelay   = 250 * time.Millisecond
		maxDelay    = 2 * time.Second
	)
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}
		if attempt == maxAttempts {
			metrics.Default().IncCounter("sbx_aws_retry_exhausted_total", map[string]string{"op": opName})
			return err
		}
		metrics.Default().IncCounter("sbx_aws_retries_total", map[string]string{
			"op":     opName,
			"reason": ErrorCode(err),
		})
		delay := baseDelay * time.Duration(1<<(attempt-1))
		if delay > maxDelay {
			delay = maxDelay
		}
		delay = withJitter(delay)
		log.Printf("event=aws_retry op=%s attempt=%d delay_ms=%d err=%q", opName, attempt, delay.Milliseconds(), err.Error())
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// Observe records the outcome of one AWS operation.
func Observe(opName string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	labels := map[string]string{"op": opName, "status": status}
	metrics.Default().IncCounter("sbx_aws_operations_total", labels)
	metrics.Default().ObserveHistogram("sbx_aws_operation_latency_ms", float64(time.Since(start).Milliseconds()), labels)
}

func IsTransient(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "RequestLimitExceeded",
		"Throttling",
		"ThrottlingException",
		"TooManyRequestsException",
		"RequestThrottled",
		"ServiceUnavailable",
		"InternalError",
		"InternalServerException",
		"RequestTimeout",
		"ConcurrentModificationException":
		return true
	default:
		return false
	}
}

// IsAccessDenied reports authorization-class failures from the identity and
// directory services. These are never translated by callers.
func IsAccessDenied(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "AccessDenied", "AccessDeniedException", "UnauthorizedOperation":
		return true
	default:
		return false
	}
}

func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return "non_api_error"
	}
	code := strings.TrimSpace(apiErr.ErrorCode())
	if code == "" {
		return "unknown"
	}
	return code
}

func withJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	floor := delay / 10
	span := delay - floor
	if span <= 0 {
		return floor
	}
	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return floor + (span / 2)
	}
	n := binary.LittleEndian.Uint64(raw[:]) % uint64(span)
	// Jittered delay in [10% of base, 100% of base).
	return floor + time.Duration(n)
}
