package queue

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
)

// Error classification for the SQS backend. Both predicates are pure and
// total: they never panic and tolerate nil or partially populated errors,
// since the SDK's error shapes are not guaranteed.

// isTransientTimeout reports whether err looks like normal long-poll expiry
// or connection-level timeout noise: a timeout-kinded API or net error, a
// connection reset, or a message mentioning inactivity. The receive loop
// treats these as non-events and polls again immediately.
func isTransientTimeout(err error) bool {
	if err == nil {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "RequestTimeout", "RequestTimeoutException", "RequestCanceled":
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "inactivity") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout")
}

// isQueueMissing reports whether err indicates the target queue does not
// exist, which the resolution protocol answers with an idempotent create.
// A 400-class HTTP status is treated as corroborating evidence alongside an
// ambiguous message, never as sole evidence.
func isQueueMissing(err error) bool {
	if err == nil {
		return false
	}

	var notExist *types.QueueDoesNotExist
	if errors.As(err, &notExist) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "QueueDoesNotExist", "AWS.SimpleQueueService.NonExistentQueue":
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "queue does not exist") ||
		strings.Contains(msg, "nonexistentqueue") {
		return true
	}

	if strings.Contains(msg, "queue") && strings.Contains(msg, "not exist") {
		var re interface{ HTTPStatusCode() int }
		if errors.As(err, &re) {
			code := re.HTTPStatusCode()
			return code >= 400 && code < 500
		}
	}

	return false
}

// isQueueExists reports whether a CreateQueue failure means the queue was
// created concurrently by someone else, the benign race the resolution
// protocol recovers from by re-resolving the name.
func isQueueExists(err error) bool {
	if err == nil {
		return false
	}

	var nameExists *types.QueueNameExists
	if errors.As(err, &nameExists) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "QueueAlreadyExists" {
		return true
	}

	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}
