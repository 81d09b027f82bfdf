// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
)

// StatusCoder is implemented by errors that carry an HTTP status code.
//
// Provider adapters expose the status of failed API calls through this
// interface so classification does not depend on any vendor error type.
type StatusCoder interface {
	HTTPStatus() int
}

// transientError marks an error as retryable regardless of its type.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so that IsRetryable reports true for it.
//
// Use this for vendor-specific transient conditions that have no standard
// status code, such as an "overloaded" response. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsRetryable classifies an error as transient.
//
// Description:
//
//	Rate limits and server errors (429, 500, 502, 503, 504), network
//	failures and timeouts are retryable. Other 4xx errors are client
//	mistakes and are not. Caller cancellation is never retried, and
//	unrecognized errors fail closed.
//
// Inputs:
//
//	err - The error to classify. nil is not retryable.
//
// Outputs:
//
//	bool - True if another attempt may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	var transient *transientError
	if errors.As(err, &transient) {
		return true
	}

	// A status code is the most specific signal, so it wins over the
	// transport checks below. Zero means no response was received.
	var sc StatusCoder
	if errors.As(err, &sc) && sc.HTTPStatus() != 0 {
		return IsRetryableStatus(sc.HTTPStatus())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Connection errors (OpError) - the server may be restarting.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	return false
}

// IsRetryableStatus reports whether an HTTP status code is transient.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
