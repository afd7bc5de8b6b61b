package coingecko

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind classifies provider failures for the retry loop.
type ErrorKind int

const (
	KindFatal ErrorKind = iota
	KindTransient
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// Retryable reports whether the backoff loop may try the call again.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimited || k == KindTransient
}

// APIError is returned for every failed provider call.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Code       int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("coingecko ")
	b.WriteString(e.Kind.String())
	if e.Code != 0 {
		fmt.Fprintf(&b, " error %d", e.Code)
	} else if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// KindOf returns the classification carried by err. Errors that are not
// recognisably network failures are fatal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindFatal
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindFatal
}

type errorPayload struct {
	Status *struct {
		ErrorCode    int    `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
	Error string `json:"error"`
}

// classifyResponse inspects a response and returns nil when it carries data.
func classifyResponse(statusCode int, body []byte) error {
	var payload errorPayload
	// Data responses (including JSON arrays) fail to decode into the
	// payload shape, which is fine.
	_ = json.Unmarshal(body, &payload)

	if payload.Status != nil && payload.Status.ErrorCode != 0 {
		return &APIError{
			Kind:       kindForCode(payload.Status.ErrorCode),
			StatusCode: statusCode,
			Code:       payload.Status.ErrorCode,
			Message:    payload.Status.ErrorMessage,
		}
	}

	if statusCode >= http.StatusBadRequest {
		msg := payload.Error
		if msg == "" {
			msg = snippet(body)
		}
		return &APIError{
			Kind:       kindForCode(statusCode),
			StatusCode: statusCode,
			Message:    msg,
		}
	}
	return nil
}

func kindForCode(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusRequestTimeout, code >= http.StatusInternalServerError:
		return KindTransient
	default:
		return KindFatal
	}
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
