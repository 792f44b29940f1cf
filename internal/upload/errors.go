package upload

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
)

// Kind classifies why an upload run failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindInput
	KindAuth
	KindQuota
	KindServer
	KindTransient
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "ConfigurationError"
	case KindInput:
		return "InputError"
	case KindAuth:
		return "AuthError"
	case KindQuota:
		return "QuotaError"
	case KindServer:
		return "ServerError"
	case KindTransient:
		return "TransientError"
	case KindCanceled:
		return "Canceled"
	default:
		return "UnknownError"
	}
}

type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil && (e.Message == "" || !strings.Contains(e.Message, e.Err.Error())) {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr.Kind
	}
	return KindUnknown
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

var quotaReasons = map[string]bool{
	"quotaExceeded":         true,
	"uploadLimitExceeded":   true,
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"dailyLimitExceeded":    true,
}

// classifyResponse turns a non-2xx, non-308 response into an *Error. The body
// is consumed.
func classifyResponse(resp *http.Response, stage string) *Error {
	err := googleapi.CheckResponse(resp)
	if err == nil {
		err = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	msg := fmt.Sprintf("%s rejected", stage)
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		msg = fmt.Sprintf("%s rejected: %s", stage, apiErr.Message)
	}

	return &Error{
		Kind:    kindForStatus(resp.StatusCode, apiErr),
		Status:  resp.StatusCode,
		Message: msg,
		Err:     err,
	}
}

func kindForStatus(status int, apiErr *googleapi.Error) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindQuota
	case status < http.StatusInternalServerError && hasQuotaReason(apiErr):
		return KindQuota
	case status == http.StatusForbidden:
		return KindAuth
	case status >= http.StatusInternalServerError:
		return KindTransient
	default:
		return KindServer
	}
}

func hasQuotaReason(apiErr *googleapi.Error) bool {
	if apiErr == nil {
		return false
	}
	for _, item := range apiErr.Errors {
		if quotaReasons[item.Reason] {
			return true
		}
	}
	return false
}
