package dataplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/openfroyo/haproxyctl/pkg/engine"
)

// phase tells the translator which status codes mean a version conflict or
// a remote validation failure.
type phase int

const (
	phaseRead phase = iota
	phaseTxWrite
	phaseDirectWrite
	phaseOpen
	phaseCommit
	phaseDiscard
)

var errMissingID = errors.New("transaction id missing from response")

// maxBodyBytes bounds the response body kept on errors.
const maxBodyBytes = 4096

// apiErrorBody is the structured error returned by the Data Plane API.
type apiErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// translate maps a non-2xx response to the engine taxonomy.
//
//	404                                     not_found
//	406, or 409 about the version (open,
//	  commit, direct writes)                version_conflict
//	400 or 422 on commit                    validation_failed
//	any other non-2xx                       api
func translate(c call, resp *response) error {
	if resp.status >= 200 && resp.status < 300 {
		return nil
	}

	raw := strings.TrimSpace(string(resp.body))
	msg := errorMessage(resp.body)
	body := truncate(raw)

	var e *engine.EngineError
	switch {
	case resp.status == http.StatusNotFound:
		e = engine.NewNotFoundError(orDefault(msg, "resource not found"), nil)

	case isVersionConflict(c.phase, resp.status, msg):
		e = engine.NewVersionConflictError(orDefault(msg, "configuration version conflict"), nil)

	case c.phase == phaseCommit && (resp.status == http.StatusBadRequest || resp.status == http.StatusUnprocessableEntity):
		e = engine.NewValidationFailedError(orDefault(msg, "configuration rejected"), nil)

	default:
		e = engine.NewAPIError(orDefault(msg, http.StatusText(resp.status)), nil)
	}

	return e.WithOperation(c.operation).
		WithResource(c.resource).
		WithStatus(resp.status, body)
}

func isVersionConflict(p phase, status int, msg string) bool {
	switch p {
	case phaseOpen, phaseCommit:
		if status == http.StatusNotAcceptable {
			return true
		}
		return status == http.StatusConflict && mentionsVersion(msg)
	case phaseDirectWrite:
		return status == http.StatusConflict && mentionsVersion(msg)
	default:
		return false
	}
}

func mentionsVersion(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "version")
}

// errorMessage returns the message of a structured error body, or the
// trimmed raw body when it is not structured.
func errorMessage(body []byte) string {
	var b apiErrorBody
	if err := json.Unmarshal(body, &b); err == nil && b.Message != "" {
		return strings.TrimSpace(b.Message)
	}
	return truncate(strings.TrimSpace(string(body)))
}

// transportError classifies a failure to get any response at all.
func transportError(ctx context.Context, c call, err error) *engine.EngineError {
	e := engine.NewTransportError(fmt.Sprintf("%s %s failed", c.method, c.operation), err).
		WithOperation(c.operation).
		WithResource(c.resource)

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() == context.DeadlineExceeded:
		e.WithCode(engine.ErrCodeTimeout)
	case errors.As(err, &netErr) && netErr.Timeout():
		e.WithCode(engine.ErrCodeTimeout)
	}
	return e
}

func truncate(s string) string {
	if len(s) <= maxBodyBytes {
		return s
	}
	return s[:maxBodyBytes] + "..."
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
