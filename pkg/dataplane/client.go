// Package dataplane is a client for the HAProxy Data Plane API configuration
// endpoints. It implements the engine's StateReader, ResourceWriter and
// TransactionAPI interfaces and translates every response into the engine's
// error taxonomy.
package dataplane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/haproxyctl/pkg/engine"
)

const (
	// DefaultAPIVersion is the path segment used when none is configured.
	DefaultAPIVersion = "v2"

	// DefaultTimeout bounds each request when no HTTP client is supplied.
	DefaultTimeout = 30 * time.Second

	// RequestIDHeader carries a per request id for log correlation.
	RequestIDHeader = "X-Request-ID"

	tracerName = "github.com/openfroyo/haproxyctl/pkg/dataplane"
)

// TransactionStyle selects how a transaction id is placed in write URLs.
type TransactionStyle string

const (
	// TransactionInPath appends the id as the last path segment.
	TransactionInPath TransactionStyle = "path"

	// TransactionInQuery sends the id as the transaction_id query parameter.
	TransactionInQuery TransactionStyle = "query"
)

// Recorder receives per request measurements. telemetry.Metrics implements it.
type Recorder interface {
	RecordAPIRequest(method, operation string, status int, duration time.Duration)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. http://127.0.0.1:5555.
	BaseURL string

	// APIVersion is the version path segment. Defaults to v2.
	APIVersion string

	// Username and Password are sent with basic authentication.
	Username string
	Password string

	// Timeout applies to the default HTTP client.
	Timeout time.Duration

	// TransactionStyle defaults to TransactionInPath.
	TransactionStyle TransactionStyle

	// HTTPClient overrides the default client.
	HTTPClient *http.Client

	// Logger receives request logs. Defaults to a no-op logger.
	Logger *zerolog.Logger

	// Metrics receives request measurements.
	Metrics Recorder

	// UserAgent is sent with every request.
	UserAgent string
}

// Client talks to one Data Plane API instance.
type Client struct {
	base       *url.URL
	apiVersion string
	username   string
	password   string
	style      TransactionStyle
	userAgent  string
	http       *http.Client
	logger     zerolog.Logger
	tracer     trace.Tracer
	metrics    Recorder
}

var (
	_ engine.Remote = (*Client)(nil)
)

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("dataplane: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("dataplane: invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("dataplane: base url must be http or https, got %q", cfg.BaseURL)
	}

	apiVersion := strings.Trim(cfg.APIVersion, "/")
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}

	style := cfg.TransactionStyle
	switch style {
	case "":
		style = TransactionInPath
	case TransactionInPath, TransactionInQuery:
	default:
		return nil, fmt.Errorf("dataplane: invalid transaction style %q", style)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "haproxyctl"
	}

	return &Client{
		base:       base,
		apiVersion: apiVersion,
		username:   cfg.Username,
		password:   cfg.Password,
		style:      style,
		userAgent:  userAgent,
		http:       httpClient,
		logger:     logger.With().Str("component", "dataplane").Logger(),
		tracer:     otel.Tracer(tracerName),
		metrics:    cfg.Metrics,
	}, nil
}

// call describes one request.
type call struct {
	method    string
	operation string
	path      string
	query     url.Values
	body      any
	resource  string
	phase     phase
}

// response is a fully read HTTP response.
type response struct {
	status int
	body   []byte
}

// do sends c and returns the response when it is 2xx. Every other outcome
// is returned as a classified *engine.EngineError.
func (cl *Client) do(ctx context.Context, c call) (*response, error) {
	ctx, span := cl.tracer.Start(ctx, "dataplane.request", trace.WithAttributes(
		attribute.String("http.method", c.method),
		attribute.String("haproxy.operation", c.operation),
	), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	start := time.Now()
	resp, err := cl.send(ctx, c)
	status := 0
	if resp != nil {
		status = resp.status
	}
	if cl.metrics != nil {
		cl.metrics.RecordAPIRequest(c.method, c.operation, status, time.Since(start))
	}
	if err == nil {
		err = translate(c, resp)
	}

	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}
	return resp, nil
}

func (cl *Client) send(ctx context.Context, c call) (*response, error) {
	var body io.Reader
	if c.body != nil {
		data, err := json.Marshal(c.body)
		if err != nil {
			return nil, engine.NewValidationError("cannot encode request body", err).
				WithOperation(c.operation).WithResource(c.resource)
		}
		body = bytes.NewReader(data)
	}

	u := cl.endpoint(c.path, c.query)
	req, err := http.NewRequestWithContext(ctx, c.method, u, body)
	if err != nil {
		return nil, engine.NewValidationError("cannot build request", err).
			WithOperation(c.operation).WithResource(c.resource)
	}

	requestID := uuid.NewString()
	req.SetBasicAuth(cl.username, cl.password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", cl.userAgent)
	req.Header.Set(RequestIDHeader, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	log := cl.logger.With().
		Str("request_id", requestID).
		Str("method", c.method).
		Str("operation", c.operation).
		Str("path", c.path).
		Logger()
	log.Debug().Msg("Sending request")

	httpResp, err := cl.http.Do(req)
	if err != nil {
		log.Debug().Err(err).Msg("Request failed")
		return nil, transportError(ctx, c, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, transportError(ctx, c, err).WithStatus(httpResp.StatusCode, "")
	}

	log.Debug().Int("status", httpResp.StatusCode).Int("bytes", len(data)).Msg("Received response")
	return &response{status: httpResp.StatusCode, body: data}, nil
}

// decode unmarshals a 2xx body. A body that cannot be decoded is a
// transport failure: the remote spoke, but not the protocol.
func decode(c call, resp *response, v any) error {
	if err := json.Unmarshal(resp.body, v); err != nil {
		return engine.NewTransportError("malformed response body", err).
			WithCode(engine.ErrCodeMalformedResponse).
			WithOperation(c.operation).
			WithResource(c.resource).
			WithStatus(resp.status, truncate(string(resp.body)))
	}
	return nil
}
