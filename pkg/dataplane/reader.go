package dataplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/openfroyo/haproxyctl/pkg/engine"
	"github.com/openfroyo/haproxyctl/pkg/model"
)

// FetchVersion returns the current configuration version.
func (cl *Client) FetchVersion(ctx context.Context) (int64, error) {
	c := call{method: http.MethodGet, operation: "version.get", path: "version", phase: phaseRead}
	resp, err := cl.do(ctx, c)
	if err != nil {
		return 0, err
	}
	return parseVersion(c, resp)
}

// parseVersion accepts the plain integer the API returns, and also an
// object carrying version or _version.
func parseVersion(c call, resp *response) (int64, error) {
	raw := bytes.TrimSpace(resp.body)
	if v, err := strconv.ParseInt(string(raw), 10, 64); err == nil && v >= 0 {
		return v, nil
	}
	var wrapped transactionBody
	if err := decode(c, resp, &wrapped); err != nil {
		return 0, err
	}
	if v, ok := wrapped.lookupVersion(); ok && v >= 0 {
		return v, nil
	}
	return 0, engine.NewTransportError("response carries no version", nil).
		WithCode(engine.ErrCodeMalformedResponse).
		WithOperation(c.operation).
		WithStatus(resp.status, truncate(string(raw)))
}

// FetchResource reads one resource. A 404 yields engine.ReadNotFound; every
// other failure yields engine.ReadFailed with a classified error.
func (cl *Client) FetchResource(ctx context.Context, key model.Key) engine.ReadResult {
	if err := key.Validate(); err != nil {
		return engine.Failed(engine.NewValidationError("invalid resource key", err).
			WithResource(key.String()).WithOperation(string(key.Kind) + ".get"))
	}

	c := call{
		method:    http.MethodGet,
		operation: string(key.Kind) + ".get",
		path:      resourcePath(key),
		resource:  key.String(),
		phase:     phaseRead,
	}
	resp, err := cl.do(ctx, c)
	if err != nil {
		if engine.IsNotFound(err) {
			return engine.NotFound()
		}
		return engine.Failed(err)
	}

	obj, err := decodeResourceObject(c, resp)
	if err != nil {
		return engine.Failed(err)
	}
	r, err := model.FromObject(key.Kind, obj)
	if err != nil {
		return engine.Failed(engine.NewTransportError("cannot decode resource", err).
			WithCode(engine.ErrCodeMalformedResponse).
			WithOperation(c.operation).
			WithResource(c.resource).
			WithStatus(resp.status, truncate(string(resp.body))))
	}
	return engine.Found(r, obj)
}

// ListResources lists the resources of kind. Servers require their parent.
func (cl *Client) ListResources(ctx context.Context, kind model.Kind, parent *model.ParentRef) ([]model.Resource, error) {
	if kind == model.KindServer && parent == nil {
		return nil, engine.NewValidationError("listing servers requires a parent", nil).WithOperation("server.list")
	}

	c := call{
		method:    http.MethodGet,
		operation: string(kind) + ".list",
		path:      collectionPath(kind, parent),
		phase:     phaseRead,
	}
	resp, err := cl.do(ctx, c)
	if err != nil {
		return nil, err
	}

	items, err := decodeList(c, resp)
	if err != nil {
		return nil, err
	}
	out := make([]model.Resource, 0, len(items))
	for _, item := range items {
		r, err := model.Decode(kind, item)
		if err != nil {
			return nil, engine.NewTransportError("cannot decode resource", err).
				WithCode(engine.ErrCodeMalformedResponse).
				WithOperation(c.operation)
		}
		out = append(out, r)
	}
	return out, nil
}

// envelope is the {_version, data} wrapper some API versions use.
type envelope struct {
	Version *int64          `json:"_version"`
	Data    json.RawMessage `json:"data"`
}

// decodeResourceObject decodes a single resource body, unwrapping the
// {_version, data} envelope when present.
func decodeResourceObject(c call, resp *response) (model.Object, error) {
	var env envelope
	if err := json.Unmarshal(resp.body, &env); err == nil && env.Version != nil && len(env.Data) > 0 {
		obj, err := model.DecodeObject(env.Data)
		if err != nil {
			return nil, malformed(c, resp, err)
		}
		return obj, nil
	}
	obj, err := model.DecodeObject(resp.body)
	if err != nil {
		return nil, malformed(c, resp, err)
	}
	return obj, nil
}

func decodeList(c call, resp *response) ([]json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(resp.body, &env); err == nil && len(env.Data) > 0 {
		var items []json.RawMessage
		if err := json.Unmarshal(env.Data, &items); err != nil {
			return nil, malformed(c, resp, err)
		}
		return items, nil
	}
	var items []json.RawMessage
	if err := decode(c, resp, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func malformed(c call, resp *response, err error) error {
	return engine.NewTransportError("malformed response body", err).
		WithCode(engine.ErrCodeMalformedResponse).
		WithOperation(c.operation).
		WithResource(c.resource).
		WithStatus(resp.status, truncate(string(resp.body)))
}
