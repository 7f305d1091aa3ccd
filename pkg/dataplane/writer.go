package dataplane

import (
	"context"
	"net/http"

	"github.com/openfroyo/haproxyctl/pkg/engine"
	"github.com/openfroyo/haproxyctl/pkg/model"
)

// Create posts a new resource. With a transaction id in scope the write is
// buffered in that transaction; otherwise it is applied against
// scope.Version directly.
func (cl *Client) Create(ctx context.Context, key model.Key, body any, scope engine.WriteScope) (model.Resource, error) {
	path, query := cl.writeTarget(collectionPath(key.Kind, key.Parent), scope)
	return cl.write(ctx, key, call{
		method:    http.MethodPost,
		operation: string(key.Kind) + ".create",
		path:      path,
		query:     query,
		body:      body,
		resource:  key.String(),
		phase:     writePhase(scope),
	})
}

// Update replaces an existing resource with body.
func (cl *Client) Update(ctx context.Context, key model.Key, body any, scope engine.WriteScope) (model.Resource, error) {
	path, query := cl.writeTarget(resourcePath(key), scope)
	return cl.write(ctx, key, call{
		method:    http.MethodPut,
		operation: string(key.Kind) + ".update",
		path:      path,
		query:     query,
		body:      body,
		resource:  key.String(),
		phase:     writePhase(scope),
	})
}

// Delete removes a resource.
func (cl *Client) Delete(ctx context.Context, key model.Key, scope engine.WriteScope) error {
	path, query := cl.writeTarget(resourcePath(key), scope)
	_, err := cl.do(ctx, call{
		method:    http.MethodDelete,
		operation: string(key.Kind) + ".delete",
		path:      path,
		query:     query,
		resource:  key.String(),
		phase:     writePhase(scope),
	})
	return err
}

func (cl *Client) write(ctx context.Context, key model.Key, c call) (model.Resource, error) {
	if err := key.Validate(); err != nil {
		return nil, engine.NewValidationError("invalid resource key", err).
			WithResource(key.String()).WithOperation(c.operation)
	}
	resp, err := cl.do(ctx, c)
	if err != nil {
		return nil, err
	}
	if len(resp.body) == 0 {
		return nil, nil
	}
	obj, err := decodeResourceObject(c, resp)
	if err != nil {
		return nil, err
	}
	r, err := model.FromObject(key.Kind, obj)
	if err != nil {
		return nil, malformed(c, resp, err)
	}
	return r, nil
}

func writePhase(scope engine.WriteScope) phase {
	if scope.InTransaction() {
		return phaseTxWrite
	}
	return phaseDirectWrite
}
