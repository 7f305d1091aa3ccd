package dataplane

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/openfroyo/haproxyctl/pkg/engine"
)

// transactionBody is the transaction object returned by the API. Depending
// on the API version the version field is called version or _version.
type transactionBody struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Version        *int64 `json:"version"`
	VersionPrivate *int64 `json:"_version"`
}

func (t transactionBody) version() int64 {
	v, _ := t.lookupVersion()
	return v
}

// lookupVersion reports the version and whether the body carried one.
func (t transactionBody) lookupVersion() (int64, bool) {
	if t.Version != nil {
		return *t.Version, true
	}
	if t.VersionPrivate != nil {
		return *t.VersionPrivate, true
	}
	return 0, false
}

func (t transactionBody) info() *engine.TransactionInfo {
	return &engine.TransactionInfo{ID: t.ID, Version: t.version(), Status: t.Status}
}

// OpenTransaction starts a transaction anchored to version.
func (cl *Client) OpenTransaction(ctx context.Context, version int64) (*engine.TransactionInfo, error) {
	c := call{
		method:    http.MethodPost,
		operation: "transaction.open",
		path:      "transactions",
		query:     url.Values{"version": []string{strconv.FormatInt(version, 10)}},
		phase:     phaseOpen,
	}
	return cl.transaction(ctx, c)
}

// CommitTransaction validates and applies a transaction.
func (cl *Client) CommitTransaction(ctx context.Context, id string, forceReload bool) (*engine.TransactionInfo, error) {
	c := call{
		method:    http.MethodPut,
		operation: "transaction.commit",
		path:      joinPath("transactions", id),
		query:     url.Values{"force_reload": []string{strconv.FormatBool(forceReload)}},
		resource:  id,
		phase:     phaseCommit,
	}
	return cl.transaction(ctx, c)
}

// DiscardTransaction deletes a transaction and its buffered writes.
func (cl *Client) DiscardTransaction(ctx context.Context, id string) error {
	_, err := cl.do(ctx, call{
		method:    http.MethodDelete,
		operation: "transaction.discard",
		path:      joinPath("transactions", id),
		resource:  id,
		phase:     phaseDiscard,
	})
	return err
}

// GetTransaction reads a transaction.
func (cl *Client) GetTransaction(ctx context.Context, id string) (*engine.TransactionInfo, error) {
	return cl.transaction(ctx, call{
		method:    http.MethodGet,
		operation: "transaction.get",
		path:      joinPath("transactions", id),
		resource:  id,
		phase:     phaseRead,
	})
}

// ListTransactions lists transactions, optionally filtered by status.
func (cl *Client) ListTransactions(ctx context.Context, status string) ([]engine.TransactionInfo, error) {
	c := call{method: http.MethodGet, operation: "transaction.list", path: "transactions", phase: phaseRead}
	if status != "" {
		c.query = url.Values{"status": []string{status}}
	}
	resp, err := cl.do(ctx, c)
	if err != nil {
		return nil, err
	}
	var bodies []transactionBody
	if err := decode(c, resp, &bodies); err != nil {
		return nil, err
	}
	out := make([]engine.TransactionInfo, 0, len(bodies))
	for _, b := range bodies {
		out = append(out, *b.info())
	}
	return out, nil
}

func (cl *Client) transaction(ctx context.Context, c call) (*engine.TransactionInfo, error) {
	resp, err := cl.do(ctx, c)
	if err != nil {
		return nil, err
	}
	var body transactionBody
	if err := decode(c, resp, &body); err != nil {
		return nil, err
	}
	if body.ID == "" {
		return nil, malformed(c, resp, errMissingID)
	}
	return body.info(), nil
}
