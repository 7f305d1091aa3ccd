package dataplane

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/openfroyo/haproxyctl/pkg/engine"
	"github.com/openfroyo/haproxyctl/pkg/model"
)

const configurationPrefix = "services/haproxy/configuration"

// endpoint joins the base URL, API version, configuration prefix and path.
func (cl *Client) endpoint(path string, query url.Values) string {
	u := *cl.base
	escaped := strings.TrimRight(u.EscapedPath(), "/") + "/" + cl.apiVersion + "/" + configurationPrefix + "/" + path
	if unescaped, err := url.PathUnescape(escaped); err == nil {
		u.Path = unescaped
		u.RawPath = escaped
	} else {
		u.Path = escaped
		u.RawPath = ""
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	} else {
		u.RawQuery = ""
	}
	return u.String()
}

func joinPath(segments ...string) string {
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	return strings.Join(escaped, "/")
}

// collectionPath returns the path listing resources of key's kind, e.g.
// "backends" or "backends/b1/servers".
func collectionPath(kind model.Kind, parent *model.ParentRef) string {
	if kind == model.KindServer && parent != nil {
		return joinPath(parent.Kind.Collection(), parent.Name) + "/" + kind.Collection()
	}
	return kind.Collection()
}

// resourcePath returns the path of a single resource.
func resourcePath(key model.Key) string {
	return collectionPath(key.Kind, key.Parent) + "/" + url.PathEscape(key.Name)
}

// writeTarget places the write scope into the path or query.
func (cl *Client) writeTarget(path string, scope engine.WriteScope) (string, url.Values) {
	q := url.Values{}
	if scope.InTransaction() {
		if cl.style == TransactionInQuery {
			q.Set("transaction_id", scope.TransactionID)
			return path, q
		}
		return path + "/" + url.PathEscape(scope.TransactionID), nil
	}
	q.Set("version", strconv.FormatInt(scope.Version, 10))
	q.Set("force_reload", strconv.FormatBool(scope.ForceReload))
	return path, q
}
