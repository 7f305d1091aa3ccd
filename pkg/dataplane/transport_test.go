package dataplane

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/h2non/gock"

	"github.com/openfroyo/haproxyctl/pkg/engine"
	"github.com/openfroyo/haproxyctl/pkg/model"
)

const gockBase = "http://dataplane.test:5555"

// timeoutError is a net.Error that reports a timeout.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func newGockClient(t *testing.T) *Client {
	t.Helper()
	httpClient := &http.Client{}
	gock.InterceptClient(httpClient)
	t.Cleanup(func() {
		gock.RestoreClient(httpClient)
		gock.OffAll()
	})

	cl, err := New(Config{BaseURL: gockBase, Username: testUser, Password: testPassword, HTTPClient: httpClient})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return cl
}

func TestTransportFailures(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), wantCode: engine.ErrCodeTransport},
		{name: "deadline", err: context.DeadlineExceeded, wantCode: engine.ErrCodeTimeout},
		{name: "net timeout", err: timeoutError{}, wantCode: engine.ErrCodeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl := newGockClient(t)
			gock.New(gockBase).
				Get(apiPrefix + "backends/b1").
				ReplyError(tt.err)

			read := cl.FetchResource(context.Background(), model.BackendKey("b1"))
			if read.Outcome != engine.ReadFailed {
				t.Fatalf("outcome = %s, want failed", read.Outcome)
			}
			var e *engine.EngineError
			if !errors.As(read.Err, &e) {
				t.Fatalf("error %v is not an EngineError", read.Err)
			}
			if e.Class != engine.ErrorClassTransport || e.Code != tt.wantCode {
				t.Errorf("error = %s/%s, want transport/%s", e.Class, e.Code, tt.wantCode)
			}
			if !engine.IsRetryable(read.Err) {
				t.Error("transport errors should be retryable")
			}
		})
	}
}

func TestMalformedBodies(t *testing.T) {
	ctx := context.Background()

	t.Run("resource", func(t *testing.T) {
		cl := newGockClient(t)
		gock.New(gockBase).Get(apiPrefix + "backends/b1").Reply(200).BodyString("<html>proxy</html>")

		read := cl.FetchResource(ctx, model.BackendKey("b1"))
		if !engine.IsTransport(read.Err) {
			t.Fatalf("want transport error, got %+v", read)
		}
		var e *engine.EngineError
		errors.As(read.Err, &e)
		if e.Code != engine.ErrCodeMalformedResponse || e.Body != "<html>proxy</html>" {
			t.Errorf("error = %+v", e)
		}
	})

	t.Run("wrong field type", func(t *testing.T) {
		cl := newGockClient(t)
		gock.New(gockBase).Get(apiPrefix + "backends/b1/servers/s1").Reply(200).
			JSON(map[string]any{"name": "s1", "address": "10.0.0.1", "port": "eighty"})

		read := cl.FetchResource(ctx, model.ServerKey(model.KindBackend, "b1", "s1"))
		if !engine.IsTransport(read.Err) {
			t.Errorf("want transport error, got %+v", read)
		}
	})

	t.Run("transaction without id", func(t *testing.T) {
		cl := newGockClient(t)
		gock.New(gockBase).Post(apiPrefix+"transactions").MatchParam("version", "4").
			Reply(201).JSON(map[string]any{"status": "in_progress"})

		_, err := cl.OpenTransaction(ctx, 4)
		if !engine.IsTransport(err) || !errors.Is(err, errMissingID) {
			t.Errorf("want malformed transaction error, got %v", err)
		}
	})

	t.Run("version", func(t *testing.T) {
		cl := newGockClient(t)
		gock.New(gockBase).Get(apiPrefix + "version").Reply(200).BodyString("latest")

		if _, err := cl.FetchVersion(ctx); !engine.IsTransport(err) {
			t.Errorf("want transport error, got %v", err)
		}
	})
}

func TestVersionObjectBody(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int64
	}{
		{"private field", `{"_version":12}`, 12},
		{"public field", `{"version":7}`, 7},
		{"wrapped zero", `{"_version":0}`, 0},
		{"plain zero", `0`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cl := newGockClient(t)
			gock.New(gockBase).Get(apiPrefix + "version").Reply(200).BodyString(tt.body)

			v, err := cl.FetchVersion(context.Background())
			if err != nil || v != tt.want {
				t.Errorf("FetchVersion = %d, %v, want %d", v, err, tt.want)
			}
		})
	}
}

func TestVersionBodyRejected(t *testing.T) {
	for _, body := range []string{`{}`, `{"_version":-1}`, `-1`} {
		t.Run(body, func(t *testing.T) {
			cl := newGockClient(t)
			gock.New(gockBase).Get(apiPrefix + "version").Reply(200).BodyString(body)

			if _, err := cl.FetchVersion(context.Background()); !engine.IsTransport(err) {
				t.Errorf("want transport error, got %v", err)
			}
		})
	}
}

func TestCommitRejectedTranslation(t *testing.T) {
	cl := newGockClient(t)
	gock.New(gockBase).Put(apiPrefix+"transactions/t1").MatchParam("force_reload", "false").
		Reply(400).JSON(map[string]any{"code": 400, "message": "invalid server address"})

	_, err := cl.CommitTransaction(context.Background(), "t1", false)
	var e *engine.EngineError
	if !errors.As(err, &e) || e.Class != engine.ErrorClassValidationFailed {
		t.Fatalf("want validation_failed, got %v", err)
	}
	if e.Message != "invalid server address" || e.StatusCode != 400 {
		t.Errorf("error = %+v", e)
	}
	if !gock.IsDone() {
		t.Error("commit request was not sent")
	}
}

func TestRequestHeaders(t *testing.T) {
	cl := newGockClient(t)
	gock.New(gockBase).Get(apiPrefix+"version").
		MatchHeader("Authorization", "^Basic ").
		MatchHeader(RequestIDHeader, "^[0-9a-f-]{36}$").
		MatchHeader("User-Agent", "^haproxyctl$").
		Reply(200).BodyString("3")

	if _, err := cl.FetchVersion(context.Background()); err != nil {
		t.Fatalf("FetchVersion failed: %v", err)
	}
	if !gock.IsDone() {
		t.Error("request did not carry the expected headers")
	}
}
