package ingress

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compozy/relay/engine/executor"
	"github.com/compozy/relay/engine/slot"
	"github.com/compozy/relay/engine/webhook"
	"github.com/compozy/relay/engine/workflow"
	"github.com/compozy/relay/pkg/logger"
)

const testSecret = "s3cr3t"

// fakeRunner records runs and blocks each one until release is closed.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []workflow.RunRequest
	paths   []string
	started chan struct{}
	release chan struct{}
}

func newFakeRunner(block bool) *fakeRunner {
	r := &fakeRunner{started: make(chan struct{}, 8), release: make(chan struct{})}
	if !block {
		close(r.release)
	}
	return r
}

func (r *fakeRunner) Execute(ctx context.Context, path string, req workflow.RunRequest) executor.Result {
	r.mu.Lock()
	r.calls = append(r.calls, req)
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	r.started <- struct{}{}
	select {
	case <-r.release:
	case <-ctx.Done():
		return executor.Result{RunID: req.RunID(), Status: executor.StatusFailure, Err: ctx.Err()}
	}
	return executor.Result{RunID: req.RunID(), Workflow: req.WorkflowRef(), Status: executor.StatusSuccess}
}

func (r *fakeRunner) lastCall(t *testing.T) (string, workflow.RunRequest) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.calls)
	return r.paths[len(r.paths)-1], r.calls[len(r.calls)-1]
}

type harness struct {
	srv    *Server
	runner *fakeRunner
	done   chan executor.Result
}

func newHarness(t *testing.T, block bool, mutate ...func(*Config)) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/flows/deploy.json", []byte(`{"steps":[]}`), 0o644))
	cfg := Config{Secret: []byte(testSecret)}
	for _, m := range mutate {
		m(&cfg)
	}
	h := &harness{runner: newFakeRunner(block), done: make(chan executor.Result, 8)}
	srv, err := NewServer(cfg, workflow.NewResolver(fs, "/flows"), h.runner,
		WithLogger(logger.NewLogger(logger.TestConfig())),
		WithRunObserver(func(res executor.Result) { h.done <- res }),
	)
	require.NoError(t, err)
	h.srv = srv
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return h
}

func (h *harness) post(body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.HeaderGitHubSignature, webhook.Sign([]byte(body), []byte(testSecret)))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func (h *harness) waitRun(t *testing.T) executor.Result {
	t.Helper()
	select {
	case res := <-h.done:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
		return executor.Result{}
	}
}

func errorOf(w *httptest.ResponseRecorder) string {
	return gjson.Get(w.Body.String(), "error").String()
}

func TestServer_Trigger(t *testing.T) {
	t.Run("Should start a run for a signed request", func(t *testing.T) {
		h := newHarness(t, false)

		w := h.post(`{"workflow":"deploy"}`)

		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"started","workflow":"deploy"}`, w.Body.String())
		res := h.waitRun(t)
		assert.Equal(t, executor.StatusSuccess, res.Status)
		path, req := h.runner.lastCall(t)
		assert.Equal(t, "/flows/deploy.json", path)
		assert.Equal(t, "deploy", req.WorkflowRef())
		assert.Equal(t, workflow.GateModeFail, req.GateMode())
		assert.Equal(t, w.Header().Get(HeaderRunID), req.RunID())
		assert.NotEmpty(t, req.RunID())
	})

	t.Run("Should return 404 when the workflow file is absent", func(t *testing.T) {
		h := newHarness(t, false)

		w := h.post(`{"workflow":"release"}`)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error":"Workflow not found: release"}`, w.Body.String())
		assert.False(t, h.srv.Busy())
	})

	t.Run("Should return 400 for malformed JSON with a valid signature", func(t *testing.T) {
		h := newHarness(t, false)

		w := h.post(`{"workflow":`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, msgInvalidJSON, errorOf(w))
	})

	t.Run("Should return 401 for a bad signature even with a valid body", func(t *testing.T) {
		h := newHarness(t, false)

		w := h.post(`{"workflow":"deploy"}`, webhook.HeaderGitHubSignature, webhook.Sign([]byte("other"), []byte(testSecret)))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, msgInvalidSignature, errorOf(w))
	})

	t.Run("Should return 401 when the signature is missing", func(t *testing.T) {
		h := newHarness(t, false)

		w := h.post(`{"workflow":"deploy"}`, webhook.HeaderGitHubSignature, "")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Should reject traversal and absolute names with 400", func(t *testing.T) {
		h := newHarness(t, false)
		for _, name := range []string{"../deploy", "/flows/deploy", "..", "deploy.json", ""} {
			w := h.post(`{"workflow":"` + name + `"}`)
			assert.Equal(t, http.StatusBadRequest, w.Code, name)
			assert.Equal(t, msgInvalidName, errorOf(w), name)
		}
	})

	t.Run("Should reject a missing or non-string workflow field", func(t *testing.T) {
		h := newHarness(t, false)
		for _, body := range []string{`{}`, `{"workflow":7}`, `null`} {
			w := h.post(body)
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
			assert.Equal(t, msgInvalidName, errorOf(w), body)
		}
	})

	t.Run("Should reject other methods with 405", func(t *testing.T) {
		h := newHarness(t, false)
		req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		w := httptest.NewRecorder()

		h.srv.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
		assert.JSONEq(t, `{"error":"Method not allowed"}`, w.Body.String())
	})

	t.Run("Should reject non-POST methods on any path with 405", func(t *testing.T) {
		h := newHarness(t, false)
		for _, tc := range []struct{ method, path string }{
			{http.MethodGet, "/hook"},
			{http.MethodPut, "/x"},
			{http.MethodDelete, "/"},
		} {
			req := httptest.NewRequest(tc.method, tc.path, http.NoBody)
			w := httptest.NewRecorder()

			h.srv.Handler().ServeHTTP(w, req)

			assert.Equal(t, http.StatusMethodNotAllowed, w.Code, tc.method+" "+tc.path)
			assert.JSONEq(t, `{"error":"Method not allowed"}`, w.Body.String())
		}
	})

	t.Run("Should answer 404 for POST to other paths", func(t *testing.T) {
		h := newHarness(t, false)
		req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(`{}`))
		w := httptest.NewRecorder()

		h.srv.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Should return 413 for bodies above the ceiling", func(t *testing.T) {
		h := newHarness(t, false, func(c *Config) { c.MaxBody = 64 })
		body := `{"workflow":"deploy","pad":"` + strings.Repeat("x", 128) + `"}`

		w := h.post(body)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, msgTooLarge, errorOf(w))
		assert.Equal(t, "close", w.Header().Get("Connection"))
	})

	t.Run("Should return 413 when the length is unknown upfront", func(t *testing.T) {
		h := newHarness(t, false, func(c *Config) { c.MaxBody = 64 })
		body := strings.Repeat("x", 128)
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.ContentLength = -1
		w := httptest.NewRecorder()

		h.srv.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("Should reject a second trigger while busy and accept after completion", func(t *testing.T) {
		h := newHarness(t, true)

		first := h.post(`{"workflow":"deploy"}`)
		require.Equal(t, http.StatusOK, first.Code)
		<-h.runner.started
		assert.True(t, h.srv.Busy())

		second := h.post(`{"workflow":"deploy"}`)
		assert.Equal(t, http.StatusTooManyRequests, second.Code)
		assert.JSONEq(t, `{"error":"Execution in progress"}`, second.Body.String())

		close(h.runner.release)
		h.waitRun(t)
		assert.False(t, h.srv.Busy())

		third := h.post(`{"workflow":"deploy"}`)
		assert.Equal(t, http.StatusOK, third.Code)
		h.waitRun(t)
	})

	t.Run("Should merge event and body variables", func(t *testing.T) {
		h := newHarness(t, false, func(c *Config) { c.Mock = true; c.GateMode = workflow.GateModeAuto })
		body := `{"workflow":"deploy","ref":"refs/heads/main","variables":{"github_ref":"override","env":"prod"}}`

		w := h.post(body, webhook.HeaderGitHubEvent, webhook.EventPush)

		require.Equal(t, http.StatusOK, w.Code)
		h.waitRun(t)
		_, req := h.runner.lastCall(t)
		vars := req.Variables()
		assert.Equal(t, "override", vars["github_ref"])
		assert.Equal(t, "prod", vars["env"])
		assert.Equal(t, webhook.EventPush, vars["github_event"])
		assert.True(t, req.MockMode())
		assert.Equal(t, workflow.GateModeAuto, req.GateMode())
	})

	t.Run("Should release the slot when the runner panics", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/flows/deploy.json", []byte(`{}`), 0o644))
		done := make(chan executor.Result, 1)
		gate := slot.New()
		panicky := runnerFunc(func(context.Context, string, workflow.RunRequest) executor.Result {
			panic("boom")
		})
		srv, err := NewServer(Config{Secret: []byte(testSecret)}, workflow.NewResolver(fs, "/flows"), panicky,
			WithSlot(gate),
			WithLogger(logger.NewLogger(logger.TestConfig())),
			WithRunObserver(func(res executor.Result) { done <- res }),
		)
		require.NoError(t, err)
		body := `{"workflow":"deploy"}`
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set(webhook.HeaderGitHubSignature, webhook.Sign([]byte(body), []byte(testSecret)))
		w := httptest.NewRecorder()

		srv.Handler().ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		res := <-done
		assert.Equal(t, executor.StatusFailure, res.Status)
		assert.False(t, gate.Busy())
	})
}

type runnerFunc func(ctx context.Context, path string, req workflow.RunRequest) executor.Result

func (f runnerFunc) Execute(ctx context.Context, path string, req workflow.RunRequest) executor.Result {
	return f(ctx, path, req)
}

func TestNewServer(t *testing.T) {
	resolver := workflow.NewResolver(afero.NewMemMapFs(), "/flows")
	runner := newFakeRunner(false)

	t.Run("Should require a secret", func(t *testing.T) {
		_, err := NewServer(Config{}, resolver, runner)
		assert.ErrorContains(t, err, "secret is required")
	})

	t.Run("Should refuse non-loopback hosts", func(t *testing.T) {
		_, err := NewServer(Config{Secret: []byte("x"), Host: "0.0.0.0"}, resolver, runner)
		assert.ErrorContains(t, err, "loopback")
	})

	t.Run("Should apply defaults", func(t *testing.T) {
		srv, err := NewServer(Config{Secret: []byte("x"), Port: 9480}, resolver, runner)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9480", srv.Addr())
		assert.Equal(t, webhook.DefaultMaxBody, srv.cfg.MaxBody)
		assert.Equal(t, workflow.GateModeFail, srv.cfg.GateMode)
	})
}

func TestServer_Shutdown(t *testing.T) {
	t.Run("Should wait for the in-flight run", func(t *testing.T) {
		h := newHarness(t, true)
		require.Equal(t, http.StatusOK, h.post(`{"workflow":"deploy"}`).Code)
		<-h.runner.started

		go func() {
			time.Sleep(20 * time.Millisecond)
			close(h.runner.release)
		}()
		err := h.srv.Shutdown(context.Background())

		require.NoError(t, err)
		assert.Equal(t, executor.StatusSuccess, h.waitRun(t).Status)
	})

	t.Run("Should cancel the run when the deadline passes", func(t *testing.T) {
		h := newHarness(t, true)
		require.Equal(t, http.StatusOK, h.post(`{"workflow":"deploy"}`).Code)
		<-h.runner.started
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := h.srv.Shutdown(ctx)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, executor.StatusFailure, h.waitRun(t).Status)
	})

	t.Run("Should serve on a listener until the context ends", func(t *testing.T) {
		h := newHarness(t, false)
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		ln, err := (&net.ListenConfig{}).Listen(context.Background(), "tcp", "127.0.0.1:0")
		require.NoError(t, err)
		go func() { errCh <- h.srv.Serve(ctx, ln) }()

		body := `{"workflow":"deploy"}`
		req, err := http.NewRequest(http.MethodPost, "http://"+ln.Addr().String()+"/", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set(webhook.HeaderGitHubSignature, webhook.Sign([]byte(body), []byte(testSecret)))
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		h.waitRun(t)

		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("server did not stop")
		}
	})
}
