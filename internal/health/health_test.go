package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func ok(context.Context) error { return nil }

func failWith(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func serve(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_IgnoresCheckers(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "store", Check: failWith("down")})
	h.now = func() time.Time { return h.started.Add(90*time.Second + 300*time.Millisecond) }

	code, body := serve(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("got %d/%q, want 200/ok", code, body.Status)
	}
	if body.Uptime != "1m30s" {
		t.Errorf("uptime = %q, want %q", body.Uptime, "1m30s")
	}
	if body.Checks != nil {
		t.Errorf("checks = %v, want none", body.Checks)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		checkers []Checker
		wantCode int
		want     result
	}{
		{
			name:     "no checkers",
			wantCode: http.StatusOK,
			want:     result{Status: "ok", Checks: map[string]string{}},
		},
		{
			name:     "all pass",
			checkers: []Checker{{"store", ok}, {"discord", ok}},
			wantCode: http.StatusOK,
			want:     result{Status: "ok", Checks: map[string]string{"store": "ok", "discord": "ok"}},
		},
		{
			name:     "one fails",
			checkers: []Checker{{"store", failWith("connection refused")}, {"wsline", ok}},
			wantCode: http.StatusServiceUnavailable,
			want:     result{Status: "fail", Checks: map[string]string{"store": "fail: connection refused", "wsline": "ok"}},
		},
		{
			name:     "all fail",
			checkers: []Checker{{"store", failWith("timeout")}, {"discord", failWith("gateway closed")}},
			wantCode: http.StatusServiceUnavailable,
			want:     result{Status: "fail", Checks: map[string]string{"store": "fail: timeout", "discord": "fail: gateway closed"}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			code, body := serve(t, New(tc.checkers...), "/readyz")
			if code != tc.wantCode {
				t.Errorf("status = %d, want %d", code, tc.wantCode)
			}
			body.Uptime = ""
			if tc.want.Checks != nil && len(tc.want.Checks) == 0 {
				tc.want.Checks = nil
			}
			if diff := cmp.Diff(tc.want, body); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	waiting := func(context.Context) error {
		<-release
		return nil
	}
	h := New(
		Checker{Name: "a", Check: waiting},
		Checker{Name: "b", Check: func(context.Context) error {
			close(release)
			return nil
		}},
	)
	done := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		done <- rec.Code
	}()
	select {
	case code := <-done:
		if code != http.StatusOK {
			t.Errorf("status = %d, want 200", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("checks ran sequentially and deadlocked")
	}
}

func TestAdd_RegistersLateCheckers(t *testing.T) {
	t.Parallel()
	h := New()
	h.Add(Checker{Name: "discord", Check: failWith("not connected")})

	code, body := serve(t, h, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if got := body.Checks["discord"]; got != "fail: not connected" {
		t.Errorf("discord = %q", got)
	}
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPing(t *testing.T) {
	t.Parallel()
	_, body := serve(t, New(Ping("store", pinger{errors.New("closed")})), "/readyz")
	if got := body.Checks["store"]; got != "fail: closed" {
		t.Errorf("store = %q, want %q", got, "fail: closed")
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
