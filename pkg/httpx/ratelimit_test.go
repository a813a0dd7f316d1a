package httpx_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/gatekeeper/pkg/httpx"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func hit(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "remote addr", want: "192.0.2.10"},
		{name: "first forwarded hop", headers: map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.1"}, want: "203.0.113.1"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": " 203.0.113.2 "}, want: "203.0.113.2"},
		{name: "empty forwarded falls through", headers: map[string]string{"X-Forwarded-For": " ,10.0.0.1"}, want: "192.0.2.10"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.0.2.10:5555"
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			require.Equal(t, tc.want, httpx.ClientIP(req))
		})
	}
}

func TestJSONFieldKey(t *testing.T) {
	t.Run("folds case and restores body", func(t *testing.T) {
		body := `{"identifier":" Alice@Example.com ","secret":"x"}`
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))

		require.Equal(t, "alice@example.com", httpx.JSONFieldKey("identifier")(req))

		rest, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.Equal(t, body, string(rest))
	})

	for name, body := range map[string]string{
		"missing field": `{"other":"x"}`,
		"non-string":    `{"identifier":42}`,
		"not json":      `identifier=alice`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
			require.Empty(t, httpx.JSONFieldKey("identifier")(req))
		})
	}
}

func TestJoinKeys(t *testing.T) {
	static := func(s string) httpx.KeyFunc { return func(*http.Request) string { return s } }
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	require.Equal(t, "a:b", httpx.JoinKeys(":", static("a"), static(""), static("b"))(req))
	require.Empty(t, httpx.JoinKeys(":", static(""))(req))
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := httpx.RateLimitConfig{RequestsPerWindow: 2, Window: time.Hour, Burst: 2}

	t.Run("blocks once the burst is spent", func(t *testing.T) {
		h := httpx.RateLimitByIP(cfg)(okHandler)

		require.Equal(t, http.StatusNoContent, hit(h, "192.0.2.1:1").Code)
		require.Equal(t, http.StatusNoContent, hit(h, "192.0.2.1:2").Code)

		rec := hit(h, "192.0.2.1:3")
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.Contains(t, rec.Body.String(), `"rate_limit_exceeded"`)
		require.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))

		// One token refills every 30 minutes.
		retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
		require.NoError(t, err)
		require.InDelta(t, 1800, retry, 5)
	})

	t.Run("keys are independent", func(t *testing.T) {
		h := httpx.RateLimitByIP(cfg)(okHandler)

		for range 2 {
			hit(h, "192.0.2.1:1")
		}
		require.Equal(t, http.StatusTooManyRequests, hit(h, "192.0.2.1:1").Code)
		require.Equal(t, http.StatusNoContent, hit(h, "192.0.2.2:1").Code)
	})

	t.Run("empty key is not limited", func(t *testing.T) {
		h := httpx.RateLimitMiddleware(cfg, func(*http.Request) string { return "" })(okHandler)

		for range 5 {
			require.Equal(t, http.StatusNoContent, hit(h, "192.0.2.1:1").Code)
		}
	})
}

func TestRateLimitByIPAndJSONField(t *testing.T) {
	cfg := httpx.RateLimitConfig{RequestsPerWindow: 1, Window: time.Hour, Burst: 1}
	var seen []string
	h := httpx.RateLimitByIPAndJSONField(cfg, "identifier")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = append(seen, string(b))
		w.WriteHeader(http.StatusNoContent)
	}))

	post := func(identifier string) int {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"identifier":"`+identifier+`"}`))
		req.RemoteAddr = "192.0.2.1:1"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusNoContent, post("alice"))
	require.Equal(t, http.StatusTooManyRequests, post("ALICE"))
	require.Equal(t, http.StatusNoContent, post("bob"))
	require.Equal(t, []string{`{"identifier":"alice"}`, `{"identifier":"bob"}`}, seen)
}

func TestLimitFromEnv(t *testing.T) {
	def := httpx.RateLimitConfig{RequestsPerWindow: 10, Window: time.Minute, Burst: 10}

	t.Run("defaults", func(t *testing.T) {
		require.Equal(t, def, httpx.LimitFromEnv("GKTEST", def))
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("RATELIMIT_GKTEST_REQUESTS", "50")
		t.Setenv("RATELIMIT_GKTEST_WINDOW_SEC", "30")
		t.Setenv("RATELIMIT_GKTEST_BURST", "70")

		require.Equal(t, httpx.RateLimitConfig{RequestsPerWindow: 50, Window: 30 * time.Second, Burst: 70},
			httpx.LimitFromEnv("GKTEST", def))
	})

	t.Run("bad values keep defaults", func(t *testing.T) {
		t.Setenv("RATELIMIT_GKTEST_REQUESTS", "lots")
		t.Setenv("RATELIMIT_GKTEST_WINDOW_SEC", "-5")
		t.Setenv("RATELIMIT_GKTEST_BURST", "0")

		require.Equal(t, def, httpx.LimitFromEnv("GKTEST", def))
	})
}

func BenchmarkRateLimitManyIPs(b *testing.B) {
	h := httpx.RateLimitByIP(httpx.RateLimitConfig{RequestsPerWindow: 1000, Window: time.Second, Burst: 1000})(okHandler)

	for i := 0; b.Loop(); i++ {
		hit(h, "10.0."+strconv.Itoa(i/256%256)+"."+strconv.Itoa(i%256)+":1")
	}
}
