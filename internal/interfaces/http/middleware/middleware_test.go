package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"repo-source-web/pkg/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func TestLoggerCarriesRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := logger.Replace(zap.New(core))
	defer restore()

	r := gin.New()
	r.Use(RequestID(), Logger())
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bad", func(c *gin.Context) { c.Status(http.StatusConflict) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	testCases := []struct {
		Path      string
		RequestID string
		Level     zapcore.Level
	}{
		{"/ok", "req-1", zapcore.InfoLevel},
		{"/bad", "req-2", zapcore.WarnLevel},
		{"/boom", "req-3", zapcore.ErrorLevel},
	}
	for _, tc := range testCases {
		req := httptest.NewRequest(http.MethodGet, tc.Path, nil)
		req.Header.Set(requestIDHeader, tc.RequestID)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if got := w.Header().Get(requestIDHeader); got != tc.RequestID {
			t.Errorf("%s: response request id = %q, want %q", tc.Path, got, tc.RequestID)
		}
	}

	var got []string
	for _, entry := range logs.All() {
		fields := entry.ContextMap()
		if entry.Level != testCases[len(got)].Level {
			t.Errorf("%v: level = %v, want %v", fields["path"], entry.Level, testCases[len(got)].Level)
		}
		got = append(got, fields["request_id"].(string))
	}
	if diff := cmp.Diff([]string{"req-1", "req-2", "req-3"}, got); diff != "" {
		t.Errorf("logged request ids (-want +got):\n%s", diff)
	}
}

func TestRequestIDGenerated(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/", func(c *gin.Context) { seen = c.GetString(RequestIDKey) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || w.Header().Get(requestIDHeader) != seen {
		t.Errorf("generated request id = %q, header = %q", seen, w.Header().Get(requestIDHeader))
	}
}
