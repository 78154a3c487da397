package bench

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/osvaldoandrade/pfmea/internal/middleware"
	"github.com/osvaldoandrade/pfmea/internal/stubbackend"
	"github.com/osvaldoandrade/pfmea/pkg/app"
	"github.com/osvaldoandrade/pfmea/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
)

func newBenchApp(b *testing.B) *app.Application {
	b.Helper()
	gin.SetMode(gin.ReleaseMode)

	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis start: %v", err)
	}
	b.Cleanup(mr.Close)

	backend := httptest.NewServer(stubbackend.NewEngine(stubbackend.Config{}))
	b.Cleanup(backend.Close)

	cfg := &config.Config{
		Port:                  8080,
		RedisAddr:             mr.Addr(),
		APIBaseURL:            backend.URL,
		RequestTimeoutSeconds: 5,
		LocalArtifactsDir:     b.TempDir(),
		SessionTTLSeconds:     3600,
		MaxUploadBytes:        1 << 20,
		Timezone:              "UTC",
		LogLevel:              "error",
		LogFormat:             "json",
		Env:                   "dev",

		// Benchmarks keep rate limiting disabled.
		RateLimit: config.RateLimitConfig{},
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		b.Fatalf("new application: %v", err)
	}
	app.SetupMappings(application)
	b.Cleanup(func() {
		application.Sessions.Wait()
		_ = application.Redis.Close()
	})
	return application
}

// sessionCookie performs one request to obtain a session cookie.
func sessionCookie(b *testing.B, engine http.Handler) *http.Cookie {
	b.Helper()
	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			return c
		}
	}
	b.Fatalf("no session cookie issued")
	return nil
}

func BenchmarkHTTPState(b *testing.B) {
	application := newBenchApp(b)
	cookie := sessionCookie(b, application.Engine)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/state", nil)
		req.Header.Set("Accept", "application/json")
		req.AddCookie(cookie)
		w := httptest.NewRecorder()
		application.Engine.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			b.Fatalf("state status=%d body=%s", w.Code, w.Body.String())
		}
	}
}

func BenchmarkHTTPSubmitValidation(b *testing.B) {
	application := newBenchApp(b)
	cookie := sessionCookie(b, application.Engine)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("country", "France")
	_ = mw.WriteField("pfmeaType", "Pre-Launch PFMEA")
	_ = mw.Close()
	body := buf.Bytes()
	contentType := mw.FormDataContentType()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodPost, "/submit", bytes.NewReader(body))
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		req.AddCookie(cookie)
		w := httptest.NewRecorder()
		application.Engine.ServeHTTP(w, req)
		if w.Code != http.StatusUnprocessableEntity {
			b.Fatalf("submit status=%d body=%s", w.Code, w.Body.String())
		}
	}
}

func BenchmarkHTTPOptions(b *testing.B) {
	application := newBenchApp(b)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/options", nil)
		w := httptest.NewRecorder()
		application.Engine.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			b.Fatalf("options status=%d", w.Code)
		}
	}
}
