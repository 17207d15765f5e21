package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"sigscan/internal/engine"
	"sigscan/internal/market"

	"go.uber.org/zap"
)

func newRouter(t *testing.T) *engine.Engine {
	t.Helper()
	e := engine.New(map[market.Exchange]engine.Venue{}, nil, nil, nil, nil, zap.NewNop(), engine.Options{})
	t.Cleanup(e.Close)
	return e
}

// go test -v --run TestHealthEndpoints
func TestHealthEndpoints(t *testing.T) {
	e := newRouter(t)
	router := NewRouter(e, zap.NewNop())

	for _, path := range []string{"/", "/healthz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, rec.Code)
		}
		var body struct {
			Status string `json:"status"`
			Topics int    `json:"topics"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
		if body.Status != "ok" || body.Topics != 0 {
			t.Fatalf("GET %s body = %+v", path, body)
		}
	}
}
