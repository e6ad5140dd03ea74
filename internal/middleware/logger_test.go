package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	r := chi.NewRouter()
	r.Use(Logger(zap.New(core)))
	r.Get("/api/drawer/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})
	r.Get("/plain", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, tc := range []struct {
		path   string
		status int
	}{
		{path: "/api/drawer/42", status: http.StatusTeapot},
		{path: "/plain", status: http.StatusOK},
		{path: "/missing", status: http.StatusNotFound},
	} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		assert.Equal(t, tc.status, rec.Code, tc.path)
	}

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 3)

	fields := entries[0].ContextMap()
	assert.Equal(t, "/api/drawer/42", fields["uri"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, int64(15), fields["size"])

	assert.Equal(t, int64(http.StatusOK), entries[1].ContextMap()["status"])
	assert.Equal(t, int64(http.StatusNotFound), entries[2].ContextMap()["status"])
}
