package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/or-scheduler/internal/booking"
	"github.com/wolfman30/or-scheduler/internal/mockbackend"
	"github.com/wolfman30/or-scheduler/internal/refdata"
	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

type brokenRefs struct{}

func (brokenRefs) Centers(context.Context) ([]scheduling.Center, error) {
	return nil, errors.New("upstream down")
}

func (brokenRefs) Rooms(context.Context, int64) ([]scheduling.Room, error) {
	return nil, errors.New("upstream down")
}

func referenceRouter(refs referenceSource) chi.Router {
	h := NewReferenceHandler(refs, logging.Discard())
	r := chi.NewRouter()
	r.Get("/api/reference/centers", h.Centers)
	r.Get("/api/reference/rooms", h.Rooms)
	return r
}

func TestReferenceCentersAndRooms(t *testing.T) {
	backend := mockbackend.New(booking.NewIDRegistry(), logging.Discard())
	r := referenceRouter(refdata.New(backend, logging.Discard()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reference/centers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	centers := decode[map[string][]scheduling.Center](t, rec)["centers"]
	require.Len(t, centers, 5)
	assert.Equal(t, int64(100), centers[0].ID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reference/rooms?center_id=101", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]scheduling.Room](t, rec)["rooms"], 2)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reference/rooms?center_id=x", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReferenceUpstreamFailure(t *testing.T) {
	r := referenceRouter(brokenRefs{})

	for _, path := range []string{"/api/reference/centers", "/api/reference/rooms"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadGateway, rec.Code, path)
	}
}
