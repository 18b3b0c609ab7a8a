package menu

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/mise-platform/mise/internal/rbac"
)

func newTestRouter(svc *Service) http.Handler {
	mw := rbac.Middleware{Gate: rbac.NewHeaderGate()}
	h := NewHandler(nil, svc, mw)
	r := chi.NewRouter()
	r.Use(mw.Authenticate)
	r.Route("/menu", h.MountMenuRoutes)
	r.Route("/eighty-six", h.MountEightySixRoutes)
	return r
}

func TestHandlerManualEightySixFlow(t *testing.T) {
	repo := burgerRepo("5")
	dispatcher := &recordingDispatcher{}
	router := newTestRouter(NewService(repo, newTestManager(repo, nil), dispatcher))

	req := httptest.NewRequest(http.MethodPost, "/eighty-six", strings.NewReader(`{"menuItemId":1,"reason":"out of patties"}`))
	req.Header.Set("X-Staff-Roles", "kitchen")
	req.Header.Set("X-Staff-ID", "7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/menu/1/availability", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var avail availabilityResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &avail))
	require.False(t, avail.EffectiveAvailability)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/eighty-six", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []Entry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, int64(7), *entries[0].CreatedBy)

	req = httptest.NewRequest(http.MethodPost, "/eighty-six", strings.NewReader(`{"menuItemId":1,"reason":"dup"}`))
	req.Header.Set("X-Staff-Roles", "manager")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusConflict, rr.Code)

	req = httptest.NewRequest(http.MethodDelete, "/eighty-six/1", nil)
	req.Header.Set("X-Staff-Roles", "manager")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, repo.active())
}

func TestHandlerGuards(t *testing.T) {
	repo := burgerRepo("5")
	router := newTestRouter(NewService(repo, newTestManager(repo, nil), nil))

	req := httptest.NewRequest(http.MethodPost, "/eighty-six", strings.NewReader(`{"menuItemId":1,"reason":"x"}`))
	req.Header.Set("X-Staff-Roles", "server")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/eighty-six", strings.NewReader(`{"menuItemId":1}`))
	req.Header.Set("X-Staff-Roles", "manager")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/menu/99/availability", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/menu/1/evaluation", nil)
	req.Header.Set("X-Staff-Roles", "kitchen")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}
