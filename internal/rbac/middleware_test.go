package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderGateResolvesStaff(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Staff-ID", "42")
	req.Header.Set("X-Staff-Roles", " Manager, kitchen,,manager ")

	staff, err := NewHeaderGate().Resolve(req)
	require.NoError(t, err)
	require.NotNil(t, staff.ID)
	require.Equal(t, int64(42), *staff.ID)
	require.Equal(t, []string{"manager", "kitchen"}, staff.Roles)
}

func TestHeaderGateIgnoresMalformedID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Staff-ID", "abc")

	staff, err := NewHeaderGate().Resolve(req)
	require.NoError(t, err)
	require.Nil(t, staff.ID)
	require.Empty(t, staff.Roles)
}

func TestRequireAny(t *testing.T) {
	mw := Middleware{Gate: NewHeaderGate()}
	handler := mw.Authenticate(mw.RequireAny(RoleManager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	cases := []struct {
		roles string
		want  int
	}{
		{roles: "", want: http.StatusForbidden},
		{roles: "server", want: http.StatusForbidden},
		{roles: "server,MANAGER", want: http.StatusNoContent},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-Staff-Roles", tc.roles)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, tc.want, rr.Code, "roles=%q", tc.roles)
	}
}

func TestNilGateAllowsEverything(t *testing.T) {
	mw := Middleware{}
	handler := mw.Authenticate(mw.RequireAny(RoleManager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
}
