package rbac

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// Gate resolves the caller behind a request.
type Gate interface {
	Resolve(r *http.Request) (Staff, error)
}

// HeaderGate trusts identity headers set by the upstream gateway.
type HeaderGate struct {
	IDHeader    string
	RolesHeader string
}

// NewHeaderGate returns a gate reading X-Staff-ID and X-Staff-Roles.
func NewHeaderGate() HeaderGate {
	return HeaderGate{IDHeader: "X-Staff-ID", RolesHeader: "X-Staff-Roles"}
}

// Resolve implements Gate. A malformed id is ignored, roles are lower-cased.
func (g HeaderGate) Resolve(r *http.Request) (Staff, error) {
	var s Staff
	if raw := strings.TrimSpace(r.Header.Get(g.IDHeader)); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			s.ID = &id
		}
	}
	s.Roles = normalizeRoles(strings.Split(r.Header.Get(g.RolesHeader), ","))
	return s, nil
}

// Middleware wires RBAC authorization helpers for HTTP handlers. A nil Gate
// lets every request through.
type Middleware struct {
	Gate   Gate
	Logger *slog.Logger
}

// Authenticate resolves the caller and stores it on the request context.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Gate == nil {
			next.ServeHTTP(w, r)
			return
		}
		staff, err := m.Gate.Resolve(r)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("rbac resolve", slog.Any("error", err))
			}
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithStaff(r.Context(), staff)))
	})
}

// RequireAny ensures the caller holds at least one of the roles.
func (m Middleware) RequireAny(roles ...string) func(http.Handler) http.Handler {
	normalized := normalizeRoles(roles)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.Gate == nil || len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			if StaffFromContext(r.Context()).HasAny(normalized...) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// Roles returns the caller's roles, for audience filtering.
func Roles(r *http.Request) []string {
	return StaffFromContext(r.Context()).Roles
}

// ActorID returns the caller's staff id, if any.
func ActorID(r *http.Request) *int64 {
	return StaffFromContext(r.Context()).ID
}

func normalizeRoles(roles []string) []string {
	unique := make(map[string]struct{}, len(roles))
	normalized := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := unique[role]; ok {
			continue
		}
		unique[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
