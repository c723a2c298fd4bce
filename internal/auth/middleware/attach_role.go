package auth

import (
	"context"
	"net/http"

	"github.com/mind-engage/iti-mocktest/internal/docstore"
	"github.com/mind-engage/iti-mocktest/internal/rbac"
)

// RoleLookup resolves the authoritative role of a user.
type RoleLookup func(ctx context.Context, userID string) (string, error)

// ProfileRoles reads the role attribute of the user's profile document.
func ProfileRoles(store docstore.Store, collection string) RoleLookup {
	return func(ctx context.Context, userID string) (string, error) {
		page, err := store.List(ctx, collection, docstore.Query{
			Filters: []docstore.Filter{docstore.Equal("userId", userID)},
			Select:  []string{"role"},
			Limit:   1,
		})
		if err != nil {
			return "", err
		}
		if len(page.Documents) == 0 {
			return "", nil
		}
		role, _ := page.Documents[0].Data["role"].(string)
		return role, nil
	}
}

// AttachRole replaces the token role with the profile role. Users without a
// profile keep their claim role when allowClaimFallback is set (offline/dev);
// in production they are refused. API-key callers are never looked up.
func AttachRole(lookup RoleLookup, allowClaimFallback bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sub := SubjectFromContext(ctx)
			claimRole := rbac.RoleFromContext(ctx)
			if claimRole == "admin" && sub == "server" {
				next.ServeHTTP(w, r)
				return
			}

			role, err := lookup(ctx, sub)
			switch {
			case err == nil && role != "":
				next.ServeHTTP(w, r.WithContext(rbac.WithRole(ctx, role)))
			case allowClaimFallback && claimRole != "":
				// dev tokens for users that have no profile yet
				next.ServeHTTP(w, r)
			default:
				http.Error(w, "forbidden", http.StatusForbidden)
			}
		})
	}
}
