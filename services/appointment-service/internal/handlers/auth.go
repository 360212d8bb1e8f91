package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/mvasconcelos/agendai/libs/auth"
	"github.com/mvasconcelos/agendai/libs/httpx"
)

type ctxKey int

const ctxKeyUserID ctxKey = iota

func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKeyUserID).(int64)
	return id, ok
}

// RequireUser authenticates the Bearer session token and puts the
// requester id in the request context. Token issuance lives upstream.
func RequireUser(secret string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			if header == "" {
				httpx.WriteError(w, http.StatusUnauthorized, "token not provided")
				return
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				httpx.WriteError(w, http.StatusUnauthorized, "token invalid")
				return
			}

			claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(token), secret)
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, "token invalid")
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, "token invalid")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
