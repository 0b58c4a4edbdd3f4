package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/equipment-manuals/internal/id/uuid"
)

type sessionKey struct{}

// sessionMiddleware attaches the session id from the cookie, issuing a new
// HTTP-only cookie when it is missing or malformed.
func (s *Server) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sid string
		if c, err := r.Cookie(s.cfg.CookieName); err == nil && uuid.Valid(c.Value) {
			sid = c.Value
		} else {
			tok, err := s.deps.IDs.NewToken()
			if err != nil {
				s.logger.Error("session token", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "could not start session")
				return
			}
			sid = tok
			http.SetCookie(w, &http.Cookie{
				Name:     s.cfg.CookieName,
				Value:    sid,
				Path:     "/",
				HttpOnly: true,
				Secure:   s.cfg.CookieSecure,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sid)))
	})
}

func sessionID(ctx context.Context) string {
	sid, _ := ctx.Value(sessionKey{}).(string)
	return sid
}
