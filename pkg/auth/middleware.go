package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/navikt/bq-remote-functions/pkg/errs"
	"github.com/rs/zerolog"
)

type MiddlewareHandler func(http.Handler) http.Handler

type contextKey int

const ContextCallerKey contextKey = 1

func GetCaller(ctx context.Context) *Claims {
	caller, ok := ctx.Value(ContextCallerKey).(*Claims)
	if !ok {
		return nil
	}

	return caller
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")

	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		return "", false
	}

	return token, true
}

// Middleware rejects requests without a valid ID token. When allowedEmails
// is non-empty, the token must also belong to one of them.
func Middleware(verifier TokenVerifier, allowedEmails []string, log zerolog.Logger) MiddlewareHandler {
	const op errs.Op = "auth.Middleware"

	allowed := make(map[string]struct{}, len(allowedEmails))
	for _, e := range allowedEmails {
		allowed[strings.ToLower(e)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				errs.HTTPErrorResponse(w, log, errs.E(errs.Unauthenticated, op, fmt.Errorf("missing bearer token")))
				return
			}

			claims, err := verifier.Verify(r.Context(), token)
			if err != nil {
				errs.HTTPErrorResponse(w, log, errs.E(errs.Unauthenticated, op, err))
				return
			}

			if len(allowed) > 0 {
				_, ok := allowed[strings.ToLower(claims.Email)]
				if !ok || !claims.EmailVerified {
					errs.HTTPErrorResponse(w, log, errs.E(errs.Unauthorized, op, fmt.Errorf("caller %q is not allowed", claims.Email)))
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextCallerKey, claims)))
		})
	}
}
