package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

type contextKey string

const (
	AccountKey contextKey = "account"
	APIKeyKey  contextKey = "api_key"
	WorkerKey  contextKey = "worker"
)

var publicPaths = map[string]struct{}{
	"/health":  {},
	"/ready":   {},
	"/live":    {},
	"/metrics": {},
}

// APIKeyAuth validates API key from Authorization header. validKeys maps api key -> account id.
func APIKeyAuth(validKeys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := publicPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			apiKey, msg := bearerKey(r)
			if msg != "" {
				http.Error(w, msg, http.StatusUnauthorized)
				return
			}

			// constant-time comparison
			var account string
			for key, acc := range validKeys {
				if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
					account = acc
					break
				}
			}
			if account == "" {
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), AccountKey, account)
			ctx = context.WithValue(ctx, APIKeyKey, apiKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WorkerKeyAuth guards the analysis worker endpoints. Tenant API keys are not accepted here,
// only the dedicated worker keys. An empty key set rejects every request.
func WorkerKeyAuth(workerKeys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, msg := bearerKey(r)
			if msg != "" {
				http.Error(w, msg, http.StatusUnauthorized)
				return
			}

			valid := false
			for _, key := range workerKeys {
				if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
					valid = true
				}
			}
			if !valid {
				http.Error(w, "invalid worker key", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), WorkerKey, true)
			ctx = context.WithValue(ctx, APIKeyKey, apiKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerKey returns the key or a non-empty error message.
func bearerKey(r *http.Request) (string, string) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", "missing Authorization header"
	}
	// Support both "Bearer <key>" and "<key>" formats
	apiKey := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if apiKey == "" {
		return "", "invalid Authorization header format"
	}
	return apiKey, ""
}

// AccountFromContext extracts the authenticated account from context
func AccountFromContext(ctx context.Context) string {
	if account, ok := ctx.Value(AccountKey).(string); ok {
		return account
	}
	return ""
}

// RequireAccount ensures {account} in the URL matches the authenticated account.
// Harus dipasang di dalam route group supaya URL param sudah terisi. Tanpa auth (keys kosong) lewat saja.
func RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		urlAccount := chi.URLParam(r, "account")
		if err := ValidateAccountID(urlAccount); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		authAccount := AccountFromContext(r.Context())
		if authAccount != "" && authAccount != urlAccount {
			http.Error(w, "account mismatch", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
