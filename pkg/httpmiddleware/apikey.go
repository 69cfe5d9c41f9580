package httpmiddleware

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-discounts/internal/domain/auth"
)

// HeaderAPIKey carries the caller's API key.
const HeaderAPIKey = "X-API-Key"

type apiKeyCtxKey struct{}

// APIKeyFromContext returns the key authenticated by APIKey, if any.
func APIKeyFromContext(ctx context.Context) (*auth.APIKeyInfo, bool) {
	info, ok := ctx.Value(apiKeyCtxKey{}).(*auth.APIKeyInfo)
	return info, ok
}

// APIKey authenticates requests by the HMAC-SHA256 of the X-API-Key header
// under pepper and requires the key to grant scope. Unknown keys get 401,
// keys lacking the scope get 403.
func APIKey(keys auth.Repository, pepper []byte, scope string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderAPIKey)
			if key == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			hash := auth.HashKey(key, pepper)
			info, err := keys.FindByHash(r.Context(), hash)
			if err != nil {
				if !errors.Is(err, auth.ErrKeyNotFound) {
					zctx.From(r.Context()).Error("API key lookup failed", zap.Error(err))
				}
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			// The lookup matched on the hash; compare again in constant time
			// in case the repository returned a different row.
			stored, err := hex.DecodeString(info.KeyHash)
			computed, _ := hex.DecodeString(hash)
			if err != nil || !hmac.Equal(stored, computed) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !info.HasScope(scope) {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyCtxKey{}, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
