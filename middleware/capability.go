package middleware

import (
	"net/http"

	goAccount "github.com/MrEthical07/goAccount"
	"github.com/MrEthical07/goAccount/capability"
)

// RequireCapability must run inside Guard. It resolves template against the
// request's path values and answers 403 unless the token's scopes satisfy
// the result. A template that cannot be resolved for the request is also
// 403.
func RequireCapability(engine *goAccount.Engine, template string) func(http.Handler) http.Handler {
	names := capability.Placeholders(template)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			params := make(map[string]string, len(names))
			for _, name := range names {
				params[name] = r.PathValue(name)
			}
			required, err := capability.Resolve(template, params)
			if err != nil || !engine.HasCapability(res, required) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
