package shield

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// BasicAuth returns middleware that guards routes with HTTP Basic Auth.
// passwordHash is a bcrypt hash, never the cleartext; generate one with
// htpasswd -nbB or bcrypt.GenerateFromPassword.
func BasicAuth(user, passwordHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || !credentialsMatch(u, p, user, passwordHash) {
				w.Header().Set("WWW-Authenticate", `Basic realm="moisson"`)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func credentialsMatch(gotUser, gotPass, wantUser, wantHash string) bool {
	// Compare both factors unconditionally to keep timing flat.
	userOK := subtle.ConstantTimeCompare([]byte(gotUser), []byte(wantUser)) == 1
	passOK := bcrypt.CompareHashAndPassword([]byte(wantHash), []byte(gotPass)) == nil
	return userOK && passOK
}
