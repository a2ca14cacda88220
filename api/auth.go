package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"net/http"
)

// AuthCookieName is the name of the authentication cookie.
const AuthCookieName = "XMREscrow_Auth_Cookie"

// AuthenticationMiddleware rejects requests from IPs outside the
// allow list and requests without valid credentials. Which checks run
// depends on the gateway config. The configured password is the hex
// encoded sha256 of the real one.
func (g *Gateway) AuthenticationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.authorized(r) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) authorized(r *http.Request) bool {
	if len(g.config.AllowedIPs) > 0 {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil || !g.config.AllowedIPs[host] {
			return false
		}
	}
	if g.config.Cookie != "" {
		cookie, err := r.Cookie(AuthCookieName)
		if err != nil || !equalSecret(cookie.Value, g.config.Cookie) {
			return false
		}
	}
	if g.config.Username != "" && g.config.Password != "" {
		username, password, ok := r.BasicAuth()
		if !ok {
			return false
		}
		h := sha256.Sum256([]byte(password))
		if !equalSecret(username, g.config.Username) || !equalSecret(hex.EncodeToString(h[:]), g.config.Password) {
			return false
		}
	}
	return true
}

func equalSecret(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// CORSAllowAllOriginsMiddleware allows browser clients on any origin.
func (g *Gateway) CORSAllowAllOriginsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}
