// Command testserver is a minimal OpenID Connect identity provider for the
// end-to-end tests. Every authorization request is approved at once for the
// configured user.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const keyID = "e2e"

type identity struct {
	Subject string
	Name    string
	Email   string
}

type provider struct {
	issuer string
	key    *rsa.PrivateKey
	user   identity

	mu    sync.Mutex
	codes map[string]string // code -> client_id
}

func main() {
	port := flag.Int("port", 8084, "Port to listen on")
	sub := flag.String("sub", "1234567890", "Subject of the signed-in user")
	name := flag.String("name", "Ada Lovelace", "Name of the signed-in user")
	email := flag.String("email", "ada@example.com", "Email of the signed-in user")
	flag.Parse()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		log.Fatalf("Failed to generate signing key: %v", err)
	}

	p := &provider{
		issuer: fmt.Sprintf("http://localhost:%d", *port),
		key:    key,
		user:   identity{Subject: *sub, Name: *name, Email: *email},
		codes:  make(map[string]string),
	}

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	http.HandleFunc("/.well-known/openid-configuration", p.handleDiscovery)
	http.HandleFunc("/authorize", p.handleAuthorize)
	http.HandleFunc("/token", p.handleToken)
	http.HandleFunc("/keys", p.handleKeys)
	http.HandleFunc("/userinfo", p.handleUserInfo)

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("Test identity provider starting on %s (issuer %s)", addr, p.issuer)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal(err)
	}
}

func (p *provider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                                p.issuer,
		"authorization_endpoint":                p.issuer + "/authorize",
		"token_endpoint":                        p.issuer + "/token",
		"jwks_uri":                              p.issuer + "/keys",
		"userinfo_endpoint":                     p.issuer + "/userinfo",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

// handleAuthorize approves the request and redirects back with a code.
func (p *provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	redirect, err := url.Parse(q.Get("redirect_uri"))
	if err != nil || redirect.Scheme == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	code := randomString()
	p.mu.Lock()
	p.codes[code] = q.Get("client_id")
	p.mu.Unlock()

	back := redirect.Query()
	back.Set("code", code)
	back.Set("state", q.Get("state"))
	redirect.RawQuery = back.Encode()

	log.Printf("Approved login for client %s", q.Get("client_id"))
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (p *provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	code := r.PostForm.Get("code")
	p.mu.Lock()
	clientID, ok := p.codes[code]
	delete(p.codes, code)
	p.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}

	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   p.issuer,
		"sub":   p.user.Subject,
		"aud":   clientID,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"name":  p.user.Name,
		"email": p.user.Email,
	})
	tok.Header["kid"] = keyID
	idToken, err := tok.SignedString(p.key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": randomString(),
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     idToken,
	})
}

func (p *provider) handleKeys(w http.ResponseWriter, r *http.Request) {
	pub := p.key.PublicKey
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"kid": keyID,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

func (p *provider) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"sub":   p.user.Subject,
		"name":  p.user.Name,
		"email": p.user.Email,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func randomString() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
