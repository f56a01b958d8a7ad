// Package session stores the result of a completed login under the session
// id the plugin chose, until the plugin collects it, it expires or the user
// logs out.
package session

import (
	"errors"
	"time"
)

var (
	// ErrSessionNotFound means no entry exists for the id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned once, by the Get that evicts an entry
	// older than the store's TTL. Later lookups return ErrSessionNotFound.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionExists is returned by Put when a live entry already uses
	// the id. Session ids are single-use.
	ErrSessionExists = errors.New("session already exists")
)

// Session is written once when the provider callback completes and never
// modified afterwards.
type Session struct {
	ID            string    `json:"id"`
	Authenticated bool      `json:"authenticated"`
	Token         string    `json:"token"`
	Profile       Profile   `json:"userProfile"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Profile is the identity returned by the provider.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Picture     string `json:"picture,omitempty"`
}

// ExpiredAt reports whether the session is older than ttl at now.
func (s *Session) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}
