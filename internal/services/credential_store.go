package services

import (
	"sync"
	"time"
)

// CredentialSource hands out the latest bearer token seen for a wallet owner
type CredentialSource interface {
	Token(userID string) (string, bool)
}

type storedToken struct {
	token  string
	seenAt time.Time
}

// TokenStore keeps the last bearer token each user called the bridge with.
// It is memory only; a restart forgets every token.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]storedToken
	now    func() time.Time
}

// NewTokenStore creates an empty token store
func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: make(map[string]storedToken),
		now:    time.Now,
	}
}

// Put records token as the user's current credential
func (s *TokenStore) Put(userID, token string) {
	if userID == "" || token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = storedToken{token: token, seenAt: s.now()}
}

// Token returns the user's credential
func (s *TokenStore) Token(userID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.tokens[userID]
	if !ok {
		return "", false
	}
	return stored.token, true
}

// Forget drops the user's credential
func (s *TokenStore) Forget(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, userID)
}

// ActiveSince lists users seen at or after since
func (s *TokenStore) ActiveSince(since time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var users []string
	for userID, stored := range s.tokens {
		if !stored.seenAt.Before(since) {
			users = append(users, userID)
		}
	}
	return users
}

// Prune drops credentials not seen since the cutoff and returns how many went
func (s *TokenStore) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for userID, stored := range s.tokens {
		if stored.seenAt.Before(cutoff) {
			delete(s.tokens, userID)
			removed++
		}
	}
	return removed
}
