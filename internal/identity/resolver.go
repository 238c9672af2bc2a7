// Package identity resolves governance account ids to human-readable
// display names via an optional account registry REST API.
package identity

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

type cacheEntry struct {
	name    string
	fetched time.Time
}

// Resolver fetches and caches account display names. A nil Resolver is
// valid and resolves everything to "".
type Resolver struct {
	apiURL string
	mu     sync.RWMutex
	cache  map[string]cacheEntry
	ttl    time.Duration
	client *http.Client
}

func NewResolver(apiURL string) *Resolver {
	if apiURL == "" {
		return nil
	}
	return &Resolver{
		apiURL: strings.TrimSuffix(apiURL, "/"),
		cache:  map[string]cacheEntry{},
		ttl:    30 * time.Minute, // account metadata changes rarely
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Resolve returns the display name for an account id, or "" when
// unknown. Lookups are cached with a TTL; failures cache as "" so a
// dead registry is not hammered per render.
func (r *Resolver) Resolve(accountID string) string {
	if r == nil || accountID == "" {
		return ""
	}

	r.mu.RLock()
	entry, ok := r.cache[accountID]
	r.mu.RUnlock()
	if ok && time.Since(entry.fetched) <= r.ttl {
		return entry.name
	}

	name := r.fetch(accountID)
	r.mu.Lock()
	r.cache[accountID] = cacheEntry{name: name, fetched: time.Now()}
	r.mu.Unlock()
	return name
}

type accountResp struct {
	Account string `json:"account"`
	Alias   string `json:"alias"`
	Memo    string `json:"memo"`
}

func (r *Resolver) fetch(accountID string) string {
	url := fmt.Sprintf("%s/api/v1/accounts/%s", r.apiURL, accountID)
	resp, err := r.client.Get(url)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	var payload accountResp
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ""
	}
	if payload.Alias != "" {
		return payload.Alias
	}
	return payload.Memo
}
