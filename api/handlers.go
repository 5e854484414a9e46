package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/jmcleod/bearer/internal/uuid"
)

// itemStore keeps per-user items in memory.
type itemStore struct {
	mu    sync.RWMutex
	items map[string][]Item
}

func newItemStore() *itemStore {
	return &itemStore{items: make(map[string][]Item)}
}

func (s *itemStore) list(username string) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Item, len(s.items[username]))
	copy(out, s.items[username])
	return out
}

func (s *itemStore) add(username string, item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[username] = append(s.items[username], item)
}

// Me handles GET /me.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	resp := MeResponse{
		Username:  claims.Subject,
		SessionID: claims.SessionID,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListItems handles GET /items.
func (a *API) ListItems(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, ListItemsResponse{Items: a.items.list(claims.Subject)})
}

// CreateItem handles POST /items.
func (a *API) CreateItem(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	var req CreateItemRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	item := Item{ID: uuid.New(), Name: name}
	a.items.add(claims.Subject, item)
	writeJSON(w, http.StatusCreated, item)
}
