// Package identity holds the mapping from original asset identifiers to
// local asset identifiers for one target store.
package identity

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"go-media-reconcile/internal/database"

	log "github.com/sirupsen/logrus"
)

// Map is original id -> local id plus original url -> local id. Setting an id
// that is already mapped replaces the old value.
type Map struct {
	byID  map[int64]int64
	byURL map[string]int64
}

func NewMap() *Map {
	return &Map{byID: map[int64]int64{}, byURL: map[string]int64{}}
}

// Set maps originalID to localID. A non-empty url is mapped too.
func (m *Map) Set(originalID, localID int64, url string) {
	m.byID[originalID] = localID
	if url != "" {
		m.byURL[url] = localID
	}
}

// Unset removes the mapping for originalID and any url pointing at the same local id.
func (m *Map) Unset(originalID int64) {
	local, ok := m.byID[originalID]
	if !ok {
		return
	}
	delete(m.byID, originalID)
	for u, id := range m.byURL {
		if id == local {
			delete(m.byURL, u)
		}
	}
}

func (m *Map) Lookup(originalID int64) (int64, bool) {
	id, ok := m.byID[originalID]
	return id, ok
}

func (m *Map) LookupURL(url string) (int64, bool) {
	id, ok := m.byURL[url]
	return id, ok
}

func (m *Map) Len() int { return len(m.byID) }

// OriginalIDs returns mapped original ids in ascending order.
func (m *Map) OriginalIDs() []int64 {
	ids := make([]int64, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Prune drops every mapping whose local id fails exists. It returns the
// number of original ids removed.
func (m *Map) Prune(exists func(localID int64) bool) int {
	removed := 0
	for orig, local := range m.byID {
		if !exists(local) {
			delete(m.byID, orig)
			removed++
		}
	}
	for u, local := range m.byURL {
		if !exists(local) {
			delete(m.byURL, u)
		}
	}
	return removed
}

// snapshot is the persisted form. JSON object keys must be strings.
type snapshot struct {
	IDs  map[string]int64 `json:"ids"`
	URLs map[string]int64 `json:"urls"`
}

// Store persists a Map as a single database value so a save replaces it
// atomically.
type Store struct {
	db  *database.DB
	key string
}

const defaultKey = "identity_map"

func NewStore(db *database.DB) *Store {
	return &Store{db: db, key: defaultKey}
}

// Load returns the persisted map, or an empty one if none was saved.
func (s *Store) Load() (*Map, error) {
	var snap snapshot
	err := s.db.GetJSON(s.key, &snap)
	if errors.Is(err, database.ErrNotFound) {
		return NewMap(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading identity map: %w", err)
	}
	m := NewMap()
	for k, v := range snap.IDs {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			log.Warnf("Dropping identity map entry with bad key %q", k)
			continue
		}
		m.byID[id] = v
	}
	for u, v := range snap.URLs {
		m.byURL[u] = v
	}
	return m, nil
}

// Save writes the whole map.
func (s *Store) Save(m *Map) error {
	snap := snapshot{
		IDs:  make(map[string]int64, len(m.byID)),
		URLs: make(map[string]int64, len(m.byURL)),
	}
	for k, v := range m.byID {
		snap.IDs[strconv.FormatInt(k, 10)] = v
	}
	for u, v := range m.byURL {
		snap.URLs[u] = v
	}
	if err := s.db.PutJSON(s.key, snap); err != nil {
		return fmt.Errorf("saving identity map: %w", err)
	}
	log.Debugf("Saved identity map with %d ids and %d urls", len(snap.IDs), len(snap.URLs))
	return nil
}
