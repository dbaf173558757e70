// Package content is the target content store: items with a rich-text body,
// multi-valued structured metadata and a primary visual.
package content

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go-media-reconcile/internal/database"
	"go-media-reconcile/internal/metavalue"

	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned for unknown content item ids.
var ErrNotFound = errors.New("content item not found")

// PrimaryVisualKey is the metadata key that always denotes the primary visual.
const PrimaryVisualKey = "_thumbnail_id"

const (
	itemPrefix     = "c_"  // c_<id> -> Item
	uidPrefix      = "cu_" // cu_<uid> -> id
	originalPrefix = "co_" // co_<type>_<original id> -> id
)

// Item is one content item. Meta maps a key to its ordered values.
type Item struct {
	ID            int64                        `json:"id"`
	UID           string                       `json:"uid,omitempty"`
	OriginalID    int64                        `json:"originalId,omitempty"`
	Type          string                       `json:"type"`
	Title         string                       `json:"title,omitempty"`
	Body          string                       `json:"body"`
	Meta          map[string][]metavalue.Value `json:"meta,omitempty"`
	PrimaryVisual int64                        `json:"primaryVisual,omitempty"`
}

// Store keeps content items in the database.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

func itemKey(id int64) string { return itemPrefix + strconv.FormatInt(id, 10) }
func uidKey(uid string) string { return uidPrefix + uid }
func originalKey(typ string, originalID int64) string {
	return originalPrefix + strings.ToLower(typ) + "_" + strconv.FormatInt(originalID, 10)
}

// Get returns the item with the given id.
func (s *Store) Get(id int64) (Item, error) {
	var it Item
	if err := s.db.GetJSON(itemKey(id), &it); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Item{}, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return Item{}, err
	}
	return it, nil
}

func (s *Store) put(it Item) error {
	return s.db.PutJSON(itemKey(it.ID), it)
}

// Import stores items, allocating ids for items without one, and indexes
// them by uid and by original id plus type. It returns the stored items.
func (s *Store) Import(items []Item) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.ID == 0 {
			if existing, ok, err := s.Resolve(it.UID, it.OriginalID, it.Type); err != nil {
				return nil, err
			} else if ok {
				it.ID = existing
			} else {
				id, err := s.db.NextSequence("content")
				if err != nil {
					return nil, fmt.Errorf("allocating content id: %w", err)
				}
				it.ID = id
			}
		}
		if err := s.put(it); err != nil {
			return nil, err
		}
		idStr := []byte(strconv.FormatInt(it.ID, 10))
		if it.UID != "" {
			if err := s.db.Put([]byte(uidKey(it.UID)), idStr); err != nil {
				return nil, err
			}
		}
		if it.OriginalID > 0 && it.Type != "" {
			if err := s.db.Put([]byte(originalKey(it.Type, it.OriginalID)), idStr); err != nil {
				return nil, err
			}
		}
		out = append(out, it)
	}
	log.Debugf("Imported %d content items", len(out))
	return out, nil
}

// List returns every item ordered by id.
func (s *Store) List() ([]Item, error) {
	var out []Item
	err := s.db.Scan(itemPrefix, func(key, value []byte) error {
		var it Item
		if err := json.Unmarshal(value, &it); err != nil {
			log.WithError(err).Warnf("Skipping undecodable content item %s", string(key))
			return nil
		}
		out = append(out, it)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// Resolve finds the local id of an item by its stable uid, falling back to
// original id plus declared type.
func (s *Store) Resolve(uid string, originalID int64, declaredType string) (int64, bool, error) {
	if uid != "" {
		if id, ok, err := s.lookupIndex(uidKey(uid)); err != nil || ok {
			return id, ok, err
		}
	}
	if originalID > 0 && declaredType != "" {
		return s.lookupIndex(originalKey(declaredType, originalID))
	}
	return 0, false, nil
}

func (s *Store) lookupIndex(key string) (int64, bool, error) {
	raw, err := s.db.Get([]byte(key))
	if errors.Is(err, database.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt content index %s: %w", key, err)
	}
	if !s.db.Has([]byte(itemKey(id))) {
		return 0, false, nil
	}
	return id, true, nil
}

// Meta returns the index-th value stored under key.
func (s *Store) Meta(itemID int64, key string, index int) (metavalue.Value, bool, error) {
	it, err := s.Get(itemID)
	if err != nil {
		return metavalue.Value{}, false, err
	}
	vals := it.Meta[key]
	if index < 0 || index >= len(vals) {
		return metavalue.Value{}, false, nil
	}
	return vals[index], true, nil
}

// CompareAndSwapMeta replaces the index-th value under key only if it still
// equals old. It reports whether the write happened.
func (s *Store) CompareAndSwapMeta(itemID int64, key string, index int, old, updated metavalue.Value) (bool, error) {
	it, err := s.Get(itemID)
	if err != nil {
		return false, err
	}
	vals := it.Meta[key]
	if index < 0 || index >= len(vals) || !metavalue.Equal(vals[index], old) {
		return false, nil
	}
	next := append([]metavalue.Value(nil), vals...)
	next[index] = updated
	it.Meta[key] = next
	if err := s.put(it); err != nil {
		return false, err
	}
	return true, nil
}

// SetPrimaryVisual points the item's primary visual at assetID. Scalar values
// stored under PrimaryVisualKey follow it, keeping a string id a string. It
// reports whether anything changed.
func (s *Store) SetPrimaryVisual(itemID, assetID int64) (bool, error) {
	it, err := s.Get(itemID)
	if err != nil {
		return false, err
	}
	changed := it.PrimaryVisual != assetID
	it.PrimaryVisual = assetID

	vals := it.Meta[PrimaryVisualKey]
	if len(vals) > 0 {
		next := append([]metavalue.Value(nil), vals...)
		for i, v := range vals {
			if !v.IsScalar() {
				continue
			}
			want := metavalue.IntValue(assetID)
			if _, isString := v.AsString(); isString {
				want = metavalue.StringValue(strconv.FormatInt(assetID, 10))
			}
			if !metavalue.Equal(v, want) {
				next[i] = want
				changed = true
			}
		}
		it.Meta[PrimaryVisualKey] = next
	}

	if !changed {
		return false, nil
	}
	return true, s.put(it)
}

func (s *Store) Body(itemID int64) (string, error) {
	it, err := s.Get(itemID)
	if err != nil {
		return "", err
	}
	return it.Body, nil
}

func (s *Store) SetBody(itemID int64, body string) error {
	it, err := s.Get(itemID)
	if err != nil {
		return err
	}
	it.Body = body
	return s.put(it)
}
