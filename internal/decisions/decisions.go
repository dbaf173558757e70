// Package decisions reads operator decisions that override how original
// asset ids are resolved. Decisions are grouped by run scope id; the reserved
// "_global" bucket applies to every run.
package decisions

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go-media-reconcile/internal/models"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// GlobalBucket is the scope id whose decisions apply to every run.
const GlobalBucket = "_global"

// Reader looks up decisions. Implementations must be safe to call with an
// empty run scope id.
type Reader interface {
	RunDecision(runScopeID string, originalID int64) (models.Decision, bool)
	GlobalDecision(originalID int64) (models.Decision, bool)
}

// Store is an in-memory decision set.
type Store struct {
	scopes map[string]map[int64]models.Decision
}

// Empty returns a Store with no decisions.
func Empty() *Store {
	return &Store{scopes: map[string]map[int64]models.Decision{}}
}

// Load reads a YAML or JSON decision file. A missing file or empty path yields
// an empty store.
func Load(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Empty(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Debugf("Decision file %s not found, continuing without decisions", path)
			return Empty(), nil
		}
		return nil, fmt.Errorf("reading decision file %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing decision file %s: %w", path, err)
	}
	log.Infof("Loaded %d decisions from %s", s.Len(), path)
	return s, nil
}

// Parse decodes scope id -> original id -> decision. Entries with an unknown
// action or a non-numeric id are dropped with a warning.
func Parse(data []byte) (*Store, error) {
	s := Empty()
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}
	var raw map[string]map[string]models.Decision
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for scope, entries := range raw {
		scope = strings.TrimSpace(scope)
		for key, d := range entries {
			id, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
			if err != nil || id <= 0 {
				log.WithField("scope", scope).Warnf("Ignoring decision with invalid original id %q", key)
				continue
			}
			d.Action = strings.ToLower(strings.TrimSpace(d.Action))
			if !validAction(d.Action) {
				log.WithFields(log.Fields{"scope": scope, "original_id": id}).Warnf("Ignoring decision with unknown action %q", d.Action)
				continue
			}
			s.Set(scope, id, d)
		}
	}
	return s, nil
}

func validAction(action string) bool {
	switch action {
	case models.ActionReuse, models.ActionMap, models.ActionSkip, models.ActionDownload:
		return true
	}
	return false
}

// Set records a decision. The Scope field is derived from the bucket.
func (s *Store) Set(scopeID string, originalID int64, d models.Decision) {
	if scopeID == GlobalBucket {
		d.Scope = models.ScopeGlobal
	} else {
		d.Scope = models.ScopeRun
	}
	bucket, ok := s.scopes[scopeID]
	if !ok {
		bucket = map[int64]models.Decision{}
		s.scopes[scopeID] = bucket
	}
	bucket[originalID] = d
}

func (s *Store) RunDecision(runScopeID string, originalID int64) (models.Decision, bool) {
	if runScopeID == "" || runScopeID == GlobalBucket {
		return models.Decision{}, false
	}
	d, ok := s.scopes[runScopeID][originalID]
	return d, ok
}

func (s *Store) GlobalDecision(originalID int64) (models.Decision, bool) {
	d, ok := s.scopes[GlobalBucket][originalID]
	return d, ok
}

// Len returns the total number of decisions across all scopes.
func (s *Store) Len() int {
	n := 0
	for _, b := range s.scopes {
		n += len(b)
	}
	return n
}
