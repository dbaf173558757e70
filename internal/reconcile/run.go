package reconcile

import (
	"sort"

	"go-media-reconcile/internal/identity"
	"go-media-reconcile/internal/models"
	"go-media-reconcile/internal/resolver"
)

// Entry outcomes.
const (
	OutcomeQueued     = "queued"
	OutcomeReused     = "reused"
	OutcomeMapped     = "mapped"
	OutcomeSkipped    = "skipped"
	OutcomeDownloaded = "downloaded"
	OutcomeError      = "error"
)

// Blocked reasons.
const (
	ReasonHostNotAllowed = "host_not_allowed"
	ReasonInvalidURL     = "invalid_url"
)

// QueueEntry is an asset that still needs a local record. Handled only moves
// to true, except that a download decision may reopen it once.
type QueueEntry struct {
	OriginalID    int64                  `json:"original_id"`
	Descriptor    models.AssetDescriptor `json:"-"`
	SourceURL     string                 `json:"source_url,omitempty"`
	BundlePath    string                 `json:"bundle_path,omitempty"`
	Filename      string                 `json:"filename,omitempty"` // Sanitized
	Hash          string                 `json:"hash,omitempty"`     // algorithm:hexdigest
	Host          string                 `json:"host,omitempty"`
	Handled       bool                   `json:"handled"`
	ForceDownload bool                   `json:"force_download,omitempty"`
	ReuseID       int64                  `json:"reuse_id,omitempty"` // Local record to rewrite on a forced download
	LocalID       int64                  `json:"local_id,omitempty"`
	Outcome       string                 `json:"outcome"`
	Error         string                 `json:"error,omitempty"`

	forced bool

	// Descriptor hash that could not be normalized, so nothing can be verified.
	unverifiableHash string
}

func (e *QueueEntry) finish(outcome string, localID int64) {
	e.Handled = true
	e.Outcome = outcome
	e.LocalID = localID
}

func (e *QueueEntry) fail(err error) {
	e.Handled = true
	e.Outcome = OutcomeError
	e.Error = err.Error()
}

// BlockedAsset is an asset refused by the host policy.
type BlockedAsset struct {
	OriginalID int64  `json:"original_id"`
	URL        string `json:"url"`
	Reason     string `json:"reason"`
}

// CollectResult is the Candidate Collector's output. Every count is
// observable on its own.
type CollectResult struct {
	Queue           []*QueueEntry  `json:"queue"`
	Blocked         []BlockedAsset `json:"blocked"`
	SkippedExisting int            `json:"skipped_existing"`
	Detected        int            `json:"detected"`
	Malformed       int            `json:"malformed"`
	Unusable        int            `json:"unusable"`
}

// Conflict is a resolver conflict left for a human to decide.
type Conflict struct {
	OriginalID int64   `json:"original_id"`
	Reason     string  `json:"reason"`
	Candidates []int64 `json:"candidates"`
}

// Report is returned to the caller after a run.
type Report struct {
	Mode       string          `json:"mode"`
	RunScopeID string          `json:"run_scope_id,omitempty"`
	Stats      models.Stats    `json:"stats"`
	Collect    CollectResult   `json:"collect"`
	Resolver   resolver.Result `json:"resolver"`
	Conflicts  []Conflict      `json:"conflicts"`
	Blocked    []BlockedAsset  `json:"blocked"`
	LegacySync bool            `json:"legacy_sync"`
}

// Run is the mutable state of one reconciliation. Nothing outlives it except
// the identity map, which is persisted at the end.
type Run struct {
	Manifest    *models.Manifest
	Mode        string
	StorageRoot string
	ScopeID     string
	IDs         *identity.Map
	Stats       models.Stats
	Collect     CollectResult
	Resolver    resolver.Result
	Conflicts   []Conflict

	// Valid, usable, non-blocked descriptors by original id, queued or not.
	known   map[int64]models.AssetDescriptor
	entries map[int64]*QueueEntry
}

func newRun(m *models.Manifest, ids *identity.Map, mode, root, scope string) *Run {
	return &Run{
		Manifest:    m,
		Mode:        mode,
		StorageRoot: root,
		ScopeID:     scope,
		IDs:         ids,
		Resolver:    resolver.EmptyResult(),
		known:       map[int64]models.AssetDescriptor{},
		entries:     map[int64]*QueueEntry{},
	}
}

func (r *Run) enqueue(e *QueueEntry) {
	r.Collect.Queue = append(r.Collect.Queue, e)
	r.entries[e.OriginalID] = e
}

// knownIDs returns the original ids the adapter may act on, ascending.
func (r *Run) knownIDs() []int64 {
	ids := make([]int64, 0, len(r.known))
	for id := range r.known {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Run) unhandled() []*QueueEntry {
	var out []*QueueEntry
	for _, e := range r.Collect.Queue {
		if !e.Handled {
			out = append(out, e)
		}
	}
	return out
}

func (r *Run) report(legacy bool) *Report {
	return &Report{
		Mode:       r.Mode,
		RunScopeID: r.ScopeID,
		Stats:      r.Stats,
		Collect:    r.Collect,
		Resolver:   r.Resolver,
		Conflicts:  r.Conflicts,
		Blocked:    r.Collect.Blocked,
		LegacySync: legacy,
	}
}
