// Package reconcile synchronizes the assets described by a manifest into the
// local library and rewrites every reference to them in the content store.
//
// A run is a strict sequence: collect candidates, consult the resolver and
// decisions, optionally run the bundled and remote transports, rewrite
// references, persist the identity map.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go-media-reconcile/internal/decisions"
	"go-media-reconcile/internal/downloader"
	"go-media-reconcile/internal/identity"
	"go-media-reconcile/internal/library"
	"go-media-reconcile/internal/manifest"
	"go-media-reconcile/internal/metavalue"
	"go-media-reconcile/internal/models"
	"go-media-reconcile/internal/resolver"

	log "github.com/sirupsen/logrus"
)

// ErrNoManifest is returned when Run is called without a manifest.
var ErrNoManifest = errors.New("no manifest to reconcile")

// AssetLibrary is the local asset store the engine materializes into.
type AssetLibrary interface {
	RecordFinder
	Get(id int64) (models.AssetRecord, error)
	Exists(id int64) bool
	Materialize(src string, req library.Request) (models.AssetRecord, error)
	URL(rec models.AssetRecord) string
	TempDir() string
}

// ContentStore is the store whose references get rewritten.
type ContentStore interface {
	Resolve(uid string, originalID int64, declaredType string) (int64, bool, error)
	Meta(itemID int64, key string, index int) (metavalue.Value, bool, error)
	CompareAndSwapMeta(itemID int64, key string, index int, old, updated metavalue.Value) (bool, error)
	SetPrimaryVisual(itemID, assetID int64) (bool, error)
	Body(itemID int64) (string, error)
	SetBody(itemID int64, body string) error
}

// IdentityStore persists the identity map between runs.
type IdentityStore interface {
	Load() (*identity.Map, error)
	Save(m *identity.Map) error
}

// Fetcher downloads a remote asset to a temporary file.
type Fetcher interface {
	Fetch(ctx context.Context, url string, tempDir string, expectedHash string) (downloader.Result, error)
}

// Deps are the engine's collaborators. Decisions and Resolver are optional.
type Deps struct {
	Library    AssetLibrary
	Content    ContentStore
	Identities IdentityStore
	Decisions  decisions.Reader
	Resolver   resolver.Resolver
	Fetcher    Fetcher
}

// Options configure a run.
type Options struct {
	// Mode is the transport mode. Empty uses the manifest's bundle hint, then auto.
	Mode          string
	PublicBaseURL string
	MirrorBaseURL string
	AllowExternal bool
	RunScopeID    string
	// StorageRoot overrides the bundle root derived from the manifest.
	StorageRoot string
	// LegacyGate replaces ShouldRunLegacySync when set.
	LegacyGate LegacyGate
	// Progress is called after each item of a stage.
	Progress func(stage string, done, total int)
}

type Engine struct {
	library    AssetLibrary
	content    ContentStore
	identities IdentityStore
	decisions  decisions.Reader
	resolver   resolver.Resolver
	fetcher    Fetcher
	policy     HostPolicy
	opts       Options
}

func New(deps Deps, opts Options) *Engine {
	e := &Engine{
		library:    deps.Library,
		content:    deps.Content,
		identities: deps.Identities,
		decisions:  deps.Decisions,
		resolver:   deps.Resolver,
		fetcher:    deps.Fetcher,
		policy:     NewHostPolicy(opts.PublicBaseURL, opts.MirrorBaseURL, opts.AllowExternal),
		opts:       opts,
	}
	if e.decisions == nil {
		e.decisions = decisions.Empty()
	}
	if e.resolver == nil {
		e.resolver = resolver.Nop{}
	}
	if e.opts.LegacyGate == nil {
		e.opts.LegacyGate = ShouldRunLegacySync
	}
	return e
}

func (e *Engine) mode(m *models.Manifest) string {
	if models.ValidTransportMode(e.opts.Mode) {
		return e.opts.Mode
	}
	if models.ValidTransportMode(m.Bundle.Mode) {
		return m.Bundle.Mode
	}
	return models.TransportAuto
}

func (e *Engine) progress(stage string, done, total int) {
	if e.opts.Progress != nil {
		e.opts.Progress(stage, done, total)
	}
}

// Run reconciles one manifest. Per-item failures are counted in the report;
// only a missing manifest or identity map persistence failures are returned.
func (e *Engine) Run(ctx context.Context, m *models.Manifest) (*Report, error) {
	if m == nil {
		return nil, ErrNoManifest
	}
	ids, err := e.identities.Load()
	if err != nil {
		return nil, err
	}
	if pruned := ids.Prune(e.library.Exists); pruned > 0 {
		log.Infof("Dropped %d identity mappings whose local record no longer exists", pruned)
	}

	root := e.opts.StorageRoot
	if root == "" {
		root = manifest.StorageRoot(m)
	}
	run := newRun(m, ids, e.mode(m), root, e.opts.RunScopeID)
	log.WithFields(log.Fields{"mode": run.Mode, "storage_root": root, "run_scope": run.ScopeID}).Info("Starting reconciliation")

	Collect(run, e.library, e.policy)
	e.progress("collect", len(m.MediaIndex), len(m.MediaIndex))

	e.adapt(ctx, run)

	legacy := e.opts.LegacyGate(run.Collect.Queue, run.Resolver)
	if legacy {
		if run.Mode != models.TransportRemote {
			e.runBundled(run)
		}
		if run.Mode != models.TransportBundled {
			e.runRemote(ctx, run)
		}
	} else {
		log.Info("Skipping transport: nothing left for it to do")
	}

	e.rewrite(run)

	if err := e.identities.Save(run.IDs); err != nil {
		return nil, fmt.Errorf("persisting identity map: %w", err)
	}

	log.WithFields(log.Fields{
		"downloaded":      run.Stats.Downloaded,
		"reused":          run.Stats.Reused,
		"updated_posts":   run.Stats.UpdatedPosts,
		"meta_updates":    run.Stats.MetaUpdates,
		"content_updates": run.Stats.ContentUpdates,
		"errors":          run.Stats.Errors,
		"blocked":         run.Stats.Blocked,
	}).Info("Reconciliation finished")
	return run.report(legacy), nil
}
