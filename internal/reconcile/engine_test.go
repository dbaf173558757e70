package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go-media-reconcile/internal/content"
	"go-media-reconcile/internal/database"
	"go-media-reconcile/internal/decisions"
	"go-media-reconcile/internal/downloader"
	"go-media-reconcile/internal/helpers"
	"go-media-reconcile/internal/identity"
	"go-media-reconcile/internal/library"
	"go-media-reconcile/internal/manifest"
	"go-media-reconcile/internal/metavalue"
	"go-media-reconcile/internal/models"
	"go-media-reconcile/internal/resolver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	oldOrigin = "https://old.example.com"
	newOrigin = "https://new.example.com"
)

type harness struct {
	t         *testing.T
	exportDir string
	lib       *library.Library
	content   *content.Store
	ids       *identity.Store
	decisions *decisions.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tmp := t.TempDir()
	db, err := database.Open(filepath.Join(tmp, "db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	exportDir := filepath.Join(tmp, "export")
	require.NoError(t, os.MkdirAll(exportDir, 0755))
	return &harness{
		t:         t,
		exportDir: exportDir,
		lib:       library.New(db, filepath.Join(tmp, "library"), newOrigin),
		content:   content.NewStore(db),
		ids:       identity.NewStore(db),
		decisions: decisions.Empty(),
	}
}

// bundleFile writes a file into the export directory and returns its hash.
func (h *harness) bundleFile(rel, data string) string {
	h.t.Helper()
	p := filepath.Join(h.exportDir, filepath.FromSlash(rel))
	require.NoError(h.t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(h.t, os.WriteFile(p, []byte(data), 0644))
	sum, err := helpers.HashFile(p, "sha256")
	require.NoError(h.t, err)
	return sum
}

func (h *harness) manifest(doc string) *models.Manifest {
	h.t.Helper()
	p := filepath.Join(h.exportDir, "manifest.json")
	require.NoError(h.t, os.WriteFile(p, []byte(doc), 0644))
	m, err := manifest.Load(p)
	require.NoError(h.t, err)
	return m
}

func (h *harness) engine(opts Options, res resolver.Resolver, f Fetcher) *Engine {
	if opts.PublicBaseURL == "" {
		opts.PublicBaseURL = newOrigin
	}
	return New(Deps{
		Library:    h.lib,
		Content:    h.content,
		Identities: h.ids,
		Decisions:  h.decisions,
		Resolver:   res,
		Fetcher:    f,
	}, opts)
}

// existing materializes a record that has no original-id marker.
func (h *harness) existing(name, data string) models.AssetRecord {
	h.t.Helper()
	p := filepath.Join(h.t.TempDir(), name)
	require.NoError(h.t, os.WriteFile(p, []byte(data), 0644))
	rec, err := h.lib.Materialize(p, library.Request{Filename: name})
	require.NoError(h.t, err)
	return rec
}

type stubResolver struct {
	result resolver.Result
	err    error
	calls  int
}

func (s *stubResolver) Resolve(context.Context, *models.Manifest, resolver.Policy) (resolver.Result, error) {
	s.calls++
	return s.result, s.err
}

type stubFetcher struct {
	body string
	err  error
	urls []string
}

func (s *stubFetcher) Fetch(_ context.Context, url string, tempDir string, _ string) (downloader.Result, error) {
	s.urls = append(s.urls, url)
	if s.err != nil {
		return downloader.Result{}, s.err
	}
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return downloader.Result{}, err
	}
	f, err := os.CreateTemp(tempDir, "fetch-*.tmp")
	if err != nil {
		return downloader.Result{}, err
	}
	defer f.Close()
	if _, err := f.WriteString(s.body); err != nil {
		return downloader.Result{}, err
	}
	return downloader.Result{Path: f.Name(), ContentType: "image/jpeg", Size: uint64(len(s.body))}, nil
}

func TestRunWithoutManifest(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine(Options{}, nil, nil).Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoManifest)
}

func TestBlockedHostIsNeverFetched(t *testing.T) {
	h := newHarness(t)
	m := h.manifest(`{"media_index": [{"original_id": 5, "source_url": "https://blocked.example/x.jpg"}]}`)
	f := &stubFetcher{body: "x"}

	report, err := h.engine(Options{}, nil, f).Run(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Stats.Blocked)
	assert.Equal(t, 0, report.Stats.Downloaded)
	assert.Equal(t, 0, report.Stats.Reused)
	require.Len(t, report.Blocked, 1)
	assert.Equal(t, int64(5), report.Blocked[0].OriginalID)
	assert.Equal(t, ReasonHostNotAllowed, report.Blocked[0].Reason)
	assert.Empty(t, f.urls)
	assert.False(t, report.LegacySync)
}

func bundledFixture(t *testing.T, h *harness) *models.Manifest {
	t.Helper()
	sum := h.bundleFile("uploads/photo.jpg", "jpeg bytes")
	oldURL := oldOrigin + "/uploads/photo.jpg"

	var meta map[string][]metavalue.Value
	require.NoError(t, json.Unmarshal([]byte(`{"gallery": [{"ids": [42, 9]}], "_thumbnail_id": [42]}`), &meta))
	_, err := h.content.Import([]content.Item{{
		UID:  "post-1",
		Type: "post",
		Body: fmt.Sprintf(`<img src="%s"><a href="%s">full</a>`, oldURL, oldURL),
		Meta: meta,
	}})
	require.NoError(t, err)

	return h.manifest(fmt.Sprintf(`{
		"media_bundle": {"mode": "bundled"},
		"media_index": [{
			"original_id": 42,
			"source_url": %q,
			"relative_path": "uploads/photo.jpg",
			"hash": %q,
			"filename": "photo.jpg"
		}],
		"items": [{
			"item_type": "post",
			"content_ref": {"uid": "post-1"},
			"media_refs": {
				"meta": [
					{"original_id": 42, "meta_key": "_thumbnail_id", "value_index": 0, "path": []},
					{"original_id": 42, "meta_key": "gallery", "value_index": 0, "path": ["ids", 0]}
				],
				"content": [{"original_url": %q, "original_id": 42}]
			}
		}]
	}`, oldURL, sum, oldURL))
}

func TestBundledRunMaterializesAndRewrites(t *testing.T) {
	h := newHarness(t)
	m := bundledFixture(t, h)
	e := h.engine(Options{MirrorBaseURL: oldOrigin}, nil, nil)

	report, err := e.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, models.TransportBundled, report.Mode)
	assert.Equal(t, 1, report.Stats.Downloaded)
	assert.Equal(t, 0, report.Stats.Reused)
	assert.Equal(t, 0, report.Stats.Errors)
	assert.Equal(t, 1, report.Stats.UpdatedPosts)
	assert.Equal(t, 2, report.Stats.MetaUpdates)
	assert.Equal(t, 2, report.Stats.ContentUpdates)

	rec, found, err := h.lib.FindByOriginalID(42)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "image/1_photo.jpg", rec.RelativePath)

	it, err := h.content.Get(1)
	require.NoError(t, err)
	newURL := newOrigin + "/media/image/1_photo.jpg"
	assert.Equal(t, fmt.Sprintf(`<img src="%s"><a href="%s">full</a>`, newURL, newURL), it.Body)
	assert.Equal(t, rec.ID, it.PrimaryVisual)
	gallery, err := json.Marshal(it.Meta["gallery"][0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"ids": [1, 9]}`, string(gallery))
	thumb, err := json.Marshal(it.Meta[PrimaryVisualKey])
	require.NoError(t, err)
	assert.JSONEq(t, fmt.Sprintf(`[%d]`, rec.ID), string(thumb))

	ids, err := h.ids.Load()
	require.NoError(t, err)
	local, ok := ids.Lookup(42)
	require.True(t, ok)
	assert.Equal(t, rec.ID, local)
}

func TestSecondRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	m := bundledFixture(t, h)
	e := h.engine(Options{MirrorBaseURL: oldOrigin}, nil, nil)

	_, err := e.Run(context.Background(), m)
	require.NoError(t, err)
	body, err := h.content.Body(1)
	require.NoError(t, err)

	report, err := e.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Stats.Downloaded)
	assert.Equal(t, 1, report.Stats.Reused)
	assert.Equal(t, 0, report.Stats.MetaUpdates)
	assert.Equal(t, 0, report.Stats.ContentUpdates)
	assert.Equal(t, 0, report.Stats.UpdatedPosts)
	assert.Equal(t, 1, report.Collect.SkippedExisting)
	assert.False(t, report.LegacySync)

	again, err := h.content.Body(1)
	require.NoError(t, err)
	assert.Equal(t, body, again)
	records, err := h.lib.List()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStrictBundledHashMismatchFailsEntry(t *testing.T) {
	h := newHarness(t)
	h.bundleFile("a.jpg", "actual")
	m := h.manifest(`{
		"media_bundle": {"mode": "Bundled"},
		"media_index": [{"original_id": 3, "relative_path": "a.jpg", "hash": "sha256:` + strings.Repeat("0", 64) + `"}]
	}`)

	report, err := h.engine(Options{}, nil, nil).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.Errors)
	assert.Equal(t, 0, report.Stats.Downloaded)
	require.Len(t, report.Collect.Queue, 1)
	assert.Equal(t, OutcomeError, report.Collect.Queue[0].Outcome)
	assert.Contains(t, report.Collect.Queue[0].Error, "hash mismatch")
}

func TestStrictBundledUnverifiableHashFailsEntry(t *testing.T) {
	h := newHarness(t)
	h.bundleFile("a.jpg", "actual")
	m := h.manifest(`{
		"media_bundle": {"mode": "bundled"},
		"media_index": [{"original_id": 3, "relative_path": "a.jpg", "hash": "sha512:` + strings.Repeat("0", 128) + `"}]
	}`)

	report, err := h.engine(Options{}, nil, nil).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.Errors)
	assert.Equal(t, 0, report.Stats.Downloaded)
	require.Len(t, report.Collect.Queue, 1)
	assert.Equal(t, OutcomeError, report.Collect.Queue[0].Outcome)
	assert.Contains(t, report.Collect.Queue[0].Error, helpers.ErrUnsupportedHash.Error())
	records, err := h.lib.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAutoModeSendsUnverifiableBundleToRemote(t *testing.T) {
	h := newHarness(t)
	h.bundleFile("a.jpg", "bundled bytes")
	f := &stubFetcher{body: "remote bytes"}
	m := h.manifest(`{"media_index": [{
		"original_id": 3,
		"source_url": "https://old.example.com/a.jpg",
		"relative_path": "a.jpg",
		"hash": "xxh64:0123456789abcdef"
	}]}`)

	report, err := h.engine(Options{MirrorBaseURL: oldOrigin}, nil, f).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, []string{oldOrigin + "/a.jpg"}, f.urls)
	assert.Equal(t, 1, report.Stats.Downloaded)
	assert.Equal(t, 0, report.Stats.Errors)

	rec, found, err := h.lib.FindByOriginalID(3)
	require.NoError(t, err)
	require.True(t, found)
	data, err := os.ReadFile(h.lib.FilePath(rec))
	require.NoError(t, err)
	assert.Equal(t, "remote bytes", string(data))
}

func TestAutoModeFallsBackToRemoteOnHashMismatch(t *testing.T) {
	h := newHarness(t)
	h.bundleFile("a.jpg", "corrupted")
	f := &stubFetcher{body: "remote bytes"}
	m := h.manifest(`{"media_index": [{
		"original_id": 3,
		"source_url": "https://old.example.com/a.jpg",
		"relative_path": "a.jpg",
		"hash": "sha256:` + strings.Repeat("0", 64) + `"
	}]}`)

	report, err := h.engine(Options{AllowExternal: true}, nil, f).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, models.TransportAuto, report.Mode)
	assert.Equal(t, []string{oldOrigin + "/a.jpg"}, f.urls)
	assert.Equal(t, 1, report.Stats.Downloaded)
	assert.Equal(t, 0, report.Stats.Errors)
}

func TestBundledPathEscapeIsRejected(t *testing.T) {
	h := newHarness(t)
	outside := filepath.Join(filepath.Dir(h.exportDir), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0644))
	m := h.manifest(`{
		"media_bundle": {"mode": "bundled"},
		"media_index": [{"original_id": 3, "relative_path": "../secret.txt"}]
	}`)

	report, err := h.engine(Options{}, nil, nil).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.Errors)
	assert.Equal(t, 0, report.Stats.Downloaded)
	records, err := h.lib.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDecisionPrecedence(t *testing.T) {
	h := newHarness(t)
	first := h.existing("one.jpg", "one")
	second := h.existing("two.jpg", "two")

	h.decisions.Set("run-a", 7, models.Decision{Action: models.ActionMap, TargetID: second.ID})
	h.decisions.Set(decisions.GlobalBucket, 7, models.Decision{Action: models.ActionReuse, TargetID: first.ID})
	h.decisions.Set(decisions.GlobalBucket, 8, models.Decision{Action: models.ActionReuse, TargetID: second.ID})
	res := &stubResolver{result: resolver.Result{
		Attachments: map[int64]resolver.Resolution{
			7: {Status: resolver.StatusReused, TargetID: first.ID},
			8: {Status: resolver.StatusReused, TargetID: first.ID},
			9: {Status: resolver.StatusReused, TargetID: first.ID},
		},
		Metrics: resolver.Metrics{Detected: 3, Reused: 3},
	}}
	f := &stubFetcher{body: "x"}
	m := h.manifest(`{"media_index": [
		{"original_id": 7, "source_url": "https://new.example.com/a.jpg"},
		{"original_id": 8, "source_url": "https://new.example.com/b.jpg"},
		{"original_id": 9, "source_url": "https://new.example.com/c.jpg"}
	]}`)

	report, err := h.engine(Options{RunScopeID: "run-a"}, res, f).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, res.calls)
	assert.Equal(t, 3, report.Stats.Reused)
	assert.Equal(t, 0, report.Stats.Downloaded)
	assert.False(t, report.LegacySync)
	assert.Empty(t, f.urls)

	ids, err := h.ids.Load()
	require.NoError(t, err)
	for orig, want := range map[int64]int64{7: second.ID, 8: second.ID, 9: first.ID} {
		got, ok := ids.Lookup(orig)
		require.True(t, ok, "original %d", orig)
		assert.Equal(t, want, got, "original %d", orig)
	}
	assert.Equal(t, OutcomeMapped, report.Collect.Queue[0].Outcome)
	assert.Equal(t, OutcomeReused, report.Collect.Queue[2].Outcome)
}

func TestDecisionWithMissingTargetDefers(t *testing.T) {
	h := newHarness(t)
	h.decisions.Set(decisions.GlobalBucket, 7, models.Decision{Action: models.ActionReuse, TargetID: 999})
	f := &stubFetcher{body: "x"}
	m := h.manifest(`{"media_index": [{"original_id": 7, "source_url": "https://new.example.com/a.jpg"}]}`)

	report, err := h.engine(Options{}, nil, f).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Stats.Reused)
	assert.Equal(t, 1, report.Stats.Downloaded)
}

func TestSkipDecisionLeavesAssetAlone(t *testing.T) {
	h := newHarness(t)
	h.decisions.Set(decisions.GlobalBucket, 7, models.Decision{Action: models.ActionSkip})
	f := &stubFetcher{body: "x"}
	m := h.manifest(`{"media_index": [{"original_id": 7, "source_url": "https://new.example.com/a.jpg"}]}`)

	report, err := h.engine(Options{}, nil, f).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, report.Collect.Queue[0].Outcome)
	assert.Empty(t, f.urls)
	assert.Equal(t, 0, report.Stats.Downloaded)
}

func TestSkipDecisionExcludesMappedAsset(t *testing.T) {
	h := newHarness(t)
	m := bundledFixture(t, h)
	e := h.engine(Options{MirrorBaseURL: oldOrigin, RunScopeID: "again"}, nil, nil)

	_, err := e.Run(context.Background(), m)
	require.NoError(t, err)

	h.decisions.Set("again", 42, models.Decision{Action: models.ActionSkip})
	report, err := e.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Stats.Reused)
	assert.Equal(t, 0, report.Stats.Downloaded)
	assert.Equal(t, 0, report.Stats.UpdatedPosts)
	assert.False(t, report.LegacySync)

	ids, err := h.ids.Load()
	require.NoError(t, err)
	_, mapped := ids.Lookup(42)
	assert.False(t, mapped)
}

func TestReuseDecisionOnMappedAssetCountsOnce(t *testing.T) {
	h := newHarness(t)
	m := bundledFixture(t, h)
	e := h.engine(Options{MirrorBaseURL: oldOrigin}, nil, nil)

	_, err := e.Run(context.Background(), m)
	require.NoError(t, err)
	other := h.existing("other.jpg", "other")

	h.decisions.Set(decisions.GlobalBucket, 42, models.Decision{Action: models.ActionReuse, TargetID: other.ID})
	report, err := e.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.Reused)
	assert.Equal(t, 0, report.Stats.Downloaded)

	ids, err := h.ids.Load()
	require.NoError(t, err)
	local, ok := ids.Lookup(42)
	require.True(t, ok)
	assert.Equal(t, other.ID, local)
}

func TestResolverTargetMustExist(t *testing.T) {
	h := newHarness(t)
	res := &stubResolver{result: resolver.Result{
		Attachments: map[int64]resolver.Resolution{
			7: {Status: resolver.StatusReused, TargetID: 999},
		},
		IDMap:   map[int64]int64{8: 998},
		Metrics: resolver.Metrics{Detected: 2, Reused: 2},
	}}
	f := &stubFetcher{body: "x"}
	m := h.manifest(`{"media_index": [
		{"original_id": 7, "source_url": "https://new.example.com/a.jpg"},
		{"original_id": 8, "source_url": "https://new.example.com/b.jpg"}
	]}`)

	report, err := h.engine(Options{}, res, f).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Stats.Reused)
	assert.Equal(t, 2, report.Stats.Downloaded)
	assert.True(t, report.LegacySync)

	ids, err := h.ids.Load()
	require.NoError(t, err)
	for _, orig := range []int64{7, 8} {
		local, ok := ids.Lookup(orig)
		require.True(t, ok)
		assert.True(t, h.lib.Exists(local))
	}
}

func TestResolverConflictIsReportedAndTransportRuns(t *testing.T) {
	h := newHarness(t)
	res := &stubResolver{result: resolver.Result{
		Attachments: map[int64]resolver.Resolution{
			7: {Status: resolver.StatusConflict, Reason: "hash", Candidates: []int64{1, 2}},
		},
		Metrics: resolver.Metrics{Detected: 1},
	}}
	f := &stubFetcher{body: "x"}
	m := h.manifest(`{"media_index": [{"original_id": 7, "source_url": "https://new.example.com/a.jpg"}]}`)

	report, err := h.engine(Options{Mode: models.TransportRemote}, res, f).Run(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, report.Conflicts, 1)
	assert.Equal(t, Conflict{OriginalID: 7, Reason: "hash", Candidates: []int64{1, 2}}, report.Conflicts[0])
	assert.True(t, report.LegacySync)
	assert.Equal(t, 1, report.Stats.Downloaded)
}

func TestResolverFailureDegradesToTransport(t *testing.T) {
	h := newHarness(t)
	res := &stubResolver{err: errors.New("index offline")}
	f := &stubFetcher{body: "x"}
	m := h.manifest(`{"media_index": [{"original_id": 7, "source_url": "https://new.example.com/a.jpg"}]}`)

	report, err := h.engine(Options{}, res, f).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.Downloaded)
	assert.Empty(t, report.Resolver.Attachments)
}

func TestFetchFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	f := &stubFetcher{err: fmt.Errorf("%w: received status 404", downloader.ErrHttpStatus)}
	m := h.manifest(`{"media_index": [
		{"original_id": 7, "source_url": "https://new.example.com/a.jpg"},
		{"original_id": 8, "source_url": "https://new.example.com/b.jpg"}
	]}`)

	report, err := h.engine(Options{}, nil, f).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Stats.Errors)
	assert.Len(t, f.urls, 2)
	ids, err := h.ids.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, ids.Len())
}

func TestDownloadDecisionRewritesExistingRecord(t *testing.T) {
	h := newHarness(t)
	m := bundledFixture(t, h)
	e := h.engine(Options{MirrorBaseURL: oldOrigin, RunScopeID: "again"}, nil, nil)

	_, err := e.Run(context.Background(), m)
	require.NoError(t, err)
	before, _, err := h.lib.FindByOriginalID(42)
	require.NoError(t, err)

	h.decisions.Set("again", 42, models.Decision{Action: models.ActionDownload})
	report, err := e.Run(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, report.LegacySync)
	assert.Equal(t, 1, report.Stats.Downloaded)
	assert.Equal(t, 0, report.Stats.Reused)

	after, found, err := h.lib.FindByOriginalID(42)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, before.ID, after.ID)
	records, err := h.lib.List()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRemoteFetchThroughHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/a.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png bytes"))
	}))
	defer srv.Close()

	h := newHarness(t)
	m := h.manifest(fmt.Sprintf(`{"media_index": [{"original_id": 11, "source_url": %q}]}`, srv.URL+"/files/a.png"))
	e := h.engine(Options{Mode: models.TransportRemote, MirrorBaseURL: srv.URL}, nil, downloader.NewDownloader(srv.Client(), "test"))

	report, err := e.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stats.Downloaded)

	rec, found, err := h.lib.FindByOriginalID(11)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a.png", rec.Filename)
	assert.Equal(t, "image/png", rec.MimeType)
	data, err := os.ReadFile(h.lib.FilePath(rec))
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(data))

	leftovers, _ := os.ReadDir(h.lib.TempDir())
	assert.Empty(t, leftovers)
}

func TestProgressReportsStages(t *testing.T) {
	h := newHarness(t)
	m := bundledFixture(t, h)
	stages := map[string]int{}
	e := h.engine(Options{MirrorBaseURL: oldOrigin, Progress: func(stage string, done, total int) {
		stages[stage] = done
	}}, nil, nil)

	_, err := e.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, stages["collect"])
	assert.Equal(t, 1, stages["bundled"])
	assert.Equal(t, 1, stages["rewrite"])
	_, remote := stages["remote"]
	assert.False(t, remote, "bundled mode never reaches remote")
}
