// Package library stores materialized assets: one record per local asset in
// the database plus the file itself under the library root.
package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go-media-reconcile/internal/database"
	"go-media-reconcile/internal/helpers"
	"go-media-reconcile/internal/models"

	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when no record exists for an id.
var ErrNotFound = errors.New("asset record not found")

const (
	recordPrefix = "a_" // a_<id> -> AssetRecord
	markerPrefix = "o_" // o_<original id> -> local id
	tempDirName  = ".tmp"
)

// Library is the local asset store.
type Library struct {
	db            *database.DB
	root          string
	publicBaseURL string
}

// Request describes an asset to materialize.
type Request struct {
	OriginalID int64
	AssetUID   string
	SourceURL  string
	Filename   string
	Title      string
	MimeType   string
	Hash       string // Expected hash; its algorithm is reused for the record
	ReuseID    int64  // Rewrite this existing record instead of allocating a new one
	Move       bool   // Rename the source into place instead of copying it
}

// New returns a Library rooted at root. publicBaseURL is the canonical origin
// used to build asset URLs.
func New(db *database.DB, root string, publicBaseURL string) *Library {
	return &Library{
		db:            db,
		root:          root,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

func recordKey(id int64) string { return recordPrefix + strconv.FormatInt(id, 10) }
func markerKey(id int64) string { return markerPrefix + strconv.FormatInt(id, 10) }

// TempDir is where in-flight fetches are written before materializing.
func (l *Library) TempDir() string { return filepath.Join(l.root, tempDirName) }

// FilePath returns the absolute path of a record's file.
func (l *Library) FilePath(rec models.AssetRecord) string {
	return filepath.Join(l.root, filepath.FromSlash(rec.RelativePath))
}

// Get returns the record with the given local id.
func (l *Library) Get(id int64) (models.AssetRecord, error) {
	var rec models.AssetRecord
	if err := l.db.GetJSON(recordKey(id), &rec); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return models.AssetRecord{}, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return models.AssetRecord{}, err
	}
	return rec, nil
}

// Exists reports whether a record exists for id.
func (l *Library) Exists(id int64) bool {
	return l.db.Has([]byte(recordKey(id)))
}

// FindByOriginalID returns the record carrying the original-id marker. A
// marker pointing at a vanished record is treated as absent.
func (l *Library) FindByOriginalID(originalID int64) (models.AssetRecord, bool, error) {
	if originalID <= 0 {
		return models.AssetRecord{}, false, nil
	}
	raw, err := l.db.Get([]byte(markerKey(originalID)))
	if errors.Is(err, database.ErrNotFound) {
		return models.AssetRecord{}, false, nil
	}
	if err != nil {
		return models.AssetRecord{}, false, err
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return models.AssetRecord{}, false, fmt.Errorf("corrupt marker for original id %d: %w", originalID, err)
	}
	rec, err := l.Get(id)
	if errors.Is(err, ErrNotFound) {
		log.WithFields(log.Fields{"original_id": originalID, "local_id": id}).Debug("Marker points at missing record")
		return models.AssetRecord{}, false, nil
	}
	if err != nil {
		return models.AssetRecord{}, false, err
	}
	return rec, true, nil
}

// Materialize places the file at src into the library and writes its record
// and markers. The record's hash is computed from the stored file.
func (l *Library) Materialize(src string, req Request) (models.AssetRecord, error) {
	var (
		rec models.AssetRecord
		old string
	)
	if req.ReuseID > 0 {
		existing, err := l.Get(req.ReuseID)
		switch {
		case err == nil:
			rec = existing
			old = l.FilePath(existing)
		case !errors.Is(err, ErrNotFound):
			return models.AssetRecord{}, err
		}
	}
	if rec.ID == 0 {
		id, err := l.db.NextSequence("asset")
		if err != nil {
			return models.AssetRecord{}, fmt.Errorf("allocating asset id: %w", err)
		}
		rec.ID = id
	}

	filename := helpers.SanitizeFilename(req.Filename)
	if filename == "" {
		filename = "asset-" + strconv.FormatInt(rec.ID, 10) + filepath.Ext(src)
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(filename))
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	rel := path.Join(mediaDir(mimeType), fmt.Sprintf("%d_%s", rec.ID, filename))
	dest := filepath.Join(l.root, filepath.FromSlash(rel))
	if !helpers.CheckAndMakeDir(filepath.Dir(dest)) {
		return models.AssetRecord{}, fmt.Errorf("creating directory for %s", dest)
	}
	if err := place(src, dest, req.Move); err != nil {
		return models.AssetRecord{}, err
	}
	if old != "" && old != dest {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			log.WithError(err).Warnf("Could not remove previous file %s", old)
		}
	}

	algo := helpers.DefaultHashAlgorithm
	if normalized, ok := helpers.NormalizeHash(req.Hash); ok {
		algo, _, _ = strings.Cut(normalized, ":")
	}
	sum, err := helpers.HashFile(dest, algo)
	if err != nil {
		return models.AssetRecord{}, err
	}
	info, err := os.Stat(dest)
	if err != nil {
		return models.AssetRecord{}, fmt.Errorf("stat %s: %w", dest, err)
	}

	if rec.OriginalID > 0 && rec.OriginalID != req.OriginalID {
		_ = l.db.Delete([]byte(markerKey(rec.OriginalID)))
	}
	rec.OriginalID = req.OriginalID
	rec.AssetUID = req.AssetUID
	rec.SourceURL = req.SourceURL
	rec.RelativePath = rel
	rec.Filename = filename
	rec.Title = req.Title
	rec.MimeType = mimeType
	rec.Hash = sum
	rec.Size = info.Size()
	rec.Timestamp = time.Now().Unix()

	if err := l.db.PutJSON(recordKey(rec.ID), rec); err != nil {
		return models.AssetRecord{}, err
	}
	if rec.OriginalID > 0 {
		if err := l.db.Put([]byte(markerKey(rec.OriginalID)), []byte(strconv.FormatInt(rec.ID, 10))); err != nil {
			return models.AssetRecord{}, err
		}
	}
	log.WithFields(log.Fields{"id": rec.ID, "original_id": rec.OriginalID, "path": rel}).Debug("Materialized asset")
	return rec, nil
}

// URL returns the canonical public URL of a record.
func (l *Library) URL(rec models.AssetRecord) string {
	parts := strings.Split(rec.RelativePath, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return l.publicBaseURL + "/media/" + strings.Join(parts, "/")
}

// Forget removes a record, its marker and its file.
func (l *Library) Forget(id int64) error {
	rec, err := l.Get(id)
	if err != nil {
		return err
	}
	if err := os.Remove(l.FilePath(rec)); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warnf("Could not remove file for asset %d", id)
	}
	if rec.OriginalID > 0 {
		if err := l.db.Delete([]byte(markerKey(rec.OriginalID))); err != nil && !errors.Is(err, database.ErrNotFound) {
			return err
		}
	}
	return l.db.Delete([]byte(recordKey(id)))
}

// List returns every record ordered by id.
func (l *Library) List() ([]models.AssetRecord, error) {
	var out []models.AssetRecord
	err := l.db.Scan(recordPrefix, func(key, value []byte) error {
		var rec models.AssetRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			log.WithError(err).Warnf("Skipping undecodable record %s", string(key))
			return nil
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Verify re-hashes a record's file against its stored hash.
func (l *Library) Verify(rec models.AssetRecord) error {
	_, err := helpers.CheckHash(l.FilePath(rec), rec.Hash)
	return err
}

func mediaDir(mimeType string) string {
	major, _, _ := strings.Cut(mimeType, "/")
	switch major {
	case "image", "video", "audio":
		return major
	}
	return "files"
}

// place moves or copies src to dest through a temp file in dest's directory.
func place(src, dest string, move bool) error {
	if move {
		if err := os.Rename(src, dest); err == nil {
			return nil
		}
		// Cross-device: fall back to copy then remove.
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", dest, err)
	}
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp file for %s: %w", dest, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming into %s: %w", dest, err)
	}
	if move {
		in.Close()
		if err := os.Remove(src); err != nil {
			log.WithError(err).Debugf("Could not remove moved source %s", src)
		}
	}
	return nil
}
