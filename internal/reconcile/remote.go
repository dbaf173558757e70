package reconcile

import (
	"context"
	"errors"
	"mime"
	"os"

	"go-media-reconcile/internal/helpers"
	"go-media-reconcile/internal/library"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var errNoSourceURL = errors.New("asset has no source url")

// remoteFilename picks the stored name: descriptor filename, then the URL's
// last path element, then the server's Content-Disposition name, then a
// generated one.
func remoteFilename(entry *QueueEntry, serverName, contentType string) string {
	for _, candidate := range []string{entry.Filename, helpers.URLBasename(entry.SourceURL), serverName} {
		if name := helpers.SanitizeFilename(candidate); name != "" {
			return name
		}
	}
	ext := ""
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		ext = exts[0]
	}
	return uuid.NewString() + ext
}

// runRemote fetches every entry still unhandled. Failures are isolated to
// their entry.
func (e *Engine) runRemote(ctx context.Context, run *Run) {
	pending := run.unhandled()
	for i, entry := range pending {
		e.progress("remote", i+1, len(pending))
		fields := log.Fields{"original_id": entry.OriginalID, "url": entry.SourceURL}

		if entry.SourceURL == "" {
			run.Stats.Errors++
			entry.fail(errNoSourceURL)
			log.WithFields(fields).Warn("Cannot fetch asset without a source url")
			continue
		}

		res, err := e.fetcher.Fetch(ctx, entry.SourceURL, e.library.TempDir(), entry.Hash)
		if err != nil {
			run.Stats.Errors++
			entry.fail(err)
			log.WithFields(fields).WithError(err).Error("Fetch failed")
			continue
		}

		mimeType := entry.Descriptor.MimeType
		if mimeType == "" {
			mimeType = res.ContentType
		}
		rec, err := e.library.Materialize(res.Path, library.Request{
			OriginalID: entry.OriginalID,
			AssetUID:   entry.Descriptor.AssetUID,
			SourceURL:  entry.SourceURL,
			Filename:   remoteFilename(entry, res.Filename, res.ContentType),
			Title:      entry.Descriptor.Title,
			MimeType:   mimeType,
			Hash:       entry.Hash,
			ReuseID:    entry.ReuseID,
			Move:       true,
		})
		if err != nil {
			if rmErr := os.Remove(res.Path); rmErr != nil && !os.IsNotExist(rmErr) {
				log.WithError(rmErr).Debugf("Could not remove temp file %s", res.Path)
			}
			run.Stats.Errors++
			entry.fail(err)
			log.WithFields(fields).WithError(err).Error("Could not materialize fetched file")
			continue
		}
		run.IDs.Set(entry.OriginalID, rec.ID, entry.SourceURL)
		entry.finish(OutcomeDownloaded, rec.ID)
		run.Stats.Downloaded++
		log.WithFields(fields).WithField("local_id", rec.ID).Info("Downloaded asset")
	}
}
