package reconcile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go-media-reconcile/internal/helpers"
	"go-media-reconcile/internal/library"
	"go-media-reconcile/internal/models"

	log "github.com/sirupsen/logrus"
)

var errOutsideRoot = errors.New("path escapes storage root")

// containedPath joins rel onto root and refuses results outside root.
func containedPath(root, rel string) (string, error) {
	rel = filepath.FromSlash(strings.TrimSpace(rel))
	if rel == "" || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", fmt.Errorf("%w: %q", errOutsideRoot, rel)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	full := filepath.Join(absRoot, rel)
	within, err := filepath.Rel(absRoot, full)
	if err != nil || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", errOutsideRoot, rel)
	}
	return full, nil
}

// runBundled materializes unhandled entries from files shipped next to the
// manifest. In bundled mode a missing, unverifiable or mismatching file fails
// the entry; in auto mode the entry is left for the remote stage.
func (e *Engine) runBundled(run *Run) {
	strict := run.Mode == models.TransportBundled
	pending := run.unhandled()
	for i, entry := range pending {
		e.progress("bundled", i+1, len(pending))
		if entry.BundlePath == "" {
			continue
		}
		fields := log.Fields{"original_id": entry.OriginalID, "bundle_path": entry.BundlePath}

		full, err := containedPath(run.StorageRoot, entry.BundlePath)
		if err == nil {
			var info os.FileInfo
			info, err = os.Stat(full)
			if err == nil && info.IsDir() {
				err = fmt.Errorf("%s is a directory", full)
			}
		}
		if err != nil {
			if strict {
				run.Stats.Errors++
				entry.fail(err)
				log.WithFields(fields).WithError(err).Error("Bundled file unavailable")
			} else {
				log.WithFields(fields).WithError(err).Debug("Bundled file unavailable, leaving for remote")
			}
			continue
		}

		if entry.unverifiableHash != "" {
			err := fmt.Errorf("%w: %q", helpers.ErrUnsupportedHash, entry.unverifiableHash)
			if strict {
				run.Stats.Errors++
				entry.fail(err)
				log.WithFields(fields).WithError(err).Error("Bundled file cannot be verified")
			} else {
				log.WithFields(fields).WithError(err).Warn("Bundled file cannot be verified, leaving for remote")
			}
			continue
		}

		if entry.Hash != "" {
			actual, err := helpers.CheckHash(full, entry.Hash)
			if err != nil {
				log.WithFields(fields).WithFields(log.Fields{"expected": entry.Hash, "actual": actual}).WithError(err).Warn("Bundled file failed verification")
				if strict {
					run.Stats.Errors++
					entry.fail(err)
				}
				continue
			}
		}

		filename := entry.Filename
		if filename == "" {
			filename = filepath.Base(full)
		}
		rec, err := e.library.Materialize(full, library.Request{
			OriginalID: entry.OriginalID,
			AssetUID:   entry.Descriptor.AssetUID,
			SourceURL:  entry.SourceURL,
			Filename:   filename,
			Title:      entry.Descriptor.Title,
			MimeType:   entry.Descriptor.MimeType,
			Hash:       entry.Hash,
			ReuseID:    entry.ReuseID,
		})
		if err != nil {
			run.Stats.Errors++
			entry.fail(err)
			log.WithFields(fields).WithError(err).Error("Could not materialize bundled file")
			continue
		}
		run.IDs.Set(entry.OriginalID, rec.ID, entry.SourceURL)
		entry.finish(OutcomeDownloaded, rec.ID)
		run.Stats.Downloaded++
		log.WithFields(fields).WithField("local_id", rec.ID).Debug("Materialized bundled file")
	}
}
