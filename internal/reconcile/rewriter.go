package reconcile

import (
	"strings"

	"go-media-reconcile/internal/content"
	"go-media-reconcile/internal/metavalue"
	"go-media-reconcile/internal/models"

	log "github.com/sirupsen/logrus"
)

// PrimaryVisualKey is the metadata key that always denotes the primary visual.
const PrimaryVisualKey = content.PrimaryVisualKey

// rewrite points every reference in the manifest's content items at the
// local assets recorded in the identity map. It never adds mappings.
func (e *Engine) rewrite(run *Run) {
	if e.content == nil {
		log.Warn("No content store configured, skipping reference rewrite")
		return
	}
	items := run.Manifest.Items
	for i, item := range items {
		e.progress("rewrite", i+1, len(items))
		if !item.HasRefs() {
			continue
		}
		fields := log.Fields{"uid": item.ContentRef.UID, "original_id": int64(item.ContentRef.OriginalID)}
		itemID, ok, err := e.content.Resolve(item.ContentRef.UID, int64(item.ContentRef.OriginalID), item.DeclaredType())
		if err != nil {
			run.Stats.Errors++
			log.WithFields(fields).WithError(err).Error("Could not resolve content item")
			continue
		}
		if !ok {
			log.WithFields(fields).Debug("Content item not present locally, skipping")
			continue
		}
		fields["item_id"] = itemID

		metaChanged := e.rewriteMeta(run, itemID, item.MediaRefs.Meta, fields)
		bodyChanged := e.rewriteBody(run, itemID, item.MediaRefs.Content, fields)
		if metaChanged || bodyChanged {
			run.Stats.UpdatedPosts++
		}
	}
}

func (e *Engine) rewriteMeta(run *Run, itemID int64, refs []models.MetaRef, fields log.Fields) bool {
	changed := false
	for _, ref := range refs {
		orig := int64(ref.OriginalID)
		newID, ok := run.IDs.Lookup(orig)
		if !ok {
			continue
		}
		refFields := log.Fields{"meta_key": ref.MetaKey, "asset_original_id": orig, "asset_id": newID}

		if ref.Primary || ref.MetaKey == PrimaryVisualKey {
			updated, err := e.content.SetPrimaryVisual(itemID, newID)
			if err != nil {
				run.Stats.Errors++
				log.WithFields(fields).WithFields(refFields).WithError(err).Error("Could not set primary visual")
				continue
			}
			if updated {
				run.Stats.MetaUpdates++
				changed = true
			}
			continue
		}

		current, found, err := e.content.Meta(itemID, ref.MetaKey, ref.ValueIndex)
		if err != nil {
			run.Stats.Errors++
			log.WithFields(fields).WithFields(refFields).WithError(err).Error("Could not read metadata")
			continue
		}
		if !found {
			log.WithFields(fields).WithFields(refFields).Debug("Metadata value gone, skipping reference")
			continue
		}
		next, replaced := metavalue.ReplaceID(current, ref.Path, orig, newID)
		if !replaced || metavalue.Equal(current, next) {
			log.WithFields(fields).WithFields(refFields).WithField("path", ref.Path.String()).Debug("Path does not resolve to the original id, skipping")
			continue
		}
		swapped, err := e.content.CompareAndSwapMeta(itemID, ref.MetaKey, ref.ValueIndex, current, next)
		if err != nil {
			run.Stats.Errors++
			log.WithFields(fields).WithFields(refFields).WithError(err).Error("Could not write metadata")
			continue
		}
		if !swapped {
			log.WithFields(fields).WithFields(refFields).Warn("Metadata changed while rewriting, leaving it alone")
			continue
		}
		run.Stats.MetaUpdates++
		changed = true
	}
	return changed
}

func (e *Engine) rewriteBody(run *Run, itemID int64, refs []models.BodyRef, fields log.Fields) bool {
	if len(refs) == 0 {
		return false
	}
	original, err := e.content.Body(itemID)
	if err != nil {
		run.Stats.Errors++
		log.WithFields(fields).WithError(err).Error("Could not read body")
		return false
	}

	body := original
	replacements := 0
	for _, ref := range refs {
		if ref.OriginalURL == "" {
			continue
		}
		localID, ok := int64(0), false
		if ref.OriginalID.Valid() {
			localID, ok = run.IDs.Lookup(int64(ref.OriginalID))
		}
		if !ok {
			localID, ok = run.IDs.LookupURL(ref.OriginalURL)
		}
		if !ok {
			continue
		}
		rec, err := e.library.Get(localID)
		if err != nil {
			log.WithFields(fields).WithField("asset_id", localID).WithError(err).Warn("Mapped asset has no record, leaving url")
			continue
		}
		newURL := e.library.URL(rec)
		if newURL == ref.OriginalURL {
			continue
		}
		n := strings.Count(body, ref.OriginalURL)
		if n == 0 {
			continue
		}
		body = strings.ReplaceAll(body, ref.OriginalURL, newURL)
		replacements += n
	}

	if replacements == 0 || body == original {
		return false
	}
	if err := e.content.SetBody(itemID, body); err != nil {
		run.Stats.Errors++
		log.WithFields(fields).WithError(err).Error("Could not write body")
		return false
	}
	run.Stats.ContentUpdates += replacements
	return true
}
