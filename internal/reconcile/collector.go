package reconcile

import (
	"go-media-reconcile/internal/helpers"
	"go-media-reconcile/internal/manifest"
	"go-media-reconcile/internal/models"

	log "github.com/sirupsen/logrus"
)

// RecordFinder looks up local records by their original-id marker.
type RecordFinder interface {
	FindByOriginalID(originalID int64) (models.AssetRecord, bool, error)
}

// HostPolicy decides which source hosts may be fetched from.
type HostPolicy struct {
	LocalHost     string
	MirrorHost    string
	AllowExternal bool
}

// NewHostPolicy derives the allowed hosts from the configured origins.
// Unparseable origins allow nothing.
func NewHostPolicy(publicBaseURL, mirrorBaseURL string, allowExternal bool) HostPolicy {
	p := HostPolicy{AllowExternal: allowExternal}
	if publicBaseURL != "" {
		if h, err := helpers.URLHost(publicBaseURL); err == nil {
			p.LocalHost = h
		} else {
			log.WithError(err).Warnf("Ignoring unparseable public base url %q", publicBaseURL)
		}
	}
	if mirrorBaseURL != "" {
		if h, err := helpers.URLHost(mirrorBaseURL); err == nil {
			p.MirrorHost = h
		} else {
			log.WithError(err).Warnf("Ignoring unparseable mirror base url %q", mirrorBaseURL)
		}
	}
	return p
}

// Check returns the url's host and, when the url is refused, the reason.
func (p HostPolicy) Check(rawURL string) (host string, reason string) {
	host, err := helpers.URLHost(rawURL)
	if err != nil {
		return "", ReasonInvalidURL
	}
	switch {
	case p.LocalHost != "" && host == p.LocalHost:
	case p.MirrorHost != "" && host == p.MirrorHost:
	case p.AllowExternal:
	default:
		return host, ReasonHostNotAllowed
	}
	return host, ""
}

// Collect classifies every media index entry of the run's manifest as
// malformed, already resolved, unusable, blocked or queued. Records found by
// their original-id marker are primed into the identity map first.
func Collect(run *Run, finder RecordFinder, policy HostPolicy) CollectResult {
	for i, raw := range run.Manifest.MediaIndex {
		run.Collect.Detected++

		d, err := manifest.DecodeDescriptor(raw)
		if err != nil || !d.OriginalID.Valid() {
			run.Collect.Malformed++
			log.WithField("index", i).Debug("Discarding media entry without a usable original id")
			continue
		}
		orig := int64(d.OriginalID)
		if _, dup := run.known[orig]; dup {
			run.Collect.Malformed++
			log.WithField("original_id", orig).Warn("Duplicate original id in media index, keeping the first entry")
			continue
		}
		fields := log.Fields{"original_id": orig}

		if rec, found, err := finder.FindByOriginalID(orig); err != nil {
			log.WithFields(fields).WithError(err).Warn("Marker lookup failed")
		} else if found {
			run.IDs.Set(orig, rec.ID, d.SourceURL)
			log.WithFields(fields).WithField("local_id", rec.ID).Debug("Primed from existing record")
		}

		if localID, mapped := run.IDs.Lookup(orig); mapped {
			run.Stats.Reused++
			run.Collect.SkippedExisting++
			run.known[orig] = d
			log.WithFields(fields).WithField("local_id", localID).Debug("Skipping already resolved asset")
			continue
		}

		bundlePath := d.BundleFile()
		if d.SourceURL == "" && bundlePath == "" {
			run.Collect.Unusable++
			log.WithFields(fields).Debug("Discarding asset with neither source url nor bundle path")
			continue
		}

		var host string
		if d.SourceURL != "" {
			var reason string
			host, reason = policy.Check(d.SourceURL)
			if reason != "" {
				run.Collect.Blocked = append(run.Collect.Blocked, BlockedAsset{OriginalID: orig, URL: d.SourceURL, Reason: reason})
				run.Stats.Blocked++
				log.WithFields(fields).WithFields(log.Fields{"url": d.SourceURL, "reason": reason}).Info("Blocked asset")
				continue
			}
		}

		run.known[orig] = d
		entry := &QueueEntry{
			OriginalID: orig,
			Descriptor: d,
			SourceURL:  d.SourceURL,
			BundlePath: bundlePath,
			Outcome:    OutcomeQueued,
		}
		prepareEntry(entry, d)
		entry.Host = host
		run.enqueue(entry)
	}

	log.WithFields(log.Fields{
		"detected":         run.Collect.Detected,
		"queued":           len(run.Collect.Queue),
		"skipped_existing": run.Collect.SkippedExisting,
		"blocked":          len(run.Collect.Blocked),
		"malformed":        run.Collect.Malformed,
		"unusable":         run.Collect.Unusable,
	}).Info("Collected candidates")
	return run.Collect
}

// prepareEntry fills the normalized fields of a queue entry.
func prepareEntry(e *QueueEntry, d models.AssetDescriptor) {
	e.Filename = helpers.SanitizeFilename(d.Filename)
	if d.Hash != "" {
		if normalized, ok := helpers.NormalizeHash(d.Hash); ok {
			e.Hash = normalized
		} else {
			e.unverifiableHash = d.Hash
			log.WithField("original_id", e.OriginalID).Warnf("Unrecognized hash %q", d.Hash)
		}
	}
	if d.SourceURL != "" {
		if h, err := helpers.URLHost(d.SourceURL); err == nil {
			e.Host = h
		}
	}
}
