package reconcile

import (
	"context"
	"sort"

	"go-media-reconcile/internal/models"
	"go-media-reconcile/internal/resolver"

	log "github.com/sirupsen/logrus"
)

// verdict is what a strategy decided for one asset.
type verdict struct {
	action   string // models.Action* or resolver.StatusConflict
	targetID int64
	source   string
	conflict *resolver.Resolution
}

// strategy returns a verdict or false to defer to the next one.
type strategy func(run *Run, originalID int64, res resolver.Resolution, hasRes bool) (verdict, bool)

// LegacyGate decides whether the bundled and remote stages run.
type LegacyGate func(queue []*QueueEntry, result resolver.Result) bool

// ShouldRunLegacySync runs transport unless nothing is left to do or the
// resolver mapped everything it detected with nothing unresolved.
func ShouldRunLegacySync(queue []*QueueEntry, result resolver.Result) bool {
	pending := false
	for _, e := range queue {
		if e.Handled {
			continue
		}
		if e.ForceDownload {
			return true
		}
		pending = true
	}
	if !pending {
		return false
	}
	m := result.Metrics
	if m.Unresolved == 0 && m.Detected > 0 && len(result.IDMap) >= m.Detected {
		return false
	}
	return true
}

// strategies returns the precedence chain, highest first.
func (e *Engine) strategies() []strategy {
	return []strategy{
		e.runDecision,
		e.globalDecision,
		e.resolverReused,
		resolverConflict,
	}
}

func (e *Engine) decisionVerdict(d models.Decision, source string, originalID int64) (verdict, bool) {
	switch d.Action {
	case models.ActionReuse, models.ActionMap:
		if d.TargetID <= 0 {
			log.WithFields(log.Fields{"original_id": originalID, "scope": source}).Warnf("Ignoring %s decision without target", d.Action)
			return verdict{}, false
		}
		if !e.library.Exists(d.TargetID) {
			log.WithFields(log.Fields{"original_id": originalID, "scope": source, "target_id": d.TargetID}).Warnf("Ignoring %s decision: target does not exist", d.Action)
			return verdict{}, false
		}
		return verdict{action: d.Action, targetID: d.TargetID, source: source}, true
	case models.ActionSkip, models.ActionDownload:
		return verdict{action: d.Action, source: source}, true
	}
	return verdict{}, false
}

func (e *Engine) runDecision(run *Run, originalID int64, _ resolver.Resolution, _ bool) (verdict, bool) {
	d, ok := e.decisions.RunDecision(run.ScopeID, originalID)
	if !ok {
		return verdict{}, false
	}
	return e.decisionVerdict(d, models.ScopeRun, originalID)
}

func (e *Engine) globalDecision(_ *Run, originalID int64, _ resolver.Resolution, _ bool) (verdict, bool) {
	d, ok := e.decisions.GlobalDecision(originalID)
	if !ok {
		return verdict{}, false
	}
	return e.decisionVerdict(d, models.ScopeGlobal, originalID)
}

func (e *Engine) resolverReused(run *Run, originalID int64, res resolver.Resolution, hasRes bool) (verdict, bool) {
	if !hasRes || res.Status != resolver.StatusReused || res.TargetID <= 0 {
		return verdict{}, false
	}
	// An existing mapping outranks a resolver guess; only decisions replace it.
	if _, mapped := run.IDs.Lookup(originalID); mapped {
		return verdict{}, false
	}
	if !e.library.Exists(res.TargetID) {
		log.WithFields(log.Fields{"original_id": originalID, "target_id": res.TargetID}).Warn("Ignoring resolver match: target does not exist")
		return verdict{}, false
	}
	return verdict{action: models.ActionReuse, targetID: res.TargetID, source: "resolver"}, true
}

func resolverConflict(_ *Run, _ int64, res resolver.Resolution, hasRes bool) (verdict, bool) {
	if !hasRes || res.Status != resolver.StatusConflict {
		return verdict{}, false
	}
	r := res
	return verdict{action: resolver.StatusConflict, source: "resolver", conflict: &r}, true
}

// adapt consults the resolver once and applies decisions and verdicts to the
// queue and identity map. A failing resolver degrades to an empty result.
func (e *Engine) adapt(ctx context.Context, run *Run) {
	policy := resolver.Policy{
		AllowRemote: run.Mode != models.TransportBundled,
		RunScopeID:  run.ScopeID,
		BundleMeta:  run.Manifest.Bundle,
		StorageRoot: run.StorageRoot,
	}
	result, err := e.resolver.Resolve(ctx, run.Manifest, policy)
	if err != nil {
		log.WithError(err).Error("Resolver failed, continuing with transport only")
		result = resolver.EmptyResult()
	}
	if result.Attachments == nil {
		result.Attachments = map[int64]resolver.Resolution{}
	}
	if result.IDMap == nil {
		result.IDMap = map[int64]int64{}
	}
	run.Resolver = result

	keys := run.knownIDs()
	for id := range result.Attachments {
		if _, ok := run.known[id]; !ok {
			log.WithField("original_id", id).Debug("Ignoring resolution for an asset not eligible in this run")
		}
	}

	chain := e.strategies()
	for _, orig := range keys {
		res, hasRes := result.Attachments[orig]
		for _, s := range chain {
			v, ok := s(run, orig, res, hasRes)
			if !ok {
				continue
			}
			e.apply(run, orig, v)
			break
		}
	}

	mapped := make([]int64, 0, len(result.IDMap))
	for orig := range result.IDMap {
		mapped = append(mapped, orig)
	}
	sort.Slice(mapped, func(i, j int) bool { return mapped[i] < mapped[j] })
	for _, orig := range mapped {
		entry, queued := run.entries[orig]
		if !queued || entry.Handled || entry.ForceDownload {
			continue
		}
		if _, already := run.IDs.Lookup(orig); already {
			continue
		}
		target := result.IDMap[orig]
		if !e.library.Exists(target) {
			log.WithFields(log.Fields{"original_id": orig, "target_id": target}).Warn("Ignoring resolver id map entry: target does not exist")
			continue
		}
		run.IDs.Set(orig, target, entry.SourceURL)
		run.Stats.Reused++
		entry.finish(OutcomeReused, target)
		log.WithFields(log.Fields{"original_id": orig, "local_id": target}).Debug("Applied resolver id map")
	}
}

func (e *Engine) apply(run *Run, orig int64, v verdict) {
	entry, queued := run.entries[orig]
	fields := log.Fields{"original_id": orig, "source": v.source, "action": v.action}

	switch v.action {
	case models.ActionReuse, models.ActionMap:
		// Assets mapped before the adapter ran were counted by the collector.
		current, mapped := run.IDs.Lookup(orig)
		if !mapped || current != v.targetID {
			run.IDs.Set(orig, v.targetID, run.known[orig].SourceURL)
		}
		if !mapped {
			run.Stats.Reused++
		}
		if queued {
			outcome := OutcomeReused
			if v.action == models.ActionMap {
				outcome = OutcomeMapped
			}
			entry.finish(outcome, v.targetID)
		}
		log.WithFields(fields).WithField("local_id", v.targetID).Debug("Mapped asset")

	case models.ActionSkip:
		if queued {
			entry.finish(OutcomeSkipped, 0)
		} else if _, mapped := run.IDs.Lookup(orig); mapped {
			// Counted as reused by the collector; excluded instead.
			run.IDs.Unset(orig)
			run.Stats.Reused--
		}
		log.WithFields(fields).Debug("Skipping asset by decision")

	case models.ActionDownload:
		if queued && entry.forced {
			return
		}
		if !queued {
			if u := run.known[orig].SourceURL; u != "" {
				if _, reason := e.policy.Check(u); reason != "" {
					log.WithFields(fields).WithField("reason", reason).Warn("Cannot force download from a refused source, keeping mapping")
					return
				}
			}
		}
		reuseID, _ := run.IDs.Lookup(orig)
		run.IDs.Unset(orig)
		if !queued {
			// Counted as reused by the collector; it is downloaded instead.
			run.Stats.Reused--
			d := run.known[orig]
			entry = &QueueEntry{
				OriginalID: orig,
				Descriptor: d,
				SourceURL:  d.SourceURL,
				BundlePath: d.BundleFile(),
				Outcome:    OutcomeQueued,
			}
			prepareEntry(entry, d)
			run.enqueue(entry)
		}
		entry.Handled = false
		entry.ForceDownload = true
		entry.forced = true
		entry.Outcome = OutcomeQueued
		if reuseID > 0 {
			entry.ReuseID = reuseID
		}
		log.WithFields(fields).WithField("reuse_id", reuseID).Info("Forcing download by decision")

	case resolver.StatusConflict:
		c := Conflict{OriginalID: orig, Reason: v.conflict.Reason, Candidates: v.conflict.Candidates}
		run.Conflicts = append(run.Conflicts, c)
		log.WithFields(log.Fields{
			"asset_id":   orig,
			"reason":     c.Reason,
			"candidates": c.Candidates,
		}).Warn("Resolver conflict left unresolved")
	}
}
