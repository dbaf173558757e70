package resolver

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go-media-reconcile/index"
	"go-media-reconcile/internal/helpers"
	"go-media-reconcile/internal/manifest"
	"go-media-reconcile/internal/models"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"
)

// RecordLister provides the local asset records to index.
type RecordLister interface {
	List() ([]models.AssetRecord, error)
}

// IndexResolver matches descriptors against local records through a bleve
// index, first by asset uid and then by content hash.
type IndexResolver struct {
	idx     bleve.Index
	records RecordLister
}

func NewIndexResolver(idx bleve.Index, records RecordLister) *IndexResolver {
	return &IndexResolver{idx: idx, records: records}
}

// Sync indexes every local record and drops documents whose record is gone.
func (r *IndexResolver) Sync() error {
	recs, err := r.records.List()
	if err != nil {
		return fmt.Errorf("listing records: %w", err)
	}
	live := make(map[string]bool, len(recs))
	batch := r.idx.NewBatch()
	for _, rec := range recs {
		item := index.Item{
			ID:         index.DocID(rec.ID),
			Type:       "asset",
			OriginalID: float64(rec.OriginalID),
			AssetUID:   rec.AssetUID,
			Hash:       rec.Hash,
			SourceURL:  rec.SourceURL,
			Filename:   rec.Filename,
			Title:      rec.Title,
			MimeType:   rec.MimeType,
			FilePath:   rec.RelativePath,
			SizeKB:     float64(rec.Size) / 1024,
		}
		live[item.ID] = true
		if err := batch.Index(item.ID, item); err != nil {
			return fmt.Errorf("indexing asset %d: %w", rec.ID, err)
		}
	}

	count, err := r.idx.DocCount()
	if err != nil {
		return err
	}
	if count > 0 {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(count), 0, false)
		res, err := r.idx.Search(req)
		if err != nil {
			return err
		}
		for _, hit := range res.Hits {
			if !live[hit.ID] {
				batch.Delete(hit.ID)
			}
		}
	}
	if err := r.idx.Batch(batch); err != nil {
		return fmt.Errorf("applying index batch: %w", err)
	}
	log.Debugf("Asset index synced with %d records", len(recs))
	return nil
}

func (r *IndexResolver) Resolve(ctx context.Context, m *models.Manifest, policy Policy) (Result, error) {
	result := EmptyResult()
	if m == nil {
		return result, nil
	}
	if err := r.Sync(); err != nil {
		return result, err
	}

	for i, raw := range m.MediaIndex {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		d, err := manifest.DecodeDescriptor(raw)
		if err != nil || !d.OriginalID.Valid() {
			log.Debugf("Resolver skipping media entry %d: no usable original id", i)
			continue
		}
		orig := int64(d.OriginalID)
		result.Metrics.Detected++

		res, viaUID, err := r.match(d)
		if err != nil {
			return result, err
		}
		switch res.Status {
		case StatusReused:
			result.Metrics.Reused++
			if viaUID {
				result.IDMap[orig] = res.TargetID
			}
		case StatusUnresolved:
			result.Metrics.Unresolved++
		}
		result.Attachments[orig] = res
	}
	log.WithFields(log.Fields{
		"detected":   result.Metrics.Detected,
		"reused":     result.Metrics.Reused,
		"unresolved": result.Metrics.Unresolved,
		"run_scope":  policy.RunScopeID,
	}).Info("Resolver pass complete")
	return result, nil
}

// match reports the resolution and whether it came from the asset uid.
func (r *IndexResolver) match(d models.AssetDescriptor) (Resolution, bool, error) {
	if d.AssetUID != "" {
		ids, err := index.FindExact(r.idx, "assetUid", d.AssetUID)
		if err != nil {
			return Resolution{}, false, err
		}
		if res, ok := fromHits(ids, "asset_uid"); ok {
			return res, res.Status == StatusReused, nil
		}
	}
	if hash, ok := helpers.NormalizeHash(d.Hash); ok {
		ids, err := index.FindExact(r.idx, "hash", hash)
		if err != nil {
			return Resolution{}, false, err
		}
		if res, ok := fromHits(ids, "hash"); ok {
			return res, false, nil
		}
	}
	return Resolution{Status: StatusUnresolved}, false, nil
}

func fromHits(ids []string, field string) (Resolution, bool) {
	var local []int64
	for _, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err == nil {
			local = append(local, n)
		}
	}
	switch len(local) {
	case 0:
		return Resolution{}, false
	case 1:
		return Resolution{Status: StatusReused, TargetID: local[0], Reason: "matched " + field}, true
	}
	sort.Slice(local, func(i, j int) bool { return local[i] < local[j] })
	return Resolution{
		Status:     StatusConflict,
		Reason:     fmt.Sprintf("%d local assets share %s", len(local), field),
		Candidates: local,
	}, true
}
