// Package resolver defines the contract of the asset resolver consulted
// before any transport runs, plus two implementations.
package resolver

import (
	"context"

	"go-media-reconcile/internal/models"
)

// Resolution statuses.
const (
	StatusReused     = "reused"
	StatusConflict   = "conflict"
	StatusUnresolved = "unresolved"
)

// Policy is what the engine tells the resolver about the run.
type Policy struct {
	AllowRemote bool
	RunScopeID  string
	BundleMeta  models.Bundle
	StorageRoot string
}

// Resolution is the verdict for one original asset id.
type Resolution struct {
	Status     string  `json:"status"`
	TargetID   int64   `json:"target_id,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Candidates []int64 `json:"candidates,omitempty"`
}

// Metrics summarize a resolver pass.
type Metrics struct {
	Detected   int `json:"detected"`
	Reused     int `json:"reused"`
	Unresolved int `json:"unresolved"`
}

// Result is keyed by original asset id. IDMap holds mappings the resolver is
// confident enough to apply directly.
type Result struct {
	Attachments map[int64]Resolution `json:"attachments"`
	Metrics     Metrics              `json:"metrics"`
	IDMap       map[int64]int64      `json:"id_map"`
}

// Resolver matches manifest assets against the target store.
type Resolver interface {
	Resolve(ctx context.Context, manifest *models.Manifest, policy Policy) (Result, error)
}

// EmptyResult returns a Result with initialized maps.
func EmptyResult() Result {
	return Result{
		Attachments: map[int64]Resolution{},
		IDMap:       map[int64]int64{},
	}
}

// Nop resolves nothing; every asset goes through transport.
type Nop struct{}

func (Nop) Resolve(context.Context, *models.Manifest, Policy) (Result, error) {
	return EmptyResult(), nil
}
