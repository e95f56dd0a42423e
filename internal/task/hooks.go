package task

import (
	"context"

	"github.com/foundry-cloud/flow/internal/config"
	"github.com/foundry-cloud/flow/internal/journal"
	"github.com/foundry-cloud/flow/internal/models"
	"github.com/foundry-cloud/flow/internal/storage"
)

// BidContext is what a hook sees once the bid is placed.
type BidContext struct {
	Task    *config.TaskConfig
	Auction models.Auction
	Payload models.BidPayload
	Bid     models.Bid
}

// PostBidHook is a side effect that follows a placed bid. A failing hook
// never undoes the bid.
type PostBidHook interface {
	Name() string
	AfterBid(ctx context.Context, bc BidContext) error
}

// DefaultHooks records the bid, then provisions any disk the task asks to
// create.
func DefaultHooks(p *storage.Provisioner, rec Recorder) []PostBidHook {
	var hooks []PostBidHook
	if rec != nil {
		hooks = append(hooks, JournalHook{Recorder: rec})
	}
	hooks = append(hooks, StorageHook{Provisioner: p, Recorder: rec})
	return hooks
}

type JournalHook struct {
	Recorder Recorder
}

func (JournalHook) Name() string { return "journal" }

func (h JournalHook) AfterBid(ctx context.Context, bc BidContext) error {
	return h.Recorder.Emit(ctx, journal.TypeBidSubmitted, bc.Payload.ProjectID, bc.Bid.ID, bc.Payload.OrderName, map[string]any{
		"cluster_id":        bc.Payload.ClusterID,
		"instance_type_id":  bc.Payload.InstanceTypeID,
		"instance_quantity": bc.Payload.InstanceQuantity,
		"limit_price_cents": bc.Payload.LimitPriceCents,
		"status":            bc.Bid.Status,
	})
}

// StorageHook creates the task's persistent disk in the auction's region.
type StorageHook struct {
	Provisioner *storage.Provisioner
	Recorder    Recorder
}

func (StorageHook) Name() string { return "storage" }

func (h StorageHook) AfterBid(ctx context.Context, bc BidContext) error {
	if bc.Task == nil {
		return nil
	}
	att, err := h.Provisioner.Create(ctx, bc.Payload.ProjectID, bc.Task.PersistentStorage, bc.Auction.RegionID)
	if err != nil || att == nil {
		return err
	}
	if h.Recorder == nil {
		return nil
	}
	return h.Recorder.Emit(ctx, journal.TypeDiskCreated, bc.Payload.ProjectID, bc.Bid.ID, bc.Payload.OrderName, att)
}
