// Package bid builds bid payloads and manages placed bids.
package bid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/foundry-cloud/flow/internal/flowerr"
	"github.com/foundry-cloud/flow/internal/models"
)

type API interface {
	PlaceBid(ctx context.Context, payload models.BidPayload) (models.Bid, error)
	ListBids(ctx context.Context, projectID string) ([]models.Bid, error)
	CancelBid(ctx context.Context, projectID, bidID string) error
}

// Manager submits, queries and cancels bids. It performs no retries of its
// own; every call hits the API exactly once.
type Manager struct {
	api    API
	logger *slog.Logger
}

func NewManager(api API, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{api: api, logger: logger}
}

func (m *Manager) Submit(ctx context.Context, payload models.BidPayload) (models.Bid, error) {
	if err := payload.Validate(); err != nil {
		return models.Bid{}, err
	}

	m.logger.Info("placing bid",
		"project", payload.ProjectID,
		"order", payload.OrderName,
		"cluster", payload.ClusterID,
		"limit_cents", payload.LimitPriceCents,
	)
	b, err := m.api.PlaceBid(ctx, payload)
	if err != nil {
		return models.Bid{}, m.wrap("submit bid", payload.ProjectID, payload.OrderName, err)
	}
	if strings.TrimSpace(b.ID) == "" {
		return models.Bid{}, &flowerr.OpError{
			Op:        "submit bid",
			ProjectID: payload.ProjectID,
			OrderName: payload.OrderName,
			Err:       &flowerr.APIError{Message: "bid response has no id"},
		}
	}
	if b.OrderName == "" {
		b.OrderName = payload.OrderName
	}

	m.logger.Info("bid placed", "bid", b.ID, "order", b.OrderName, "status", b.Status)
	return b, nil
}

func (m *Manager) Get(ctx context.Context, projectID, bidID string) (models.Bid, error) {
	bids, err := m.List(ctx, projectID, "")
	if err != nil {
		return models.Bid{}, err
	}
	for _, b := range bids {
		if b.ID == bidID {
			return b, nil
		}
	}
	return models.Bid{}, &flowerr.OpError{
		Op:        "get bid",
		ProjectID: projectID,
		Err:       &flowerr.APIError{StatusCode: http.StatusNotFound, Message: fmt.Sprintf("bid %s not found", bidID)},
	}
}

// List returns the project's bids, keeping only those whose order name
// matches name (see NameMatches) when name is non-empty.
func (m *Manager) List(ctx context.Context, projectID, name string) ([]models.Bid, error) {
	bids, err := m.api.ListBids(ctx, projectID)
	if err != nil {
		return nil, m.wrap("list bids", projectID, name, err)
	}
	if name == "" {
		return bids, nil
	}
	var out []models.Bid
	for _, b := range bids {
		if NameMatches(b.OrderName, name) {
			out = append(out, b)
		}
	}
	return out, nil
}

// FindByName returns the first bid matching name that is still live, or the
// first match when all of them are finished.
func (m *Manager) FindByName(ctx context.Context, projectID, name string) (models.Bid, error) {
	if strings.TrimSpace(name) == "" {
		return models.Bid{}, &flowerr.ValidationError{Field: "name", Reason: "cannot be empty or whitespace"}
	}
	bids, err := m.List(ctx, projectID, name)
	if err != nil {
		return models.Bid{}, err
	}
	if len(bids) == 0 {
		return models.Bid{}, &flowerr.OpError{
			Op:        "find bid",
			ProjectID: projectID,
			OrderName: name,
			Err:       &flowerr.APIError{StatusCode: http.StatusNotFound, Message: "no bid named " + name},
		}
	}
	for _, b := range bids {
		if s := StateOf(b.Status); s != Canceled && s != Terminal {
			return b, nil
		}
	}
	return bids[0], nil
}

// Cancel deletes a bid. Canceling an unknown or already canceled bid fails
// with the API's error.
func (m *Manager) Cancel(ctx context.Context, projectID, bidID string) error {
	if strings.TrimSpace(bidID) == "" {
		return &flowerr.ValidationError{Field: "bid_id", Reason: "cannot be empty or whitespace"}
	}
	m.logger.Info("canceling bid", "project", projectID, "bid", bidID)
	if err := m.api.CancelBid(ctx, projectID, bidID); err != nil {
		return m.wrap("cancel bid "+bidID, projectID, "", err)
	}
	return nil
}

func (m *Manager) wrap(op, projectID, orderName string, err error) error {
	var authErr *flowerr.AuthenticationError
	if errors.As(err, &authErr) {
		return err
	}
	m.logger.Debug("bid operation failed", "op", op, "project", projectID, "error", err)
	return &flowerr.OpError{Op: op, ProjectID: projectID, OrderName: orderName, Err: err}
}
