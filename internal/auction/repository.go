// Package auction fetches spot auction listings and filters them against a
// resource request.
package auction

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/foundry-cloud/flow/internal/flowerr"
	"github.com/foundry-cloud/flow/internal/models"
)

type Lister interface {
	ListAuctions(ctx context.Context, projectID string) ([]models.Auction, error)
}

type Repository struct {
	lister Lister
	logger *slog.Logger
}

func NewRepository(lister Lister, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{lister: lister, logger: logger}
}

// FetchAuctions lists a project's auctions. It never retries; every failure
// comes back as an *flowerr.APIError inside an *flowerr.OpError.
func (r *Repository) FetchAuctions(ctx context.Context, projectID string) ([]models.Auction, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, &flowerr.ValidationError{Field: "project_id", Reason: "cannot be empty or whitespace"}
	}

	auctions, err := r.lister.ListAuctions(ctx, projectID)
	if err != nil {
		var apiErr *flowerr.APIError
		if !errors.As(err, &apiErr) {
			err = &flowerr.APIError{Message: "fetch auctions failed", Err: err}
		}
		return nil, &flowerr.OpError{Op: "fetch auctions", ProjectID: projectID, Err: err}
	}

	r.logger.Debug("fetched auctions", "project", projectID, "count", len(auctions))
	return auctions, nil
}
