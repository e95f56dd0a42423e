package bid

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/foundry-cloud/flow/internal/flowerr"
	"github.com/foundry-cloud/flow/internal/models"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

type memAPI struct {
	bids     []models.Bid
	placeErr error
	placed   int
	canceled []string
}

func (m *memAPI) PlaceBid(ctx context.Context, p models.BidPayload) (models.Bid, error) {
	m.placed++
	if m.placeErr != nil {
		return models.Bid{}, m.placeErr
	}
	b := models.Bid{ID: "bid-1", OrderName: p.OrderName, Status: "pending", ProjectID: p.ProjectID}
	m.bids = append(m.bids, b)
	return b, nil
}

func (m *memAPI) ListBids(ctx context.Context, projectID string) ([]models.Bid, error) {
	return m.bids, nil
}

func (m *memAPI) CancelBid(ctx context.Context, projectID, bidID string) error {
	for i, b := range m.bids {
		if b.ID == bidID {
			m.bids = append(m.bids[:i], m.bids[i+1:]...)
			m.canceled = append(m.canceled, bidID)
			return nil
		}
	}
	return &flowerr.APIError{StatusCode: http.StatusNotFound, Message: "bid not found"}
}

func newManager(api API) *Manager {
	return NewManager(api, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func validPayload() models.BidPayload {
	return models.BidPayload{
		ClusterID:        "c1",
		InstanceQuantity: 1,
		InstanceTypeID:   "it1",
		LimitPriceCents:  424,
		OrderName:        "job-1234abcd",
		ProjectID:        "p1",
		SSHKeyIDs:        []string{"k1"},
		UserID:           "u1",
	}
}

func TestSubmit(t *testing.T) {
	t.Run("returns placed bid", func(t *testing.T) {
		api := &memAPI{}
		b, err := newManager(api).Submit(context.Background(), validPayload())
		assert.NoError(t, err)
		check.NotEqual(t, "", b.ID)
		check.Equal(t, "job-1234abcd", b.OrderName)
	})

	t.Run("invalid payload never reaches api", func(t *testing.T) {
		api := &memAPI{}
		p := validPayload()
		p.SSHKeyIDs = nil
		_, err := newManager(api).Submit(context.Background(), p)
		var vErr *flowerr.ValidationError
		check.True(t, errors.As(err, &vErr))
		check.Equal(t, 0, api.placed)
	})

	t.Run("auth error is not wrapped", func(t *testing.T) {
		authErr := &flowerr.AuthenticationError{Msg: "expired"}
		api := &memAPI{placeErr: authErr}
		_, err := newManager(api).Submit(context.Background(), validPayload())
		check.True(t, err == error(authErr))
		check.Equal(t, 1, api.placed)
	})

	t.Run("other errors carry project and order", func(t *testing.T) {
		api := &memAPI{placeErr: &flowerr.APIError{StatusCode: http.StatusServiceUnavailable}}
		_, err := newManager(api).Submit(context.Background(), validPayload())

		var opErr *flowerr.OpError
		assert.True(t, errors.As(err, &opErr))
		check.Equal(t, "p1", opErr.ProjectID)
		check.Equal(t, "job-1234abcd", opErr.OrderName)
		var apiErr *flowerr.APIError
		check.True(t, errors.As(err, &apiErr))
	})
}

func TestCancel(t *testing.T) {
	api := &memAPI{bids: []models.Bid{{ID: "bid-7", OrderName: "job"}}}
	m := newManager(api)

	assert.NoError(t, m.Cancel(context.Background(), "p1", "bid-7"))
	check.Equal(t, []string{"bid-7"}, api.canceled)

	t.Run("already canceled fails loudly", func(t *testing.T) {
		err := m.Cancel(context.Background(), "p1", "bid-7")
		check.True(t, flowerr.IsNotFound(err))
	})

	t.Run("unknown bid", func(t *testing.T) {
		err := m.Cancel(context.Background(), "p1", "nope")
		var apiErr *flowerr.APIError
		check.True(t, errors.As(err, &apiErr))
	})
}

func TestQueries(t *testing.T) {
	api := &memAPI{bids: []models.Bid{
		{ID: "b1", OrderName: "train", Status: "active"},
		{ID: "b2", OrderName: "eval", Status: "pending"},
		{ID: "b3", OrderName: "train", Status: "canceled"},
		{ID: "b4", OrderName: "train-0badf00d", Status: "pending"},
	}}
	m := newManager(api)
	ctx := context.Background()

	all, err := m.List(ctx, "p1", "")
	assert.NoError(t, err)
	check.Equal(t, 4, len(all))

	named, err := m.List(ctx, "p1", "train")
	assert.NoError(t, err)
	check.Equal(t, 3, len(named))

	b, err := m.Get(ctx, "p1", "b2")
	assert.NoError(t, err)
	check.Equal(t, "eval", b.OrderName)

	_, err = m.Get(ctx, "p1", "b9")
	check.True(t, flowerr.IsNotFound(err))

	b, err = m.FindByName(ctx, "p1", "train")
	assert.NoError(t, err)
	check.Equal(t, "b1", b.ID)

	_, err = m.FindByName(ctx, "p1", "missing")
	check.True(t, flowerr.IsNotFound(err))
}
