package fakeapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/foundry-cloud/flow/internal/models"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBidLifecycle(t *testing.T) {
	s := Demo(slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := s.Routes()

	payload := models.BidPayload{
		ClusterID:        "cluster-h100-8",
		InstanceQuantity: 2,
		InstanceTypeID:   "it-h100-80gb-8x",
		LimitPriceCents:  2500,
		OrderName:        "job-1",
		ProjectID:        DemoProjectID,
		SSHKeyIDs:        []string{"key-1"},
		UserID:           DemoUserID,
	}

	var bidID string
	t.Run("place", func(t *testing.T) {
		rr := do(t, h, "POST", "/projects/proj-1/spot-auctions/bids", DemoToken, payload)
		assert.Equal(t, http.StatusCreated, rr.Code)
		var b models.Bid
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&b))
		check.Equal(t, "job-1", b.OrderName)
		check.Equal(t, "pending", b.Status)
		bidID = b.ID
	})

	t.Run("instances created", func(t *testing.T) {
		rr := do(t, h, "GET", "/projects/proj-1/all_instances", DemoToken, nil)
		var byCat map[string][]models.Instance
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&byCat))
		check.Equal(t, 2, len(byCat["spot"]))
		check.Equal(t, 1, len(byCat["reserved"]))
	})

	t.Run("cancel twice", func(t *testing.T) {
		rr := do(t, h, "DELETE", "/projects/proj-1/spot-auctions/bids/"+bidID, DemoToken, nil)
		check.Equal(t, http.StatusNoContent, rr.Code)
		rr = do(t, h, "DELETE", "/projects/proj-1/spot-auctions/bids/"+bidID, DemoToken, nil)
		check.Equal(t, http.StatusNotFound, rr.Code)
		check.Equal(t, "canceled", s.Bids(DemoProjectID)[0].Status)
	})

	t.Run("unknown auction", func(t *testing.T) {
		p := payload
		p.ClusterID = "nope"
		rr := do(t, h, "POST", "/projects/proj-1/spot-auctions/bids", DemoToken, p)
		check.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("invalid payload", func(t *testing.T) {
		p := payload
		p.LimitPriceCents = 0
		rr := do(t, h, "POST", "/projects/proj-1/spot-auctions/bids", DemoToken, p)
		check.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	})
}

func TestAuthAndFaults(t *testing.T) {
	s := Demo(slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := s.Routes()

	rr := do(t, h, "GET", "/users/", "", nil)
	check.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = do(t, h, "GET", "/users/", "wrong", nil)
	check.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, h, "POST", "/login", "", map[string]string{"email": DemoEmail, "password": DemoPassword})
	assert.Equal(t, http.StatusOK, rr.Code)
	var login struct {
		AccessToken string `json:"access_token"`
	}
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&login))
	check.Equal(t, DemoToken, login.AccessToken)

	rr = do(t, h, "GET", "/users/user-1/projects", DemoToken, nil)
	check.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, h, "GET", "/users/user-2/projects", DemoToken, nil)
	check.Equal(t, http.StatusForbidden, rr.Code)

	s.FailNext("GET /marketplace/v1/regions", http.StatusServiceUnavailable)
	rr = do(t, h, "GET", "/marketplace/v1/regions", DemoToken, nil)
	check.Equal(t, http.StatusServiceUnavailable, rr.Code)
	rr = do(t, h, "GET", "/marketplace/v1/regions", DemoToken, nil)
	check.Equal(t, http.StatusOK, rr.Code)
}

func TestDiskCreate(t *testing.T) {
	s := Demo(slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := s.Routes()

	req := models.CreateDiskRequest{DiskID: "d-1", Name: "vol-x", DiskInterface: "Block", RegionID: "eu-west1-b", Size: 10, SizeUnit: "gb"}
	rr := do(t, h, "POST", "/marketplace/v1/projects/proj-1/disks", DemoToken, req)
	check.Equal(t, http.StatusCreated, rr.Code)
	check.Equal(t, 1, len(s.Disks(DemoProjectID)))

	req.RegionID = "mars"
	rr = do(t, h, "POST", "/marketplace/v1/projects/proj-1/disks", DemoToken, req)
	check.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInstanceType(t *testing.T) {
	h := Demo(slog.New(slog.NewTextHandler(io.Discard, nil))).Routes()

	rr := do(t, h, "GET", "/instance_types/it-h100-80gb-8x", DemoToken, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	var it models.InstanceType
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&it))
	check.Equal(t, "h100-80gb.8x", it.Name)
	assert.NotNil(t, it.NumCPUs)
	check.Equal(t, 128, *it.NumCPUs)

	rr = do(t, h, "GET", "/instance_types/it-a100-40gb-8x", DemoToken, nil)
	check.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, "GET", "/instance_types/it-h100-80gb-8x", "", nil)
	check.Equal(t, http.StatusUnauthorized, rr.Code)
}
