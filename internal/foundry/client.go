// Package foundry is a typed client for the Foundry marketplace API.
package foundry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/foundry-cloud/flow/internal/flowerr"
	"github.com/foundry-cloud/flow/internal/gateway"
	"github.com/foundry-cloud/flow/internal/models"
)

const DefaultAPIURL = "https://api.mlfoundry.com"

type Client struct {
	gw gateway.Gateway
}

func NewClient(gw gateway.Gateway) *Client {
	return &Client{gw: gw}
}

func (c *Client) GetUser(ctx context.Context) (models.User, error) {
	var u models.User
	if err := c.gw.Do(ctx, http.MethodGet, "/users/", nil, &u); err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (c *Client) ListProjects(ctx context.Context, userID string) ([]models.Project, error) {
	var out []models.Project
	if err := c.gw.Do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/projects", nil, &out); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out, nil
}

func (c *Client) ListSSHKeys(ctx context.Context, projectID string) ([]models.SSHKey, error) {
	var out []models.SSHKey
	if err := c.gw.Do(ctx, http.MethodGet, projectPath(projectID, "/ssh_keys"), nil, &out); err != nil {
		return nil, fmt.Errorf("list ssh keys: %w", err)
	}
	return out, nil
}

// ListAuctions returns the raw gateway error so callers can attach their
// own context.
func (c *Client) ListAuctions(ctx context.Context, projectID string) ([]models.Auction, error) {
	var out []models.Auction
	if err := c.gw.Do(ctx, http.MethodGet, projectPath(projectID, "/spot-auctions/auctions"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PlaceBid(ctx context.Context, payload models.BidPayload) (models.Bid, error) {
	var out models.Bid
	if err := c.gw.Do(ctx, http.MethodPost, projectPath(payload.ProjectID, "/spot-auctions/bids"), payload, &out); err != nil {
		return models.Bid{}, err
	}
	return out, nil
}

func (c *Client) ListBids(ctx context.Context, projectID string) ([]models.Bid, error) {
	var out []models.Bid
	if err := c.gw.Do(ctx, http.MethodGet, projectPath(projectID, "/spot-auctions/bids"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CancelBid(ctx context.Context, projectID, bidID string) error {
	return c.gw.Do(ctx, http.MethodDelete, projectPath(projectID, "/spot-auctions/bids/"+url.PathEscape(bidID)), nil, nil)
}

// ListInstances flattens the per-category listing. Categories are visited in
// name order so output is deterministic; each instance keeps its category.
func (c *Client) ListInstances(ctx context.Context, projectID string) ([]models.Instance, error) {
	var byCategory map[string][]models.Instance
	if err := c.gw.Do(ctx, http.MethodGet, projectPath(projectID, "/all_instances"), nil, &byCategory); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	categories := make([]string, 0, len(byCategory))
	for k := range byCategory {
		categories = append(categories, k)
	}
	sort.Strings(categories)

	var out []models.Instance
	for _, cat := range categories {
		for _, inst := range byCategory[cat] {
			inst.Category = cat
			out = append(out, inst)
		}
	}
	return out, nil
}

// UnknownInstanceTypeName names the placeholder GetInstanceType returns for
// an id the API does not know.
const UnknownInstanceTypeName = "[unknown]"

// GetInstanceType looks up one instance type. A 404 yields a placeholder
// carrying only the id and UnknownInstanceTypeName.
func (c *Client) GetInstanceType(ctx context.Context, id string) (models.InstanceType, error) {
	var out models.InstanceType
	if err := c.gw.Do(ctx, http.MethodGet, "/instance_types/"+url.PathEscape(id), nil, &out); err != nil {
		if flowerr.IsNotFound(err) {
			return models.InstanceType{ID: id, Name: UnknownInstanceTypeName}, nil
		}
		return models.InstanceType{}, fmt.Errorf("get instance type %s: %w", id, err)
	}
	if out.ID == "" {
		out.ID = id
	}
	return out, nil
}

func (c *Client) CreateDisk(ctx context.Context, projectID string, req models.CreateDiskRequest) (models.Disk, error) {
	var out models.Disk
	if err := c.gw.Do(ctx, http.MethodPost, "/marketplace/v1/projects/"+url.PathEscape(projectID)+"/disks", req, &out); err != nil {
		return models.Disk{}, fmt.Errorf("create disk: %w", err)
	}
	return out, nil
}

func (c *Client) ListDisks(ctx context.Context, projectID string) ([]models.Disk, error) {
	var out []models.Disk
	if err := c.gw.Do(ctx, http.MethodGet, "/marketplace/v1/projects/"+url.PathEscape(projectID)+"/disks", nil, &out); err != nil {
		return nil, fmt.Errorf("list disks: %w", err)
	}
	return out, nil
}

// ListRegions accepts either a list or a single region object.
func (c *Client) ListRegions(ctx context.Context) ([]models.Region, error) {
	var raw json.RawMessage
	if err := c.gw.Do(ctx, http.MethodGet, "/marketplace/v1/regions", nil, &raw); err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}

	var list []models.Region
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single models.Region
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("decode regions: %w", err)
	}
	return []models.Region{single}, nil
}

func projectPath(projectID, suffix string) string {
	return "/projects/" + url.PathEscape(projectID) + suffix
}
