package models

import (
	"errors"
	"strings"
	"time"

	"github.com/foundry-cloud/flow/internal/flowerr"
	"github.com/shopspring/decimal"
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type Project struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

type SSHKey struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
}

// Auction is a listed unit of spot GPU capacity. Fields other than ID may be
// absent in listings; absent numeric fields decode to nil.
type Auction struct {
	ID                      string              `json:"cluster_id"`
	GPUType                 string              `json:"gpu_type,omitempty"`
	InventoryQuantity       *int                `json:"inventory_quantity,omitempty"`
	NumGPUs                 *int                `json:"num_gpu,omitempty"`
	IntranodeInterconnect   string              `json:"intranode_interconnect,omitempty"`
	InternodeInterconnect   string              `json:"internode_interconnect,omitempty"`
	FCPInstance             string              `json:"fcp_instance,omitempty"`
	InstanceTypeID          string              `json:"instance_type_id,omitempty"`
	LastPrice               decimal.NullDecimal `json:"last_price"`
	Region                  string              `json:"region,omitempty"`
	RegionID                string              `json:"region_id,omitempty"`
	ResourceSpecificationID string              `json:"resource_specification_id,omitempty"`
}

type DiskAttachment struct {
	DiskID     string `json:"disk_id"`
	VolumeName string `json:"volume_name"`
}

func (d DiskAttachment) Validate() error {
	return errors.Join(
		requireNonBlank("disk_attachments.disk_id", d.DiskID),
		requireNonBlank("disk_attachments.volume_name", d.VolumeName),
	)
}

type BidPayload struct {
	ClusterID        string           `json:"cluster_id"`
	InstanceQuantity int              `json:"instance_quantity"`
	InstanceTypeID   string           `json:"instance_type_id"`
	LimitPriceCents  int              `json:"limit_price_cents"`
	OrderName        string           `json:"order_name"`
	ProjectID        string           `json:"project_id"`
	SSHKeyIDs        []string         `json:"ssh_key_ids"`
	StartupScript    string           `json:"startup_script,omitempty"`
	UserID           string           `json:"user_id"`
	DiskAttachments  []DiskAttachment `json:"disk_attachments,omitempty"`
}

// Validate reports every violated field as a *flowerr.ValidationError,
// joined when more than one field fails.
func (p BidPayload) Validate() error {
	errs := []error{
		requireNonBlank("cluster_id", p.ClusterID),
		requireNonBlank("instance_type_id", p.InstanceTypeID),
		requireNonBlank("order_name", p.OrderName),
		requireNonBlank("project_id", p.ProjectID),
		requireNonBlank("user_id", p.UserID),
	}
	if p.InstanceQuantity <= 0 {
		errs = append(errs, &flowerr.ValidationError{Field: "instance_quantity", Reason: "must be greater than 0"})
	}
	if p.LimitPriceCents <= 0 {
		errs = append(errs, &flowerr.ValidationError{Field: "limit_price_cents", Reason: "must be greater than 0"})
	}
	if len(p.SSHKeyIDs) == 0 {
		errs = append(errs, &flowerr.ValidationError{Field: "ssh_key_ids", Reason: "must not be empty"})
	}
	for _, id := range p.SSHKeyIDs {
		errs = append(errs, requireNonBlank("ssh_key_ids", id))
	}
	for _, d := range p.DiskAttachments {
		errs = append(errs, d.Validate())
	}
	return errors.Join(errs...)
}

// Bid is the server's view of a placed bid.
type Bid struct {
	ID               string     `json:"id"`
	OrderName        string     `json:"name,omitempty"`
	Status           string     `json:"status,omitempty"`
	ClusterID        string     `json:"cluster_id,omitempty"`
	InstanceQuantity int        `json:"instance_quantity,omitempty"`
	InstanceTypeID   string     `json:"instance_type_id,omitempty"`
	LimitPriceCents  int        `json:"limit_price_cents,omitempty"`
	ProjectID        string     `json:"project_id,omitempty"`
	UserID           string     `json:"user_id,omitempty"`
	SSHKeyIDs        []string   `json:"ssh_key_ids,omitempty"`
	StartupScript    string     `json:"startup_script,omitempty"`
	DiskIDs          []string   `json:"disk_ids,omitempty"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
	DeactivatedAt    *time.Time `json:"deactivated_at,omitempty"`
}

type Instance struct {
	InstanceID     string         `json:"instance_id,omitempty"`
	Name           string         `json:"name,omitempty"`
	InstanceStatus string         `json:"instance_status,omitempty"`
	InstanceTypeID string         `json:"instance_type_id,omitempty"`
	ClusterID      string         `json:"cluster_id,omitempty"`
	SSHDestination string         `json:"ssh_destination,omitempty"`
	OrderID        string         `json:"order_id,omitempty"`
	OrderType      string         `json:"order_type,omitempty"`
	SpotBidID      string         `json:"spot_bid_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedTS      *time.Time     `json:"created_ts,omitempty"`
	StartDate      *time.Time     `json:"start_date,omitempty"`

	// Category is the key the instance was listed under (spot, reserved, ...).
	Category string `json:"-"`
}

func (i Instance) Region() string {
	if r, ok := i.Metadata["region"].(string); ok {
		return r
	}
	return ""
}

// InstanceType describes the machine behind an auction's instance_type_id.
type InstanceType struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	NumCPUs      *int   `json:"num_cpus,omitempty" yaml:"num_cpus,omitempty"`
	NumGPUs      *int   `json:"num_gpus,omitempty" yaml:"num_gpus,omitempty"`
	MemoryGB     *int   `json:"memory_gb,omitempty" yaml:"memory_gb,omitempty"`
	Architecture string `json:"architecture,omitempty" yaml:"architecture,omitempty"`
}

type Region struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Disk struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	VolumeName string `json:"volume_name,omitempty"`
	Interface  string `json:"interface"`
	RegionID   string `json:"region_id"`
	Size       int    `json:"size,omitempty"`
	Unit       string `json:"unit,omitempty"`
}

// CreateDiskRequest is the body of a disk creation call.
type CreateDiskRequest struct {
	DiskID        string `json:"disk_id"`
	Name          string `json:"name"`
	DiskInterface string `json:"disk_interface"`
	RegionID      string `json:"region_id"`
	Size          int    `json:"size"`
	SizeUnit      string `json:"size_unit"`
}

type Event struct {
	ID          int64     `json:"id"`
	At          time.Time `json:"at"`
	Type        string    `json:"type"`
	ProjectID   *string   `json:"project_id,omitempty"`
	BidID       *string   `json:"bid_id,omitempty"`
	OrderName   *string   `json:"order_name,omitempty"`
	PayloadJSON *string   `json:"payload_json,omitempty"`
}

func requireNonBlank(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &flowerr.ValidationError{Field: field, Reason: "cannot be empty or whitespace"}
	}
	return nil
}
