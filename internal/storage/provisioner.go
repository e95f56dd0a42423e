// Package storage creates and looks up persistent disks for a task.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/foundry-cloud/flow/internal/config"
	"github.com/foundry-cloud/flow/internal/flowerr"
	"github.com/foundry-cloud/flow/internal/models"
	"github.com/google/uuid"
)

const (
	DefaultDiskInterface = "Block"
	DefaultSizeUnit      = "gb"
)

type API interface {
	CreateDisk(ctx context.Context, projectID string, req models.CreateDiskRequest) (models.Disk, error)
	ListDisks(ctx context.Context, projectID string) ([]models.Disk, error)
	ListRegions(ctx context.Context) ([]models.Region, error)
}

type Provisioner struct {
	api    API
	logger *slog.Logger
}

func NewProvisioner(api API, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{api: api, logger: logger}
}

// Create makes the disk described by cfg.Create. It returns nil when there is
// nothing to create. regionHint is used when the config names no region; the
// first listed region is the last fallback.
func (p *Provisioner) Create(ctx context.Context, projectID string, cfg *config.PersistentStorage, regionHint string) (*models.DiskAttachment, error) {
	if cfg == nil || cfg.Create == nil {
		return nil, nil
	}
	c := cfg.Create
	if strings.TrimSpace(c.VolumeName) == "" {
		return nil, &flowerr.ValidationError{Field: "persistent_storage.create.volume_name", Reason: "is required"}
	}
	if c.Size <= 0 {
		return nil, &flowerr.ValidationError{Field: "persistent_storage.create.size", Reason: "must be greater than 0"}
	}

	regionID := c.RegionID
	if regionID == "" {
		regionID = regionHint
	}
	if regionID == "" {
		var err error
		if regionID, err = p.DefaultRegionID(ctx); err != nil {
			return nil, err
		}
	}

	iface := c.DiskInterface
	if iface == "" {
		iface = DefaultDiskInterface
	}
	unit := strings.ToLower(c.SizeUnit)
	if unit == "" {
		unit = DefaultSizeUnit
	}

	volume := c.VolumeName + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	req := models.CreateDiskRequest{
		DiskID:        uuid.NewString(),
		Name:          volume,
		DiskInterface: iface,
		RegionID:      regionID,
		Size:          c.Size,
		SizeUnit:      unit,
	}

	p.logger.Info("creating disk", "project", projectID, "volume", volume, "size", c.Size, "unit", unit, "region", regionID)
	disk, err := p.api.CreateDisk(ctx, projectID, req)
	if err != nil {
		return nil, err
	}

	att := &models.DiskAttachment{DiskID: req.DiskID, VolumeName: volume}
	if disk.ID != "" {
		att.DiskID = disk.ID
	}
	p.logger.Info("disk created", "disk", att.DiskID, "volume", volume)
	return att, nil
}

// Attach finds the existing disk named by cfg.Attach. It returns nil when
// nothing is to be attached.
func (p *Provisioner) Attach(ctx context.Context, projectID string, cfg *config.PersistentStorage) (*models.DiskAttachment, error) {
	if cfg == nil || cfg.Attach == nil {
		return nil, nil
	}
	disks, err := p.api.ListDisks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for _, d := range disks {
		name := d.VolumeName
		if name == "" {
			name = d.Name
		}
		if name == cfg.Attach.VolumeName && (cfg.Attach.RegionID == "" || d.RegionID == cfg.Attach.RegionID) {
			return &models.DiskAttachment{DiskID: d.ID, VolumeName: name}, nil
		}
	}
	return nil, &flowerr.ConfigurationError{
		Msg: fmt.Sprintf("volume %q not found in region %s", cfg.Attach.VolumeName, cfg.Attach.RegionID),
	}
}

func (p *Provisioner) DefaultRegionID(ctx context.Context) (string, error) {
	regions, err := p.api.ListRegions(ctx)
	if err != nil {
		return "", err
	}
	if len(regions) == 0 {
		return "", &flowerr.ConfigurationError{Msg: "no regions available"}
	}
	p.logger.Debug("using default region", "region", regions[0].ID)
	return regions[0].ID, nil
}
