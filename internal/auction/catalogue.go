package auction

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/foundry-cloud/flow/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	UnknownGPUType = "unknown"
	UnknownRegion  = "unknown-region"
)

// InstanceTypeLookup resolves instance type details. *foundry.Client
// satisfies it.
type InstanceTypeLookup interface {
	GetInstanceType(ctx context.Context, id string) (models.InstanceType, error)
}

// CatalogueEntry is one auction as written to the catalogue file.
type CatalogueEntry struct {
	ClusterID             string               `yaml:"cluster_id"`
	GPUType               string               `yaml:"gpu_type,omitempty"`
	InventoryQuantity     *int                 `yaml:"inventory_quantity,omitempty"`
	NumGPUs               *int                 `yaml:"num_gpus,omitempty"`
	IntranodeInterconnect string               `yaml:"intranode_interconnect,omitempty"`
	InternodeInterconnect string               `yaml:"internode_interconnect,omitempty"`
	InstanceTypeID        string               `yaml:"instance_type_id,omitempty"`
	RegionID              string               `yaml:"region_id,omitempty"`
	LastPrice             string               `yaml:"last_price,omitempty"`
	InstanceType          *models.InstanceType `yaml:"instance_type,omitempty"`
}

// Catalogue groups auctions by lowercased GPU type, then by region. Entries
// keep listing order within a region.
type Catalogue map[string]map[string][]CatalogueEntry

// Group builds a catalogue without instance type details.
func Group(auctions []models.Auction) Catalogue {
	c := Catalogue{}
	for _, a := range auctions {
		c.add(a, nil)
	}
	return c
}

// BuildCatalogue groups auctions and attaches instance type details from
// lookup, fetching each instance type once. A nil lookup skips details; a
// failed lookup is logged and leaves that entry without details.
func BuildCatalogue(ctx context.Context, auctions []models.Auction, lookup InstanceTypeLookup, logger *slog.Logger) Catalogue {
	if logger == nil {
		logger = slog.Default()
	}
	types := map[string]*models.InstanceType{}
	c := Catalogue{}
	for _, a := range auctions {
		var it *models.InstanceType
		if lookup != nil && a.InstanceTypeID != "" {
			cached, seen := types[a.InstanceTypeID]
			if !seen {
				got, err := lookup.GetInstanceType(ctx, a.InstanceTypeID)
				if err != nil {
					logger.Warn("instance type lookup failed", "instance_type", a.InstanceTypeID, "error", err)
				} else {
					cached = &got
				}
				types[a.InstanceTypeID] = cached
			}
			it = cached
		}
		c.add(a, it)
	}
	return c
}

func (c Catalogue) add(a models.Auction, it *models.InstanceType) {
	gpu := strings.ToLower(strings.TrimSpace(a.GPUType))
	if gpu == "" {
		gpu = UnknownGPUType
	}
	region := a.Region
	if region == "" {
		region = a.RegionID
	}
	if region == "" {
		region = UnknownRegion
	}

	e := CatalogueEntry{
		ClusterID:             a.ID,
		GPUType:               a.GPUType,
		InventoryQuantity:     a.InventoryQuantity,
		NumGPUs:               a.NumGPUs,
		IntranodeInterconnect: a.IntranodeInterconnect,
		InternodeInterconnect: a.InternodeInterconnect,
		InstanceTypeID:        a.InstanceTypeID,
		RegionID:              a.RegionID,
		InstanceType:          it,
	}
	if a.LastPrice.Valid {
		e.LastPrice = a.LastPrice.Decimal.StringFixed(2)
	}

	if c[gpu] == nil {
		c[gpu] = map[string][]CatalogueEntry{}
	}
	c[gpu][region] = append(c[gpu][region], e)
}

func (c Catalogue) GPUTypes() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c Catalogue) Regions(gpuType string) []string {
	out := make([]string, 0, len(c[gpuType]))
	for k := range c[gpuType] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len is the number of entries across all groups.
func (c Catalogue) Len() int {
	n := 0
	for _, regions := range c {
		for _, entries := range regions {
			n += len(entries)
		}
	}
	return n
}

// WriteYAML writes the catalogue as gpu_type -> region -> entries, keys
// sorted.
func (c Catalogue) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]map[string][]CatalogueEntry(c)); err != nil {
		return err
	}
	return enc.Close()
}
