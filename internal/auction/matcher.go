package auction

import (
	"fmt"
	"strings"

	"github.com/foundry-cloud/flow/internal/models"
)

// Criteria is the user's declared resource requirement. Zero values are
// wildcards, and so is a nil or non-positive NumGPUs.
type Criteria struct {
	GPUType               string
	NumGPUs               *int
	IntranodeInterconnect string
	InternodeInterconnect string
}

func (c Criteria) String() string {
	var parts []string
	if c.GPUType != "" {
		parts = append(parts, "gpu_type="+c.GPUType)
	}
	if c.NumGPUs != nil && *c.NumGPUs > 0 {
		parts = append(parts, fmt.Sprintf("num_gpus>=%d", *c.NumGPUs))
	}
	if c.IntranodeInterconnect != "" {
		parts = append(parts, "intranode="+c.IntranodeInterconnect)
	}
	if c.InternodeInterconnect != "" {
		parts = append(parts, "internode="+c.InternodeInterconnect)
	}
	if len(parts) == 0 {
		return "any"
	}
	return strings.Join(parts, " ")
}

// Outcome is the result of Match: either Matched or NoMatch.
type Outcome interface {
	outcome()
}

type Matched struct {
	Auctions []models.Auction
}

type NoMatch struct {
	Considered int
	Criteria   Criteria
}

func (Matched) outcome() {}
func (NoMatch) outcome() {}

// FindMatching returns the auctions that satisfy every set criterion, in input
// order. The result is never nil.
func FindMatching(auctions []models.Auction, c Criteria) []models.Auction {
	out := make([]models.Auction, 0, len(auctions))
	for _, a := range auctions {
		if matches(a, c) {
			out = append(out, a)
		}
	}
	return out
}

func Match(auctions []models.Auction, c Criteria) Outcome {
	found := FindMatching(auctions, c)
	if len(found) == 0 {
		return NoMatch{Considered: len(auctions), Criteria: c}
	}
	return Matched{Auctions: found}
}

// Select picks the auction to bid on. Listing order is kept, so this is the
// first match.
func Select(matched []models.Auction) (models.Auction, bool) {
	if len(matched) == 0 {
		return models.Auction{}, false
	}
	return matched[0], true
}

func matches(a models.Auction, c Criteria) bool {
	if c.GPUType != "" {
		if a.GPUType == "" || !strings.Contains(strings.ToLower(a.GPUType), strings.ToLower(c.GPUType)) {
			return false
		}
	}
	if c.NumGPUs != nil && *c.NumGPUs > 0 {
		if a.InventoryQuantity == nil || *a.InventoryQuantity < *c.NumGPUs {
			return false
		}
	}
	if c.IntranodeInterconnect != "" && a.IntranodeInterconnect != c.IntranodeInterconnect {
		return false
	}
	if c.InternodeInterconnect != "" && a.InternodeInterconnect != c.InternodeInterconnect {
		return false
	}
	return true
}
