package bid

import (
	"fmt"
	"strings"

	"github.com/foundry-cloud/flow/internal/flowerr"
	"github.com/foundry-cloud/flow/internal/models"
	"github.com/google/uuid"
)

const DefaultOrderName = "flow-task"

// Request is what the user asks for, independent of the auction chosen.
type Request struct {
	OrderName        string
	InstanceQuantity int
	LimitPriceCents  int
	SSHKeyName       string
	StartupScript    string
	DiskAttachments  []models.DiskAttachment
}

// Identity is the resolved caller: who bids, for which project, with which keys.
type Identity struct {
	ProjectID string
	UserID    string
	SSHKeys   []models.SSHKey
}

type Builder struct {
	suffix func() string
}

// NewBuilder returns a Builder. suffix produces the order-name suffix; nil
// uses eight hex characters of a random UUID.
func NewBuilder(suffix func() string) *Builder {
	if suffix == nil {
		suffix = randomSuffix
	}
	return &Builder{suffix: suffix}
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NameMatches reports whether orderName is taskName itself or taskName with
// a generated suffix.
func NameMatches(orderName, taskName string) bool {
	if orderName == taskName {
		return true
	}
	rest, ok := strings.CutPrefix(orderName, taskName+"-")
	if !ok || len(rest) != 8 {
		return false
	}
	for _, r := range rest {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return false
		}
	}
	return true
}

func (b *Builder) Build(a models.Auction, req Request, id Identity) (models.BidPayload, error) {
	if req.InstanceQuantity <= 0 {
		return models.BidPayload{}, &flowerr.ValidationError{Field: "instance_quantity", Reason: "must be greater than 0"}
	}
	if req.LimitPriceCents <= 0 {
		return models.BidPayload{}, &flowerr.ValidationError{Field: "limit_price_cents", Reason: "must be greater than 0"}
	}

	keyIDs, err := resolveSSHKeys(req.SSHKeyName, id.SSHKeys)
	if err != nil {
		return models.BidPayload{}, err
	}

	name := strings.TrimSpace(req.OrderName)
	if name == "" {
		name = DefaultOrderName
	}

	payload := models.BidPayload{
		ClusterID:        a.ID,
		InstanceQuantity: req.InstanceQuantity,
		InstanceTypeID:   a.InstanceTypeID,
		LimitPriceCents:  req.LimitPriceCents,
		OrderName:        name + "-" + b.suffix(),
		ProjectID:        id.ProjectID,
		SSHKeyIDs:        keyIDs,
		StartupScript:    req.StartupScript,
		UserID:           id.UserID,
		DiskAttachments:  req.DiskAttachments,
	}
	if err := payload.Validate(); err != nil {
		return models.BidPayload{}, err
	}
	return payload, nil
}

// resolveSSHKeys returns the ids of every project key with the given name.
func resolveSSHKeys(name string, keys []models.SSHKey) ([]string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &flowerr.ConfigurationError{Msg: "no ssh key name configured"}
	}
	var ids []string
	for _, k := range keys {
		if k.Name == name && strings.TrimSpace(k.ID) != "" {
			ids = append(ids, k.ID)
		}
	}
	if len(ids) == 0 {
		return nil, &flowerr.ConfigurationError{Msg: fmt.Sprintf("ssh key %q not found among %d project keys", name, len(keys))}
	}
	return ids, nil
}
