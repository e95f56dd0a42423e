package bid

import (
	"errors"
	"testing"

	"github.com/foundry-cloud/flow/internal/flowerr"
	"github.com/foundry-cloud/flow/internal/models"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func fixedSuffix() string { return "abcd1234" }

var testIdentity = Identity{
	ProjectID: "proj-1",
	UserID:    "user-1",
	SSHKeys: []models.SSHKey{
		{ID: "key-1", Name: "laptop"},
		{ID: "key-2", Name: "ci"},
	},
}

var testAuction = models.Auction{ID: "cluster-9", InstanceTypeID: "it-a100x8"}

func TestBuild(t *testing.T) {
	b := NewBuilder(fixedSuffix)

	t.Run("fills payload from auction and identity", func(t *testing.T) {
		p, err := b.Build(testAuction, Request{
			OrderName:        "train",
			InstanceQuantity: 2,
			LimitPriceCents:  1229,
			SSHKeyName:       "ci",
			StartupScript:    "#!/bin/bash",
		}, testIdentity)
		assert.NoError(t, err)

		check.Equal(t, "cluster-9", p.ClusterID)
		check.Equal(t, "it-a100x8", p.InstanceTypeID)
		check.Equal(t, "train-abcd1234", p.OrderName)
		check.Equal(t, []string{"key-2"}, p.SSHKeyIDs)
		check.Equal(t, "proj-1", p.ProjectID)
		check.Equal(t, "user-1", p.UserID)
		check.Equal(t, 2, p.InstanceQuantity)
		check.Equal(t, 1229, p.LimitPriceCents)
	})

	t.Run("default name", func(t *testing.T) {
		p, err := b.Build(testAuction, Request{InstanceQuantity: 1, LimitPriceCents: 1, SSHKeyName: "laptop"}, testIdentity)
		assert.NoError(t, err)
		check.Equal(t, "flow-task-abcd1234", p.OrderName)
	})

	t.Run("non-positive price", func(t *testing.T) {
		for _, cents := range []int{0, -5} {
			_, err := b.Build(testAuction, Request{InstanceQuantity: 1, LimitPriceCents: cents, SSHKeyName: "ci"}, testIdentity)
			var vErr *flowerr.ValidationError
			assert.True(t, errors.As(err, &vErr))
			check.Equal(t, "limit_price_cents", vErr.Field)
		}
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		_, err := b.Build(testAuction, Request{InstanceQuantity: 0, LimitPriceCents: 100, SSHKeyName: "ci"}, testIdentity)
		var vErr *flowerr.ValidationError
		assert.True(t, errors.As(err, &vErr))
		check.Equal(t, "instance_quantity", vErr.Field)
	})

	t.Run("unknown ssh key", func(t *testing.T) {
		_, err := b.Build(testAuction, Request{InstanceQuantity: 1, LimitPriceCents: 100, SSHKeyName: "missing"}, testIdentity)
		var cfgErr *flowerr.ConfigurationError
		check.True(t, errors.As(err, &cfgErr))
	})

	t.Run("project without keys", func(t *testing.T) {
		id := testIdentity
		id.SSHKeys = nil
		_, err := b.Build(testAuction, Request{InstanceQuantity: 1, LimitPriceCents: 100, SSHKeyName: "ci"}, id)
		var cfgErr *flowerr.ConfigurationError
		check.True(t, errors.As(err, &cfgErr))
	})

	t.Run("auction without instance type fails validation", func(t *testing.T) {
		_, err := b.Build(models.Auction{ID: "c"}, Request{InstanceQuantity: 1, LimitPriceCents: 100, SSHKeyName: "ci"}, testIdentity)
		var vErr *flowerr.ValidationError
		assert.True(t, errors.As(err, &vErr))
		check.Equal(t, "instance_type_id", vErr.Field)
	})
}

func TestRandomSuffix(t *testing.T) {
	a, b := randomSuffix(), randomSuffix()
	check.Equal(t, 8, len(a))
	check.NotEqual(t, a, b)
}

func TestNameMatches(t *testing.T) {
	check.True(t, NameMatches("train", "train"))
	check.True(t, NameMatches("train-abcd1234", "train"))
	check.False(t, NameMatches("train-abcd123", "train"))
	check.False(t, NameMatches("train-ABCD1234", "train"))
	check.False(t, NameMatches("train-2-abcd1234", "train"))
	check.False(t, NameMatches("training", "train"))
}
