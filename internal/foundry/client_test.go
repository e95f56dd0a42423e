package foundry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/foundry-cloud/flow/internal/flowerr"
	"github.com/foundry-cloud/flow/internal/models"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

// cannedGateway answers each "METHOD path" with a fixed JSON document.
type cannedGateway struct {
	responses map[string]string
	errs      map[string]error
	calls     []string
}

func (g *cannedGateway) Do(ctx context.Context, method, path string, body, out any) error {
	key := method + " " + path
	g.calls = append(g.calls, key)
	if err := g.errs[key]; err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(g.responses[key]), out)
}

func TestListInstancesFlattensCategories(t *testing.T) {
	gw := &cannedGateway{responses: map[string]string{
		"GET /projects/p1/all_instances": `{
			"spot": [{"instance_id": "i2", "name": "job-a"}],
			"reserved": [{"instance_id": "i1", "name": "job-b"}, {"instance_id": "i3", "name": "job-a"}]
		}`,
	}}

	instances, err := NewClient(gw).ListInstances(context.Background(), "p1")
	assert.NoError(t, err)
	assert.Equal(t, 3, len(instances))
	check.Equal(t, "i1", instances[0].InstanceID)
	check.Equal(t, "reserved", instances[0].Category)
	check.Equal(t, "i3", instances[1].InstanceID)
	check.Equal(t, "spot", instances[2].Category)
}

func TestListRegionsAcceptsSingleObject(t *testing.T) {
	gw := &cannedGateway{responses: map[string]string{
		"GET /marketplace/v1/regions": `{"id": "r1", "name": "us-central1-a"}`,
	}}
	regions, err := NewClient(gw).ListRegions(context.Background())
	assert.NoError(t, err)
	check.Equal(t, []models.Region{{ID: "r1", Name: "us-central1-a"}}, regions)

	gw.responses["GET /marketplace/v1/regions"] = `[{"id": "r1", "name": "a"}, {"id": "r2", "name": "b"}]`
	regions, err = NewClient(gw).ListRegions(context.Background())
	assert.NoError(t, err)
	check.Equal(t, 2, len(regions))
}

func TestPathsEscapeIdentifiers(t *testing.T) {
	gw := &cannedGateway{}
	err := NewClient(gw).CancelBid(context.Background(), "p 1", "bid/2")
	assert.NoError(t, err)
	check.Equal(t, []string{"DELETE /projects/p%201/spot-auctions/bids/bid%2F2"}, gw.calls)
}

func TestGetInstanceType(t *testing.T) {
	gw := &cannedGateway{
		responses: map[string]string{
			"GET /instance_types/it-1": `{"id": "it-1", "name": "a100.80gb.sxm4.8x", "num_cpus": 96, "num_gpus": 8, "memory_gb": 1024, "architecture": "x86_64"}`,
		},
		errs: map[string]error{
			"GET /instance_types/gone":  &flowerr.APIError{StatusCode: http.StatusNotFound},
			"GET /instance_types/flaky": &flowerr.APIError{StatusCode: http.StatusBadGateway},
		},
	}
	c := NewClient(gw)
	ctx := context.Background()

	it, err := c.GetInstanceType(ctx, "it-1")
	assert.NoError(t, err)
	check.Equal(t, "a100.80gb.sxm4.8x", it.Name)
	assert.NotNil(t, it.NumGPUs)
	check.Equal(t, 8, *it.NumGPUs)

	t.Run("not found yields placeholder", func(t *testing.T) {
		it, err := c.GetInstanceType(ctx, "gone")
		assert.NoError(t, err)
		check.Equal(t, models.InstanceType{ID: "gone", Name: UnknownInstanceTypeName}, it)
	})

	t.Run("other errors propagate", func(t *testing.T) {
		_, err := c.GetInstanceType(ctx, "flaky")
		var apiErr *flowerr.APIError
		assert.True(t, errors.As(err, &apiErr))
		check.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	})
}
