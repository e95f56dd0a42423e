package fakeapi

import (
	"log/slog"

	"github.com/foundry-cloud/flow/internal/models"
	"github.com/shopspring/decimal"
)

const (
	DemoEmail      = "dev@example.com"
	DemoPassword   = "password"
	DemoToken      = "demo-token"
	DemoUserID     = "user-1"
	DemoProjectID  = "proj-1"
	DemoProject    = "research"
	DemoSSHKeyName = "laptop"
)

func intp(n int) *int { return &n }

// Demo returns a server with one account, one project and a small auction
// listing.
func Demo(logger *slog.Logger) *Server {
	s := New(logger)
	s.AddAccount(Account{
		Email:    DemoEmail,
		Password: DemoPassword,
		Token:    DemoToken,
		User:     models.User{ID: DemoUserID, Email: DemoEmail, Name: "Dev"},
	})
	s.AddProject(DemoUserID, models.Project{ID: DemoProjectID, Name: DemoProject})
	s.AddSSHKey(DemoProjectID, models.SSHKey{ID: "key-1", Name: DemoSSHKeyName})
	s.AddRegion(models.Region{ID: "us-central1-a", Name: "us-central1-a"})
	s.AddRegion(models.Region{ID: "eu-west1-b", Name: "eu-west1-b"})

	for _, a := range []models.Auction{
		{
			ID: "cluster-a100-4", GPUType: "NVIDIA A100", InventoryQuantity: intp(4), NumGPUs: intp(8),
			IntranodeInterconnect: "SXM", InternodeInterconnect: "3200_IB",
			InstanceTypeID: "it-a100-80gb-8x", RegionID: "us-central1-a", Region: "us-central1-a",
			LastPrice: decimal.NewNullDecimal(decimal.RequireFromString("11.50")),
		},
		{
			ID: "cluster-a100-1", GPUType: "NVIDIA A100", InventoryQuantity: intp(1), NumGPUs: intp(8),
			IntranodeInterconnect: "PCIe", InstanceTypeID: "it-a100-40gb-8x", RegionID: "eu-west1-b", Region: "eu-west1-b",
		},
		{
			ID: "cluster-h100-8", GPUType: "NVIDIA H100", InventoryQuantity: intp(8), NumGPUs: intp(8),
			IntranodeInterconnect: "SXM", InternodeInterconnect: "3200_IB",
			InstanceTypeID: "it-h100-80gb-8x", RegionID: "us-central1-a", Region: "us-central1-a",
			LastPrice: decimal.NewNullDecimal(decimal.RequireFromString("24.00")),
		},
	} {
		s.AddAuction(DemoProjectID, a)
	}

	// it-a100-40gb-8x has no instance type record.
	s.AddInstanceType(models.InstanceType{
		ID: "it-a100-80gb-8x", Name: "a100-80gb.8x", NumCPUs: intp(96), NumGPUs: intp(8), MemoryGB: intp(1024), Architecture: "x86_64",
	})
	s.AddInstanceType(models.InstanceType{
		ID: "it-h100-80gb-8x", Name: "h100-80gb.8x", NumCPUs: intp(128), NumGPUs: intp(8), MemoryGB: intp(2048), Architecture: "x86_64",
	})

	s.AddInstance(DemoProjectID, "reserved", models.Instance{
		InstanceID:     "inst-reserved-1",
		Name:           "long-running",
		InstanceStatus: "running",
		InstanceTypeID: "it-a100-80gb-8x",
		OrderType:      "reserved",
	})
	return s
}
