// Package config loads the CLI settings file and task specification files.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/foundry-cloud/flow/internal/flowerr"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var (
	validPriorities = []string{"critical", "high", "standard", "low"}
	validOptimize   = []string{"budget", "job_completion_time"}
)

// TaskConfig is one task specification file.
type TaskConfig struct {
	Name                   string                  `yaml:"name"`
	NumInstances           *int                    `yaml:"num_instances"`
	TaskManagement         *TaskManagement         `yaml:"task_management"`
	ResourcesSpecification *ResourcesSpecification `yaml:"resources_specification"`
	Ports                  []Port                  `yaml:"ports"`
	EphemeralStorage       *EphemeralStorageConfig `yaml:"ephemeral_storage_config"`
	PersistentStorage      *PersistentStorage      `yaml:"persistent_storage"`
	Networking             *Networking             `yaml:"networking"`
	Resources              *Resources              `yaml:"resources"`
	StartupScript          string                  `yaml:"startup_script"`
}

type TaskManagement struct {
	NumInstances          *int   `yaml:"num_instances"`
	Priority              string `yaml:"priority"`
	UtilityThresholdPrice *Price `yaml:"utility_threshold_price"`
}

// Price is a dollar amount parsed without going through float64.
type Price struct {
	decimal.Decimal
}

func (p *Price) UnmarshalYAML(node *yaml.Node) error {
	d, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: invalid price %q: %w", node.Line, node.Value, err)
	}
	p.Decimal = d
	return nil
}

type ResourcesSpecification struct {
	FCPInstance           string        `yaml:"fcp_instance"`
	NumInstances          *int          `yaml:"num_instances"`
	GPUType               string        `yaml:"gpu_type"`
	NumGPUs               *int          `yaml:"num_gpus"`
	IntranodeInterconnect string        `yaml:"intranode_interconnect"`
	InternodeInterconnect string        `yaml:"internode_interconnect"`
	Advanced              *AdvancedSpec `yaml:"advanced"`
}

type AdvancedSpec struct {
	Optimize                 string `yaml:"optimize"`
	NearestEstimatedDuration *int   `yaml:"nearest_estimated_duration"`
}

type EphemeralStorageConfig struct {
	Type   string            `yaml:"type"`
	Mounts map[string]string `yaml:"mounts"`
}

type PersistentStorage struct {
	MountDir string                   `yaml:"mount_dir"`
	Attach   *PersistentStorageAttach `yaml:"attach"`
	Create   *PersistentStorageCreate `yaml:"create"`
}

type PersistentStorageAttach struct {
	VolumeName string `yaml:"volume_name"`
	RegionID   string `yaml:"region_id"`
}

type PersistentStorageCreate struct {
	VolumeName    string `yaml:"volume_name"`
	Size          int    `yaml:"size"`
	SizeUnit      string `yaml:"size_unit"`
	RegionID      string `yaml:"region_id"`
	DiskInterface string `yaml:"disk_interface"`
}

type Networking struct {
	DCNetworkClass string `yaml:"dc_network_class"`
}

type Resources struct {
	VCPU *int `yaml:"vCPU"`
	RAM  *int `yaml:"RAM"`
}

func LoadTaskConfig(path string) (*TaskConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &flowerr.ConfigurationError{Msg: "read task file", Err: err}
	}
	defer f.Close()

	var cfg TaskConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, &flowerr.ConfigurationError{Msg: "parse " + path, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid field, joined.
func (c *TaskConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, &flowerr.ValidationError{Field: "name", Reason: "is required"})
	}
	if c.ResourcesSpecification == nil {
		errs = append(errs, &flowerr.ValidationError{Field: "resources_specification", Reason: "is required"})
	} else if adv := c.ResourcesSpecification.Advanced; adv != nil {
		if adv.Optimize != "" && !contains(validOptimize, adv.Optimize) {
			errs = append(errs, &flowerr.ValidationError{
				Field:  "resources_specification.advanced.optimize",
				Reason: fmt.Sprintf("must be one of %s, got %q", strings.Join(validOptimize, ", "), adv.Optimize),
			})
		}
		if adv.NearestEstimatedDuration != nil && *adv.NearestEstimatedDuration < 0 {
			errs = append(errs, &flowerr.ValidationError{Field: "resources_specification.advanced.nearest_estimated_duration", Reason: "must be non-negative"})
		}
	}
	if p := c.Priority(); p != "" && !contains(validPriorities, p) {
		errs = append(errs, &flowerr.ValidationError{
			Field:  "task_management.priority",
			Reason: fmt.Sprintf("must be one of %s, got %q", strings.Join(validPriorities, ", "), c.TaskManagement.Priority),
		})
	}
	for _, p := range c.Ports {
		errs = append(errs, p.Validate())
	}
	if ps := c.PersistentStorage; ps != nil {
		if ps.Attach != nil && (strings.TrimSpace(ps.Attach.VolumeName) == "" || strings.TrimSpace(ps.Attach.RegionID) == "") {
			errs = append(errs, &flowerr.ValidationError{Field: "persistent_storage.attach", Reason: "needs volume_name and region_id"})
		}
		if ps.Create != nil && ps.Create.Size <= 0 {
			errs = append(errs, &flowerr.ValidationError{Field: "persistent_storage.create.size", Reason: "must be greater than 0"})
		}
	}
	return errors.Join(errs...)
}

// InstanceQuantity resolves the instance count: top level first, then
// resources_specification, then task_management, defaulting to 1.
func (c *TaskConfig) InstanceQuantity() int {
	for _, n := range []*int{c.NumInstances, c.resourcesNumInstances(), c.managementNumInstances()} {
		if n != nil && *n > 0 {
			return *n
		}
	}
	return 1
}

// Priority returns task_management.priority lowercased and trimmed, the form
// pricing tables are keyed by.
func (c *TaskConfig) Priority() string {
	if c.TaskManagement == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(c.TaskManagement.Priority))
}

func (c *TaskConfig) ThresholdPrice() *decimal.Decimal {
	if c.TaskManagement == nil || c.TaskManagement.UtilityThresholdPrice == nil {
		return nil
	}
	d := c.TaskManagement.UtilityThresholdPrice.Decimal
	return &d
}

func (c *TaskConfig) resourcesNumInstances() *int {
	if c.ResourcesSpecification == nil {
		return nil
	}
	return c.ResourcesSpecification.NumInstances
}

func (c *TaskConfig) managementNumInstances() *int {
	if c.TaskManagement == nil {
		return nil
	}
	return c.TaskManagement.NumInstances
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
