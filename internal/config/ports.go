package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/foundry-cloud/flow/internal/flowerr"
	"gopkg.in/yaml.v3"
)

// Port is a forwarded port or port range. In YAML it is an int, a "a-b"
// range string, or a mapping with external, internal and protocol.
type Port struct {
	External string `yaml:"external"`
	Internal string `yaml:"internal"`
	Protocol string `yaml:"protocol"`
}

// PortMapping is one expanded external to internal pair.
type PortMapping struct {
	External int
	Internal int
	Protocol string
}

func (p *Port) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		p.External, p.Internal, p.Protocol = node.Value, node.Value, "tcp"
		return nil
	case yaml.MappingNode:
		type plain Port
		var raw plain
		if err := node.Decode(&raw); err != nil {
			return err
		}
		*p = Port(raw)
		if p.Internal == "" {
			p.Internal = p.External
		}
		if p.Protocol == "" {
			p.Protocol = "tcp"
		}
		return nil
	}
	return fmt.Errorf("line %d: port must be an int, a range string or a mapping", node.Line)
}

func (p Port) Validate() error {
	if p.Protocol != "tcp" && p.Protocol != "udp" {
		return &flowerr.ValidationError{Field: "ports.protocol", Reason: fmt.Sprintf("must be tcp or udp, got %q", p.Protocol)}
	}
	_, err := p.Mappings()
	return err
}

// Mappings expands the port into pairs. Ranges on both sides must have the
// same length.
func (p Port) Mappings() ([]PortMapping, error) {
	ext, err := expandPortSpec("ports.external", p.External)
	if err != nil {
		return nil, err
	}
	in, err := expandPortSpec("ports.internal", p.Internal)
	if err != nil {
		return nil, err
	}
	if len(ext) != len(in) {
		return nil, &flowerr.ValidationError{
			Field:  "ports",
			Reason: fmt.Sprintf("external %q and internal %q ranges differ in length", p.External, p.Internal),
		}
	}
	out := make([]PortMapping, len(ext))
	for i := range ext {
		out[i] = PortMapping{External: ext[i], Internal: in[i], Protocol: p.Protocol}
	}
	return out, nil
}

func expandPortSpec(field, spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, &flowerr.ValidationError{Field: field, Reason: "cannot be empty"}
	}

	lo, hi, isRange := strings.Cut(spec, "-")
	start, err := parsePort(field, lo)
	if err != nil {
		return nil, err
	}
	if !isRange {
		return []int{start}, nil
	}
	end, err := parsePort(field, hi)
	if err != nil {
		return nil, err
	}
	if start > end {
		return nil, &flowerr.ValidationError{Field: field, Reason: fmt.Sprintf("range %q is reversed", spec)}
	}

	ports := make([]int, 0, end-start+1)
	for n := start; n <= end; n++ {
		ports = append(ports, n)
	}
	return ports, nil
}

func parsePort(field, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &flowerr.ValidationError{Field: field, Reason: fmt.Sprintf("%q is not an integer", s)}
	}
	if n < 1 || n > 65535 {
		return 0, &flowerr.ValidationError{Field: field, Reason: fmt.Sprintf("port %d must be between 1 and 65535", n)}
	}
	return n, nil
}
