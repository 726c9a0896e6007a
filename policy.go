package taskgraph

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/taskgraph/driver"
)

// CapabilityPolicy controls how a task's capability requirement widens
// until a track matches. Each entry is OR'd onto the requirement in
// order; the first track whose bitset equals the widened requirement
// wins. The empty first entry makes exact matches take precedence over
// everything else.
//
// The default ordering is not provably optimal for every queue layout
// (a device exposing only graphics|transfer and compute queues can make
// the transfer step miss where a later step hits), which is exactly why
// the list is data and not code: unusual devices get a policy file, not
// a fork.
type CapabilityPolicy struct {
	Precedence []driver.QueueCaps
}

// DefaultPolicy widens from nothing through transfer and compute towards
// fully general queues, so work lands on the least capable queue that
// can take it.
func DefaultPolicy() CapabilityPolicy {
	return CapabilityPolicy{
		Precedence: []driver.QueueCaps{
			0,
			driver.QueueTransfer,
			driver.QueueCompute,
			driver.QueueCompute | driver.QueueTransfer,
			driver.QueueGraphics,
			driver.QueueGraphics | driver.QueueTransfer,
			driver.QueueGraphics | driver.QueueCompute,
			driver.QueueGraphics | driver.QueueCompute | driver.QueueTransfer,
		},
	}
}

// policyFile is the on-disk YAML shape.
type policyFile struct {
	Precedence []string `yaml:"precedence"`
}

// PolicyFromYAML parses a capability policy from YAML:
//
//	precedence:
//	  - none
//	  - transfer
//	  - compute
//	  - compute|transfer
//	  - graphics
//
// Valid capability names are none, graphics, compute, transfer and
// raytracing, joined with '|'.
func PolicyFromYAML(data []byte) (CapabilityPolicy, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return CapabilityPolicy{}, fmt.Errorf("taskgraph: parsing policy: %w", err)
	}
	if len(file.Precedence) == 0 {
		return CapabilityPolicy{}, fmt.Errorf("taskgraph: policy declares no precedence entries")
	}

	policy := CapabilityPolicy{Precedence: make([]driver.QueueCaps, 0, len(file.Precedence))}
	for _, entry := range file.Precedence {
		caps, err := ParseCaps(entry)
		if err != nil {
			return CapabilityPolicy{}, err
		}
		policy.Precedence = append(policy.Precedence, caps)
	}
	return policy, nil
}

// ParseCaps parses a "graphics|compute" style capability string.
// "none" and the empty string parse to the empty set.
func ParseCaps(s string) (driver.QueueCaps, error) {
	var caps driver.QueueCaps
	for _, part := range strings.Split(s, "|") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "", "none":
		case "graphics":
			caps |= driver.QueueGraphics
		case "compute":
			caps |= driver.QueueCompute
		case "transfer":
			caps |= driver.QueueTransfer
		case "raytracing":
			caps |= driver.QueueRayTracing
		default:
			return 0, fmt.Errorf("taskgraph: unknown capability %q", part)
		}
	}
	return caps, nil
}
