/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package node

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Roster is the on-disk node list. The first entry is the primary;
// the rest are dial fallbacks.
type Roster struct {
	Nodes []GatewayConfig `yaml:"nodes"`
}

// LoadRoster reads a YAML node roster from path.
func LoadRoster(path string) (*Roster, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read node roster: %w", err)
	}

	var roster Roster
	if err := yaml.Unmarshal(raw, &roster); err != nil {
		return nil, fmt.Errorf("parse node roster: %w", err)
	}

	if len(roster.Nodes) == 0 {
		return nil, fmt.Errorf("node roster %s lists no nodes", path)
	}
	for i, n := range roster.Nodes {
		if n.Addr == "" {
			return nil, fmt.Errorf("node roster entry %d has no addr", i)
		}
		if roster.Nodes[i].Name == "" {
			roster.Nodes[i].Name = n.Addr
		}
	}
	return &roster, nil
}
