// ABOUTME: Fleet inventory loading from TOML files
// ABOUTME: Declares the devices and agents a deployment boots with

package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Inventory describes the fleet a deployment starts with: the devices to
// register and the agents to spawn. It is loaded from a fleet.toml file with
// [[device]] and [[agent]] blocks.
type Inventory struct {
	Devices []DeviceEntry `toml:"device"`
	Agents  []AgentEntry  `toml:"agent"`
}

// DeviceEntry declares one physical device in the fleet.
type DeviceEntry struct {
	ID           string   `toml:"id"`
	Name         string   `toml:"name"`
	Address      string   `toml:"address"`
	MAC          string   `toml:"mac"`
	Capabilities []string `toml:"capabilities"`
	Firmware     string   `toml:"firmware"`
}

// AgentEntry declares how many agents of a given type to spawn.
type AgentEntry struct {
	Type  string `toml:"type"`
	Count int    `toml:"count"`
}

// LoadInventory reads a fleet inventory from the given TOML file.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory file: %w", err)
	}

	var inv Inventory
	if err := toml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parsing inventory file: %w", err)
	}

	if err := inv.Validate(); err != nil {
		return nil, fmt.Errorf("validating inventory: %w", err)
	}

	return &inv, nil
}

// Validate checks the inventory for duplicate device ids and malformed entries.
func (i *Inventory) Validate() error {
	seen := make(map[string]bool, len(i.Devices))
	for n, d := range i.Devices {
		if d.ID == "" {
			return fmt.Errorf("device %d: id is required", n)
		}
		if seen[d.ID] {
			return fmt.Errorf("duplicate device id %q", d.ID)
		}
		seen[d.ID] = true
	}

	for n, a := range i.Agents {
		if a.Type == "" {
			return fmt.Errorf("agent %d: type is required", n)
		}
		if a.Count < 0 {
			return fmt.Errorf("agent %q: count must not be negative", a.Type)
		}
	}

	return nil
}
