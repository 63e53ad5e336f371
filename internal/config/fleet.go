package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/djlord-it/printfleet/internal/domain"
)

// FleetFile is the on-disk layout of FLEET_FILE:
//
//	machines:
//	  - id: p1
//	    name: Prusa MK4
//	    technology: FDM
//	    status: idle
type FleetFile struct {
	Machines []domain.Machine `yaml:"machines"`
}

// LoadFleet reads and validates a fleet seed file. Machine ids must be unique.
func LoadFleet(path string) ([]domain.Machine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fleet file: %w", err)
	}
	return ParseFleet(data)
}

func ParseFleet(data []byte) ([]domain.Machine, error) {
	var f FleetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fleet file: %w", err)
	}

	seen := make(map[string]bool, len(f.Machines))
	for i, m := range f.Machines {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("fleet machine %d: %w", i, err)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("fleet machine %d: %w: %s", i, domain.ErrMachineExists, m.ID)
		}
		seen[m.ID] = true
	}
	return f.Machines, nil
}
