package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/printfleet/internal/domain"
)

const fleetYAML = `
machines:
  - id: p1
    name: Prusa MK4
    technology: FDM
  - id: s1
    name: Form 3
    technology: SLA
    status: maintenance
`

func TestLoadFleet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fleetYAML), 0o600))

	machines, err := LoadFleet(path)
	require.NoError(t, err)
	require.Len(t, machines, 2)

	assert.Equal(t, "p1", machines[0].ID)
	assert.Equal(t, "Prusa MK4", machines[0].Name)
	assert.Equal(t, domain.MachineStatus(""), machines[0].BaseStatus)
	assert.Equal(t, "SLA", machines[1].Technology)
	assert.Equal(t, domain.MachineStatusMaintenance, machines[1].BaseStatus)
}

func TestLoadFleet_MissingFile(t *testing.T) {
	_, err := LoadFleet(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseFleet_Errors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		target error
	}{
		{"duplicate id", "machines:\n  - {id: p1, technology: FDM}\n  - {id: p1, technology: SLA}\n", domain.ErrMachineExists},
		{"missing technology", "machines:\n  - {id: p1}\n", domain.ErrInvalidMachine},
		{"printing not settable", "machines:\n  - {id: p1, technology: FDM, status: printing}\n", domain.ErrInvalidStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFleet([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
		})
	}
}

func TestParseFleet_Malformed(t *testing.T) {
	_, err := ParseFleet([]byte("machines: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse fleet file")
}

func TestParseFleet_Empty(t *testing.T) {
	machines, err := ParseFleet(nil)
	require.NoError(t, err)
	assert.Empty(t, machines)
}
