package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gantryproject/gantry/internal/discovery"
	"github.com/gantryproject/gantry/internal/license"
	"github.com/gantryproject/gantry/internal/resolver"
)

func testDecisions() map[string]*resolver.LoadDecision {
	validState := license.Valid()
	graceState := license.Grace(3 * time.Hour)

	return map[string]*resolver.LoadDecision{
		"zeta": {
			LogicalName: "zeta",
			Admitted:    &discovery.Component{LogicalName: "zeta", Source: discovery.SourceLocal, Path: "/local/zeta"},
		},
		"alpha": {
			LogicalName: "alpha",
			Admitted:    &discovery.Component{LogicalName: "alpha", Source: discovery.SourcePack, Path: "/pack/alpha"},
			State:       &validState,
			Rejected: []resolver.Rejection{
				{
					Component: discovery.Component{LogicalName: "alpha", Source: discovery.SourceRegistry, Path: "/registry/alpha"},
					Reason:    "expired",
				},
			},
		},
		"mid": {
			LogicalName: "mid",
			Admitted:    &discovery.Component{LogicalName: "mid", Source: discovery.SourceRegistry, Path: "/registry/mid"},
			State:       &graceState,
			Warning:     "license entering grace period (3h0m0s remaining)",
		},
		"broken": {
			LogicalName: "broken",
			Rejected: []resolver.Rejection{
				{
					Component: discovery.Component{LogicalName: "broken", Source: discovery.SourcePack, Path: "/pack/broken"},
					Reason:    "invalid: signature mismatch",
				},
			},
		},
	}
}

func TestNewCountsAndSorts(t *testing.T) {
	r := New(testDecisions())

	assert.NotEqual(t, uuid.Nil, r.RunID)
	assert.False(t, r.GeneratedAt.IsZero())
	assert.Equal(t, 3, r.Admitted)
	assert.Equal(t, 1, r.Unresolved)

	require.Len(t, r.Entries, 4)
	assert.Equal(t, "alpha", r.Entries[0].Name)
	assert.Equal(t, "broken", r.Entries[1].Name)
	assert.Equal(t, "mid", r.Entries[2].Name)
	assert.Equal(t, "zeta", r.Entries[3].Name)
}

func TestNewEntryFields(t *testing.T) {
	r := New(testDecisions())

	byName := make(map[string]Entry)
	for _, e := range r.Entries {
		byName[e.Name] = e
	}

	alpha := byName["alpha"]
	assert.Equal(t, StatusAdmitted, alpha.Status)
	assert.Equal(t, "pack", alpha.Source)
	require.NotNil(t, alpha.State)
	assert.Equal(t, license.StateValid, alpha.State.Kind)
	require.Len(t, alpha.Rejected, 1)
	assert.Equal(t, "registry", alpha.Rejected[0].Source)
	assert.Equal(t, "expired", alpha.Rejected[0].Reason)

	zeta := byName["zeta"]
	assert.Equal(t, StatusAdmitted, zeta.Status)
	assert.Equal(t, "local", zeta.Source)
	assert.Nil(t, zeta.State)

	broken := byName["broken"]
	assert.Equal(t, StatusUnresolved, broken.Status)
	assert.Empty(t, broken.Source)
	require.Len(t, broken.Rejected, 1)
}

func TestText(t *testing.T) {
	r := New(testDecisions())
	out := r.Text()

	assert.Contains(t, out, "Admitted: 3  Unresolved: 1")
	assert.Contains(t, out, "admitted  source=pack state=valid")
	assert.Contains(t, out, "admitted  source=registry state=grace")
	assert.Contains(t, out, "warning: license entering grace period (3h0m0s remaining)")
	assert.Contains(t, out, "UNRESOLVED")
	assert.Contains(t, out, "rejected registry candidate: expired")
	assert.Contains(t, out, "rejected pack candidate: invalid: signature mismatch")
}

func TestJSON(t *testing.T) {
	r := New(testDecisions())

	data, err := r.JSON()
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r.RunID, decoded.RunID)
	assert.Equal(t, r.Admitted, decoded.Admitted)
	assert.Len(t, decoded.Entries, 4)
}

func TestNewEmpty(t *testing.T) {
	r := New(map[string]*resolver.LoadDecision{})

	assert.Zero(t, r.Admitted)
	assert.Zero(t, r.Unresolved)
	assert.Empty(t, r.Entries)
}
