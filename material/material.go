// Package material holds the multi-group macroscopic cross-section model.
//
// A Material carries per-group arrays whose length must match the material's
// group count G, and a G×G scattering matrix stored row-major as
// SigmaS[g*G+gp] for scattering from group g into group gp. Materials are
// frozen once the geometry that owns them is finalized.
package material

import (
	"fmt"
	"math"
)

const chiSumTolerance = 1e-6

// Material is the cross-section set for one material region.
type Material struct {
	ID   int
	Name string

	NumGroups int

	SigmaT   []float64 // Total cross section per group
	SigmaA   []float64 // Absorption per group (derived if not set)
	SigmaS   []float64 // Scattering matrix, G×G row-major g→g'
	SigmaF   []float64 // Fission per group
	NuSigmaF []float64 // nu times fission per group
	Chi      []float64 // Fission spectrum, sums to 1 if fissionable

	frozen bool
}

// GroupData is the per-material output of the cross-section ingestion
// collaborator: every group-indexed array has exactly NumGroups entries and
// the scattering matrix is NumGroups×NumGroups.
type GroupData struct {
	NumGroups int
	SigmaT    []float64
	SigmaA    []float64 // optional, derived from SigmaT and SigmaS if nil
	SigmaS    []float64
	SigmaF    []float64
	NuSigmaF  []float64
	Chi       []float64
}

// New creates an empty material with the given group count.
func New(id int, name string, groups int) (*Material, error) {
	if groups <= 0 {
		return nil, fmt.Errorf("material %q: group count %d must be positive", name, groups)
	}
	return &Material{
		ID:        id,
		Name:      name,
		NumGroups: groups,
	}, nil
}

// FromGroupData builds and validates a material from ingested group data.
func FromGroupData(id int, name string, data GroupData) (*Material, error) {
	m, err := New(id, name, data.NumGroups)
	if err != nil {
		return nil, err
	}
	if err = m.SetSigmaT(data.SigmaT); err != nil {
		return nil, err
	}
	if err = m.SetSigmaS(data.SigmaS); err != nil {
		return nil, err
	}
	if err = m.SetSigmaF(data.SigmaF); err != nil {
		return nil, err
	}
	if err = m.SetNuSigmaF(data.NuSigmaF); err != nil {
		return nil, err
	}
	if err = m.SetChi(data.Chi); err != nil {
		return nil, err
	}
	if data.SigmaA != nil {
		if err = m.SetSigmaA(data.SigmaA); err != nil {
			return nil, err
		}
	}
	if err = m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Material) checkGroups(what string, xs []float64) error {
	if m.frozen {
		return fmt.Errorf("material %q is frozen, cannot set %s", m.Name, what)
	}
	if len(xs) != m.NumGroups {
		return fmt.Errorf("material %q: %s has %d entries, want %d",
			m.Name, what, len(xs), m.NumGroups)
	}
	return nil
}

// SetSigmaT sets the total cross section per group.
func (m *Material) SetSigmaT(xs []float64) error {
	if err := m.checkGroups("sigma_t", xs); err != nil {
		return err
	}
	m.SigmaT = append([]float64(nil), xs...)
	return nil
}

// SetSigmaA sets the absorption cross section per group. If never called,
// absorption is derived as sigma_t minus total out-scattering at Validate.
func (m *Material) SetSigmaA(xs []float64) error {
	if err := m.checkGroups("sigma_a", xs); err != nil {
		return err
	}
	m.SigmaA = append([]float64(nil), xs...)
	return nil
}

// SetSigmaS sets the G×G scattering matrix, row-major g→g'.
func (m *Material) SetSigmaS(xs []float64) error {
	if m.frozen {
		return fmt.Errorf("material %q is frozen, cannot set sigma_s", m.Name)
	}
	g := m.NumGroups
	if len(xs) != g*g {
		return fmt.Errorf("material %q: sigma_s has %d entries, want %d×%d",
			m.Name, len(xs), g, g)
	}
	m.SigmaS = append([]float64(nil), xs...)
	return nil
}

// SetSigmaF sets the fission cross section per group.
func (m *Material) SetSigmaF(xs []float64) error {
	if err := m.checkGroups("sigma_f", xs); err != nil {
		return err
	}
	m.SigmaF = append([]float64(nil), xs...)
	return nil
}

// SetNuSigmaF sets nu times the fission cross section per group.
func (m *Material) SetNuSigmaF(xs []float64) error {
	if err := m.checkGroups("nu_sigma_f", xs); err != nil {
		return err
	}
	m.NuSigmaF = append([]float64(nil), xs...)
	return nil
}

// SetChi sets the fission spectrum per group.
func (m *Material) SetChi(xs []float64) error {
	if err := m.checkGroups("chi", xs); err != nil {
		return err
	}
	m.Chi = append([]float64(nil), xs...)
	return nil
}

// ScatterXS returns the scattering cross section from group g into group gp.
func (m *Material) ScatterXS(g, gp int) float64 {
	return m.SigmaS[g*m.NumGroups+gp]
}

// Fissionable reports whether any group has a nonzero nu-fission cross
// section.
func (m *Material) Fissionable() bool {
	for _, nsf := range m.NuSigmaF {
		if nsf > 0 {
			return true
		}
	}
	return false
}

// Validate checks the invariants from the ingestion contract and fills in
// derived absorption if it was not supplied.
func (m *Material) Validate() error {
	g := m.NumGroups
	if len(m.SigmaT) != g {
		return fmt.Errorf("material %q: sigma_t not set for %d groups", m.Name, g)
	}
	if len(m.SigmaS) != g*g {
		return fmt.Errorf("material %q: sigma_s not set to %d×%d", m.Name, g, g)
	}
	if len(m.NuSigmaF) != g || len(m.SigmaF) != g || len(m.Chi) != g {
		return fmt.Errorf("material %q: fission data not set for %d groups", m.Name, g)
	}

	for e, st := range m.SigmaT {
		if st < 0 {
			return fmt.Errorf("material %q: sigma_t[%d] = %g is negative", m.Name, e, st)
		}
	}

	// Chi sums to 1 for fissionable materials, all-zero otherwise.
	var chiSum float64
	for _, c := range m.Chi {
		chiSum += c
	}
	if m.Fissionable() {
		if math.Abs(chiSum-1.0) > chiSumTolerance {
			return fmt.Errorf("material %q: chi sums to %g, want 1 for a fissionable material",
				m.Name, chiSum)
		}
	} else if chiSum != 0 {
		return fmt.Errorf("material %q: chi sums to %g, want 0 for a non-fissionable material",
			m.Name, chiSum)
	}

	if m.SigmaA == nil {
		m.SigmaA = make([]float64, g)
		for e := 0; e < g; e++ {
			out := 0.0
			for gp := 0; gp < g; gp++ {
				out += m.SigmaS[e*g+gp]
			}
			m.SigmaA[e] = m.SigmaT[e] - out
		}
	} else if len(m.SigmaA) != g {
		return fmt.Errorf("material %q: sigma_a has %d entries, want %d",
			m.Name, len(m.SigmaA), g)
	}
	return nil
}

// Freeze marks the material immutable. Called by the geometry at
// finalization.
func (m *Material) Freeze() {
	m.frozen = true
}

func (m *Material) String() string {
	return fmt.Sprintf("Material id=%d name=%q groups=%d fissionable=%v",
		m.ID, m.Name, m.NumGroups, m.Fissionable())
}
