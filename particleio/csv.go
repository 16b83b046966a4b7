// Package particleio provides the one concrete Particle I/O
// implementation the core ships with: a CSV reader/writer built on
// gocarina/gocsv, grounded on telemetry/output.go's header-then-append
// CSV writing pattern. HDF5 I/O is a spec.md §1 Non-goal exclusion; CSV
// is not — the distillation dropped it, but the corpus already
// demonstrates the library, so it is filled back in here as the external
// particle-format contract's one concrete instance (see
// Reader/Writer, the interface types the core actually depends on).
package particleio

import (
	"fmt"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/mlange-42/ark/ecs"

	"github.com/flecsph-go/flecsph/particle"
)

// Record is one particle's flattened CSV row: the full kinematic and SPH
// state needed to resume a run, plus the stable id.
type Record struct {
	ID    uint64  `csv:"id"`
	X     float64 `csv:"x"`
	Y     float64 `csv:"y"`
	Z     float64 `csv:"z"`
	VX    float64 `csv:"vx"`
	VY    float64 `csv:"vy"`
	VZ    float64 `csv:"vz"`
	Mass  float64 `csv:"mass"`
	H     float64 `csv:"h"`
	Rho   float64 `csv:"density"`
	P     float64 `csv:"pressure"`
	Cs    float64 `csv:"soundspeed"`
	U     float64 `csv:"internal_energy"`
}

// Reader loads a rank's initial particle set. The core depends only on
// this interface — ReadCSV below is the one concrete implementation
// shipped in-tree.
type Reader interface {
	Read(path string) ([]Record, error)
}

// Writer persists a rank's current particle set, e.g. for a snapshot.
type Writer interface {
	Write(path string, records []Record) error
}

// CSV implements Reader and Writer over gocarina/gocsv.
type CSV struct{}

// Read parses every row of a CSV particle file into Records.
func (CSV) Read(path string) ([]Record, error) {
	return ReadCSV(path)
}

// Write serializes records to a CSV particle file, header included.
func (CSV) Write(path string, records []Record) error {
	return WriteCSV(path, records)
}

// ReadCSV opens path and unmarshals every row into a Record.
func ReadCSV(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening particle file: %w", err)
	}
	defer f.Close()

	var records []Record
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		return nil, fmt.Errorf("parsing particle file: %w", err)
	}
	return records, nil
}

// WriteCSV creates (or truncates) path and writes records with a header
// row.
func WriteCSV(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating particle file: %w", err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&records, f); err != nil {
		return fmt.Errorf("writing particle file: %w", err)
	}
	return nil
}

// ExtractLocal flattens every "mine" particle in entities into Records,
// the inverse of SpawnInto.
func ExtractLocal(arena *particle.Arena, entities []ecs.Entity) []Record {
	var out []Record
	for _, e := range entities {
		if !arena.Owner(e).Tag.IsMine() {
			continue
		}
		pos := arena.Position(e).V
		vel := arena.Velocity(e).V
		sph := arena.SPH(e)
		out = append(out, Record{
			ID:   arena.ID(e),
			X:    pos.X, Y: pos.Y, Z: pos.Z,
			VX: vel.X, VY: vel.Y, VZ: vel.Z,
			Mass: sph.Mass, H: sph.SmoothingLen,
			Rho: sph.Density, P: sph.Pressure, Cs: sph.SoundSpeed, U: sph.InternalEnergy,
		})
	}
	return out
}

// SpawnInto materializes every Record as a fresh LOCAL particle in arena,
// returning the new handles. Used to seed a rank from an initial-data
// CSV file at startup.
func SpawnInto(arena *particle.Arena, records []Record) []ecs.Entity {
	out := make([]ecs.Entity, 0, len(records))
	for _, r := range records {
		e := arena.Spawn(r.ID,
			particle.Position{V: particle.Vec{X: r.X, Y: r.Y, Z: r.Z}},
			particle.Velocity{V: particle.Vec{X: r.VX, Y: r.VY, Z: r.VZ}},
			particle.SPHState{Density: r.Rho, Pressure: r.P, SoundSpeed: r.Cs, InternalEnergy: r.U, Mass: r.Mass, SmoothingLen: r.H},
			particle.Owner{Tag: particle.LOCAL},
		)
		out = append(out, e)
	}
	return out
}
