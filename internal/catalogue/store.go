// Package catalogue holds the spell catalogue and archetype loadouts that
// sessions bind their recognizers to.
package catalogue

import (
	"errors"

	"github.com/MrWong99/spellcast/pkg/spell"
)

// ErrNotFound is returned by Get and Loadout when the requested spell or
// archetype does not exist.
var ErrNotFound = errors.New("catalogue: not found")

// ErrUnknownSpell is returned when a loadout references a spell that is not in
// the catalogue.
var ErrUnknownSpell = errors.New("catalogue: loadout references unknown spell")

// ErrEmpty is returned by lookups made before a catalogue was loaded.
var ErrEmpty = errors.New("catalogue: no catalogue loaded")

// Store serves spell definitions and loadouts.
//
// All implementations must be safe for concurrent use.
type Store interface {
	// Replace validates file and swaps it in as the active catalogue.
	// On error the previous catalogue stays active.
	Replace(file *spell.File) error

	// Get retrieves a spell by ID.
	// Returns [ErrNotFound] when no spell with that ID exists.
	Get(id string) (spell.Spell, error)

	// List returns every spell in catalogue order.
	List() []spell.Spell

	// Loadout returns the spells of archetype in loadout order. An empty
	// archetype resolves to the full catalogue.
	// Returns [ErrNotFound] for an unknown archetype.
	Loadout(archetype string) ([]spell.Spell, error)

	// Archetypes returns the archetype names in file order.
	Archetypes() []string
}
