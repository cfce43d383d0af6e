// Package spell defines the recognisable voice commands (spells) and the
// catalogue files they are loaded from.
//
// A [Spell] carries one or more trigger phrases per supported [Language]. A
// catalogue [File] lists spells in a fixed order; that order is significant
// because recognition ties are broken in favour of the spell listed first.
// [Loadout] entries select an ordered subset of the catalogue for a player
// archetype.
//
// Example catalogue:
//
//	catalogue:
//	  name: "Arena"
//	spells:
//	  - id: fire_bolt
//	    name: Fire Bolt
//	    phrases:
//	      en: ["fire bolt", "firebolt"]
//	      ru: ["огненная стрела"]
//	loadouts:
//	  - archetype: mage
//	    spells: [fire_bolt]
package spell

import "slices"

// Language identifies the language a trigger phrase is spoken in.
type Language string

const (
	// English trigger phrases.
	English Language = "en"

	// Russian trigger phrases.
	Russian Language = "ru"
)

// Languages lists every supported language in a stable order.
var Languages = []Language{English, Russian}

// IsValid reports whether l is a supported language.
func (l Language) IsValid() bool {
	return slices.Contains(Languages, l)
}

// Spell is one recognisable command.
type Spell struct {
	// ID is the opaque identifier handed back to the game on recognition.
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable display name.
	Name string `yaml:"name" json:"name"`

	// Phrases maps each language to the trigger phrases of this spell in that
	// language. Several variants per language are allowed ("fire bolt",
	// "firebolt").
	Phrases map[Language][]string `yaml:"phrases" json:"phrases"`
}

// PhrasesFor returns the trigger phrases of s in lang. The result is nil when
// the spell has no variant for that language.
func (s Spell) PhrasesFor(lang Language) []string {
	return s.Phrases[lang]
}

// AllPhrases returns every trigger phrase of s across all languages, in
// [Languages] order.
func (s Spell) AllPhrases() []string {
	var out []string
	for _, lang := range Languages {
		out = append(out, s.Phrases[lang]...)
	}
	return out
}

// Loadout selects the spells available to one player archetype.
type Loadout struct {
	// Archetype names the player class or loadout (e.g. "mage").
	Archetype string `yaml:"archetype" json:"archetype"`

	// Spells lists spell IDs in recognition priority order.
	Spells []string `yaml:"spells" json:"spells"`
}

// Meta holds descriptive metadata for a catalogue file.
type Meta struct {
	// Name is the catalogue's display name.
	Name string `yaml:"name" json:"name"`

	// Description is a free-text summary.
	Description string `yaml:"description" json:"description"`
}

// File is the top-level structure of a spell catalogue YAML file.
type File struct {
	Catalogue Meta      `yaml:"catalogue" json:"catalogue"`
	Spells    []Spell   `yaml:"spells" json:"spells"`
	Loadouts  []Loadout `yaml:"loadouts,omitempty" json:"loadouts,omitempty"`
}
