package catalogue

import (
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/spellcast/pkg/spell"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// The zero value is ready to use and holds no catalogue.
type MemStore struct {
	mu       sync.RWMutex
	meta     spell.Meta
	spells   []spell.Spell
	byID     map[string]int
	loadouts map[string][]string
	order    []string
	loaded   bool
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Replace implements [Store.Replace].
func (s *MemStore) Replace(file *spell.File) error {
	if file == nil {
		return fmt.Errorf("catalogue: replace: nil file")
	}
	if err := spell.ValidateFile(file); err != nil {
		return err
	}

	spells := slices.Clone(file.Spells)
	byID := make(map[string]int, len(spells))
	for i, sp := range spells {
		byID[sp.ID] = i
	}
	loadouts := make(map[string][]string, len(file.Loadouts))
	order := make([]string, 0, len(file.Loadouts))
	for _, l := range file.Loadouts {
		loadouts[l.Archetype] = slices.Clone(l.Spells)
		order = append(order, l.Archetype)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = file.Catalogue
	s.spells = spells
	s.byID = byID
	s.loadouts = loadouts
	s.order = order
	s.loaded = true
	return nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(id string) (spell.Spell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return spell.Spell{}, fmt.Errorf("%w: spell %q", ErrNotFound, id)
	}
	return s.spells[i], nil
}

// List implements [Store.List].
func (s *MemStore) List() []spell.Spell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.spells)
}

// Loadout implements [Store.Loadout].
func (s *MemStore) Loadout(archetype string) ([]spell.Spell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.loaded {
		return nil, ErrEmpty
	}
	if archetype == "" {
		return slices.Clone(s.spells), nil
	}

	ids, ok := s.loadouts[archetype]
	if !ok {
		return nil, fmt.Errorf("%w: archetype %q", ErrNotFound, archetype)
	}
	out := make([]spell.Spell, 0, len(ids))
	for _, id := range ids {
		i, ok := s.byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %q in archetype %q", ErrUnknownSpell, id, archetype)
		}
		out = append(out, s.spells[i])
	}
	return out, nil
}

// Archetypes implements [Store.Archetypes].
func (s *MemStore) Archetypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Meta returns the descriptive header of the active catalogue.
func (s *MemStore) Meta() spell.Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// Loaded reports whether a catalogue has been successfully loaded.
func (s *MemStore) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Phrases returns every trigger phrase of every spell in every language. Use
// it to prewarm a phrase cache shared by sessions bound to different loadouts.
func (s *MemStore) Phrases() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, sp := range s.spells {
		out = append(out, sp.AllPhrases()...)
	}
	return out
}

// Confusables lints the active catalogue for trigger phrases in lang that the
// recognizer may not separate reliably. See [spell.FindConfusables].
func (s *MemStore) Confusables(lang spell.Language, threshold float64) []spell.Confusable {
	return spell.FindConfusables(s.List(), lang, threshold)
}
