package spell

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Validate checks a single [Spell].
//
// Rules:
//   - ID must be non-empty.
//   - Every phrase language must be a supported [Language].
//   - At least one non-blank phrase must exist across all languages.
//   - No phrase may be blank.
func Validate(s Spell) error {
	var errs []error

	if strings.TrimSpace(s.ID) == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}

	total := 0
	for _, lang := range slices.Sorted(maps.Keys(s.Phrases)) {
		phrases := s.Phrases[lang]
		if !lang.IsValid() {
			errs = append(errs, fmt.Errorf("language %q is not supported; valid values: en, ru", lang))
		}
		for i, p := range phrases {
			if strings.TrimSpace(p) == "" {
				errs = append(errs, fmt.Errorf("phrases.%s[%d] must not be blank", lang, i))
				continue
			}
			total++
		}
	}
	if total == 0 {
		errs = append(errs, errors.New("at least one trigger phrase is required"))
	}

	return errors.Join(errs...)
}

// ValidateFile checks every spell in f, rejects duplicate spell IDs, and
// checks that loadouts only reference known spells. All failures are
// reported together.
func ValidateFile(f *File) error {
	if f == nil {
		return errors.New("spell: catalogue must not be nil")
	}

	var errs []error
	seen := make(map[string]int, len(f.Spells))
	for i, s := range f.Spells {
		if err := Validate(s); err != nil {
			errs = append(errs, fmt.Errorf("spells[%d] (%s): %w", i, s.ID, err))
		}
		if s.ID == "" {
			continue
		}
		if prev, ok := seen[s.ID]; ok {
			errs = append(errs, fmt.Errorf("spells[%d].id %q is a duplicate of spells[%d]", i, s.ID, prev))
			continue
		}
		seen[s.ID] = i
	}

	archetypes := make(map[string]int, len(f.Loadouts))
	for i, l := range f.Loadouts {
		prefix := fmt.Sprintf("loadouts[%d]", i)
		if l.Archetype == "" {
			errs = append(errs, fmt.Errorf("%s.archetype is required", prefix))
		} else if prev, ok := archetypes[l.Archetype]; ok {
			errs = append(errs, fmt.Errorf("%s.archetype %q is a duplicate of loadouts[%d]", prefix, l.Archetype, prev))
		} else {
			archetypes[l.Archetype] = i
		}
		if len(l.Spells) == 0 {
			errs = append(errs, fmt.Errorf("%s.spells must not be empty", prefix))
		}
		for j, id := range l.Spells {
			if _, ok := seen[id]; !ok {
				errs = append(errs, fmt.Errorf("%s.spells[%d] references unknown spell %q", prefix, j, id))
			}
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("spell: invalid catalogue: %w", errors.Join(errs...))
}
