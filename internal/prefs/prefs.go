// Package prefs persists the per-user chat settings that tune retrieval and
// generation: how many fragments to retrieve, the similarity cut-off, the
// model and its temperature.
//
// A Store holds a single record under Key. Load never fails: a missing,
// expired or unreadable record yields Defaults. Save replaces the record
// wholesale, so concurrent saves resolve as last-write-wins.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// Key is the fixed identifier of the persisted record.
	Key = "chat_settings"
	// Retention is how long a saved record stays valid.
	Retention = 365 * 24 * time.Hour

	MinFragments = 1
	MaxFragments = 5
)

var (
	ErrCorrupt = errors.New("stored preferences are corrupt")
	ErrInvalid = errors.New("invalid preferences")
)

type Model string

// Catalog is the set of selectable models. It starts from DefaultCatalog and
// can be extended from configuration.
type Catalog []Model

var DefaultCatalog = Catalog{"gpt-4", "gpt-3.5", "claude"}

func (c Catalog) Contains(m Model) bool {
	for _, known := range c {
		if known == m {
			return true
		}
	}
	return false
}

// With returns a copy of c extended with extra models, skipping blanks and
// duplicates.
func (c Catalog) With(extra ...string) Catalog {
	out := append(Catalog(nil), c...)
	for _, e := range extra {
		m := Model(strings.TrimSpace(e))
		if m == "" || out.Contains(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

type Preferences struct {
	FragmentCount       int     `json:"numFragments" yaml:"fragments"`
	SimilarityThreshold float64 `json:"similarityThreshold" yaml:"similarity_threshold"`
	Model               Model   `json:"model" yaml:"model"`
	Temperature         float64 `json:"temperature" yaml:"temperature"`
}

func Defaults() Preferences {
	return Preferences{
		FragmentCount:       3,
		SimilarityThreshold: 0.7,
		Model:               "gpt-4",
		Temperature:         0.7,
	}
}

// Validate checks every field against its bounds. A nil catalog means
// DefaultCatalog.
func (p Preferences) Validate(catalog Catalog) error {
	if catalog == nil {
		catalog = DefaultCatalog
	}
	switch {
	case p.FragmentCount < MinFragments || p.FragmentCount > MaxFragments:
		return fmt.Errorf("%w: fragment count %d outside [%d,%d]", ErrInvalid, p.FragmentCount, MinFragments, MaxFragments)
	case !inUnit(p.SimilarityThreshold):
		return fmt.Errorf("%w: similarity threshold %.2f outside [0,1]", ErrInvalid, p.SimilarityThreshold)
	case !inUnit(p.Temperature):
		return fmt.Errorf("%w: temperature %.2f outside [0,1]", ErrInvalid, p.Temperature)
	case !catalog.Contains(p.Model):
		return fmt.Errorf("%w: unknown model %q", ErrInvalid, p.Model)
	}
	return nil
}

// inUnit reports whether x is in [0,1]. NaN is not.
func inUnit(x float64) bool { return x >= 0 && x <= 1 }

type Store interface {
	Load(ctx context.Context) Preferences
	Save(ctx context.Context, p Preferences) error
}

func encode(p Preferences) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode preferences: %w", err)
	}
	return b, nil
}

// decode parses a stored value. Anything that does not round-trip into a
// valid Preferences is reported as ErrCorrupt.
func decode(raw []byte, catalog Catalog) (Preferences, error) {
	var p Preferences
	if err := json.Unmarshal(raw, &p); err != nil {
		return Preferences{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := p.Validate(catalog); err != nil {
		return Preferences{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return p, nil
}

func expired(expiresAt int64, now time.Time) bool {
	return expiresAt > 0 && now.Unix() >= expiresAt
}
