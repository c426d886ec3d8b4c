package engine

import (
	"math/rand"
)

// RandSource is the seedable randomness source threaded through room
// construction and the interact/co-occupant message pools. *rand.Rand
// satisfies it directly, letting tests inject a deterministic seed instead
// of the process-global source (spec.md §9, "Randomness").
type RandSource interface {
	Intn(n int) int
}

// Config is the immutable configuration record every Engine is built from:
// the room dimension, the item template pool, the flavor-message pools, and
// the randomness source. This replaces the source's module-level constants
// (spec.md §9, "Global singletons") with a value passed to construction.
type Config struct {
	Dimension          int
	ItemTemplates      []Item
	FailMessages       []string
	CoOccupantMessages []string
	Rand               RandSource
}

// DefaultConfig returns the config matching the source engine's constants,
// seeded from the process-global random source.
func DefaultConfig() Config {
	return Config{
		Dimension:          8,
		ItemTemplates:      defaultItemTemplates(),
		FailMessages:       defaultFailMessages(),
		CoOccupantMessages: defaultCoOccupantMessages(),
		Rand:               rand.New(rand.NewSource(rand.Int63())),
	}
}

// DefaultConfigSeeded is DefaultConfig with a caller-supplied seed, for
// deterministic tests (spec.md §9).
func DefaultConfigSeeded(seed int64) Config {
	cfg := DefaultConfig()
	cfg.Rand = rand.New(rand.NewSource(seed))
	return cfg
}

func (c Config) center() Position {
	return Position{X: c.Dimension / 2, Y: c.Dimension / 2}
}

// chest returns the fixed chest template from ItemTemplates, falling back to
// the source's literal constant if a caller supplies a template pool without
// one (custom Config in tests, for instance).
func (c Config) chest() Item {
	for _, item := range c.ItemTemplates {
		if item.Name == "chest" {
			return item
		}
	}
	return Item{
		Name:            "chest",
		Uses:            10,
		UseMessage:      "you put your hand in the box and get a surprise",
		EmptyMessage:    "you put your hand in an empty box",
		ConflictMessage: "you put your hand in the box and feel someone else's hand",
	}
}
