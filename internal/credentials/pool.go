// Package credentials gathers the API keys handed to the analysis engine.
package credentials

import (
	"os"
	"strconv"
	"strings"
)

const (
	DefaultPrefix = "ANALYSIS_API_KEY"
	DefaultSlots  = 10
)

// Source is a key-value configuration source.
type Source interface {
	Lookup(key string) (string, bool)
}

// EnvSource reads the live process environment on every lookup.
type EnvSource struct{}

func (EnvSource) Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// MapSource is a fixed Source, mostly useful in tests and CLIs.
type MapSource map[string]string

func (m MapSource) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Pool describes which slots to read: <Prefix>_0 .. <Prefix>_<Slots-1>, then <Prefix>.
type Pool struct {
	Prefix string
	Slots  int
}

// NewPool constructs a Pool, applying defaults for empty values.
func NewPool(prefix string, slots int) Pool {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultPrefix
	}
	if slots <= 0 {
		slots = DefaultSlots
	}
	return Pool{Prefix: prefix, Slots: slots}
}

// IndexedKey returns the variable name for slot i.
func (p Pool) IndexedKey(i int) string {
	return p.Prefix + "_" + strconv.Itoa(i)
}

// Collect returns the populated credentials in slot order with the default
// slot last. Duplicates are dropped; an empty result is valid.
func (p Pool) Collect(src Source) []string {
	if src == nil {
		return nil
	}
	out := make([]string, 0, p.Slots+1)
	seen := make(map[string]struct{}, p.Slots+1)
	add := func(key string) {
		raw, ok := src.Lookup(key)
		if !ok {
			return
		}
		val := strings.TrimSpace(raw)
		if val == "" {
			return
		}
		if _, dup := seen[val]; dup {
			return
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}

	for i := 0; i < p.Slots; i++ {
		add(p.IndexedKey(i))
	}
	add(p.Prefix)
	return out
}
