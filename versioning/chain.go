package versioning

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/schema"
)

// Caster transforms a payload one version step. It must be deterministic
// and free of side effects.
type Caster func(payload contracts.Payload) (contracts.Payload, error)

// Entry is one declared shape of a message type
type Entry struct {
	Version  int
	Shape    schema.Validator
	Doc      string
	Upcast   Caster // previous -> this
	Downcast Caster // this -> previous
}

// Chain is the ordered version sequence of one base type key
type Chain struct {
	kind    contracts.Kind
	base    contracts.TypeKey
	entries []Entry
}

// NewChain orders entries by version. It does not enforce integrity; call
// Verify for that. Duplicate versions keep the last entry given.
func NewChain(kind contracts.Kind, base contracts.TypeKey, entries ...Entry) *Chain {
	byVersion := make(map[int]Entry, len(entries))
	for _, e := range entries {
		byVersion[e.Version] = e
	}
	ordered := make([]Entry, 0, len(byVersion))
	for _, e := range byVersion {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	return &Chain{kind: kind, base: base, entries: ordered}
}

// Kind returns the message kind of the chain
func (c *Chain) Kind() contracts.Kind { return c.kind }

// Base returns the unversioned type key
func (c *Chain) Base() contracts.TypeKey { return c.base }

// Len returns the number of versions
func (c *Chain) Len() int { return len(c.entries) }

// Entries returns the entries in version order
func (c *Chain) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

// Versions returns the version numbers in order
func (c *Chain) Versions() []int {
	out := make([]int, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Version
	}
	return out
}

// Lowest returns the lowest declared version
func (c *Chain) Lowest() (int, bool) {
	if len(c.entries) == 0 {
		return 0, false
	}
	return c.entries[0].Version, true
}

// Latest returns the highest declared version
func (c *Chain) Latest() (int, bool) {
	if len(c.entries) == 0 {
		return 0, false
	}
	return c.entries[len(c.entries)-1].Version, true
}

// Entry returns the entry for version v
func (c *Chain) Entry(v int) (Entry, bool) {
	i := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].Version >= v })
	if i < len(c.entries) && c.entries[i].Version == v {
		return c.entries[i], true
	}
	return Entry{}, false
}

// Key returns the versioned type key of version v
func (c *Chain) Key(v int) (contracts.TypeKey, error) {
	return contracts.VersionedKey(c.kind, v, c.base)
}

// ChainError lists every integrity problem found in a chain
type ChainError struct {
	Base     contracts.TypeKey
	Problems []string
}

// Error implements the error interface
func (e *ChainError) Error() string {
	return fmt.Sprintf("invalid version chain for %s: %s", e.Base, strings.Join(e.Problems, "; "))
}

// Is matches contracts.ErrInvalidChain
func (e *ChainError) Is(target error) bool {
	return target == contracts.ErrInvalidChain
}

// Verify checks the declaration invariants: at least one version, no
// negative versions, contiguous numbering, no casters on the lowest version
// and both casters on every later version.
func (c *Chain) Verify() error {
	var problems []string
	if len(c.entries) == 0 {
		problems = append(problems, "no versions declared")
	}

	for i, e := range c.entries {
		if e.Version < 0 {
			problems = append(problems, fmt.Sprintf("version %d is negative", e.Version))
		}
		if e.Shape == nil {
			problems = append(problems, fmt.Sprintf("version %d has no shape", e.Version))
		}
		if i == 0 {
			if e.Upcast != nil || e.Downcast != nil {
				problems = append(problems, fmt.Sprintf("lowest version %d must not declare casters", e.Version))
			}
			continue
		}
		if prev := c.entries[i-1].Version; e.Version != prev+1 {
			problems = append(problems, fmt.Sprintf("gap between version %d and %d", prev, e.Version))
		}
		if e.Upcast == nil {
			problems = append(problems, fmt.Sprintf("version %d is missing an upcast", e.Version))
		}
		if e.Downcast == nil {
			problems = append(problems, fmt.Sprintf("version %d is missing a downcast", e.Version))
		}
	}

	if len(problems) > 0 {
		return &ChainError{Base: c.base, Problems: problems}
	}
	return nil
}

// CastErrorKind classifies a cast failure
type CastErrorKind int

const (
	// UnknownVersion means an endpoint or an intermediate version is not registered
	UnknownVersion CastErrorKind = iota + 1
	// MissingCaster means a required upcast or downcast is absent
	MissingCaster
	// StepFailed means a caster returned an error
	StepFailed
)

// String returns the kind name
func (k CastErrorKind) String() string {
	switch k {
	case UnknownVersion:
		return "UnknownVersion"
	case MissingCaster:
		return "MissingCaster"
	case StepFailed:
		return "StepFailed"
	default:
		return fmt.Sprintf("CastErrorKind(%d)", int(k))
	}
}

// CastError reports why a cast did not complete
type CastError struct {
	Kind CastErrorKind
	Base contracts.TypeKey
	From int
	To   int
	// At is the version whose caster or entry was missing or failed
	At  int
	Err error
}

// Error implements the error interface
func (e *CastError) Error() string {
	msg := fmt.Sprintf("cast %s v%d -> v%d failed: %s at version %d", e.Base, e.From, e.To, e.Kind, e.At)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the caster's error, if any
func (e *CastError) Unwrap() error {
	return e.Err
}

// Is matches the contracts sentinel for the error kind
func (e *CastError) Is(target error) bool {
	switch e.Kind {
	case UnknownVersion:
		return target == contracts.ErrUnknownVersion
	case MissingCaster:
		return target == contracts.ErrMissingCaster
	default:
		return false
	}
}

// AsCastError extracts a *CastError from err
func AsCastError(err error) (*CastError, bool) {
	var cerr *CastError
	if errors.As(err, &cerr) {
		return cerr, true
	}
	return nil, false
}

// Cast moves payload from version `from` to version `to`, one step at a
// time. On failure the caller's payload is returned unmodified with the
// error. A payload carrying a type tag is restamped with the destination
// version's key.
func (c *Chain) Cast(payload contracts.Payload, from, to int) (contracts.Payload, error) {
	fail := func(kind CastErrorKind, at int, err error) (contracts.Payload, error) {
		return payload, &CastError{Kind: kind, Base: c.base, From: from, To: to, At: at, Err: err}
	}

	if _, ok := c.Entry(from); !ok {
		return fail(UnknownVersion, from, nil)
	}
	if _, ok := c.Entry(to); !ok {
		return fail(UnknownVersion, to, nil)
	}
	if from == to {
		return payload, nil
	}

	// Resolve the whole path before running any caster
	var steps []Caster
	var stepAt []int
	if to > from {
		for v := from + 1; v <= to; v++ {
			e, ok := c.Entry(v)
			if !ok {
				return fail(UnknownVersion, v, nil)
			}
			if e.Upcast == nil {
				return fail(MissingCaster, v, nil)
			}
			steps = append(steps, e.Upcast)
			stepAt = append(stepAt, v)
		}
	} else {
		for v := from; v > to; v-- {
			e, ok := c.Entry(v)
			if !ok {
				return fail(UnknownVersion, v, nil)
			}
			if _, ok := c.Entry(v - 1); !ok {
				return fail(UnknownVersion, v-1, nil)
			}
			if e.Downcast == nil {
				return fail(MissingCaster, v, nil)
			}
			steps = append(steps, e.Downcast)
			stepAt = append(stepAt, v)
		}
	}

	current := payload.Clone()
	for i, step := range steps {
		next, err := step(current)
		if err != nil {
			return fail(StepFailed, stepAt[i], err)
		}
		current = next
	}

	if payload.HasTypeTag() {
		key, err := c.Key(to)
		if err != nil {
			return fail(UnknownVersion, to, err)
		}
		current = current.WithTypeKey(key)
	}
	return current, nil
}

// Upgrade casts payload from version `from` to the latest version
func (c *Chain) Upgrade(payload contracts.Payload, from int) (contracts.Payload, int, error) {
	latest, ok := c.Latest()
	if !ok {
		return payload, from, &CastError{Kind: UnknownVersion, Base: c.base, From: from, To: from, At: from}
	}
	out, err := c.Cast(payload, from, latest)
	if err != nil {
		return payload, from, err
	}
	return out, latest, nil
}
