package registry

import (
	"sort"

	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/schema"
	"github.com/glimte/mmate-schema/versioning"
)

// Aux holds auxiliary references attached to a type key
type Aux struct {
	Handler      contracts.Handler
	WebAdapter   contracts.WebAdapter
	Generates    []contracts.TypeKey
	ResponseType contracts.TypeKey
}

func (a Aux) clone() Aux {
	a.Generates = append([]contracts.TypeKey(nil), a.Generates...)
	return a
}

// Record is a read-only snapshot of one type key's declaration
type Record struct {
	Key   contracts.TypeKey
	Kind  contracts.Kind
	Shape schema.Validator
	Doc   string
	// Simple marks a simple/external command declared without versions
	Simple bool
	Aux    Aux

	versions map[int]versioning.Entry
}

// Version returns the entry for version v
func (r Record) Version(v int) (versioning.Entry, bool) {
	e, ok := r.versions[v]
	return e, ok
}

// Versions returns the entries in version order
func (r Record) Versions() []versioning.Entry {
	out := make([]versioning.Entry, 0, len(r.versions))
	for _, e := range r.versions {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// VersionNumbers returns the declared version numbers in order
func (r Record) VersionNumbers() []int {
	out := make([]int, 0, len(r.versions))
	for v := range r.versions {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// VersionKeys returns the versioned type keys in version order
func (r Record) VersionKeys() []contracts.TypeKey {
	nums := r.VersionNumbers()
	out := make([]contracts.TypeKey, 0, len(nums))
	for _, v := range nums {
		if key, err := contracts.VersionedKey(r.Kind, v, r.Key); err == nil {
			out = append(out, key)
		}
	}
	return out
}

// HasVersionKey reports whether key is one of the record's versioned keys
func (r Record) HasVersionKey(key contracts.TypeKey) bool {
	kv, ok := contracts.Destructure(key)
	if !ok || kv.Base != r.Key || kv.Kind != r.Kind {
		return false
	}
	_, ok = r.versions[kv.Version]
	return ok
}

// Chain assembles the record's version chain
func (r Record) Chain() *versioning.Chain {
	return versioning.NewChain(r.Kind, r.Key, r.Versions()...)
}

func (r *Record) withVersion(e versioning.Entry) *Record {
	next := *r
	next.versions = make(map[int]versioning.Entry, len(r.versions)+1)
	for v, existing := range r.versions {
		next.versions[v] = existing
	}
	next.versions[e.Version] = e
	return &next
}

// snapshot returns a copy safe to hand to callers
func (r *Record) snapshot() Record {
	out := *r
	out.Aux = r.Aux.clone()
	return out
}
