package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"

	"github.com/glimte/mmate-schema/contracts"
	"github.com/glimte/mmate-schema/schema"
	"github.com/glimte/mmate-schema/versioning"
)

// Observer is notified after every committed write
type Observer interface {
	RecordsChanged(kind contracts.Kind, count int)
}

type recordMap map[contracts.TypeKey]*Record

// Registry is a concurrency-safe store of message type declarations
type Registry struct {
	records  atomic.Pointer[recordMap]
	logger   *slog.Logger
	observer Observer
}

// Option configures the Registry
type Option func(*Registry)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithObserver sets an observer for committed writes
func WithObserver(observer Observer) Option {
	return func(r *Registry) {
		r.observer = observer
	}
}

// New creates an empty registry
func New(options ...Option) *Registry {
	r := &Registry{
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(r)
	}
	empty := make(recordMap)
	r.records.Store(&empty)
	return r
}

// commit replaces key's record with the result of fn, retrying until the
// compare-and-swap succeeds. fn receives the current record or nil and must
// not modify it.
func (r *Registry) commit(key contracts.TypeKey, fn func(current *Record) (*Record, error)) (*Record, error) {
	for {
		cur := r.records.Load()
		next, err := fn((*cur)[key])
		if err != nil {
			return nil, err
		}

		m := make(recordMap, len(*cur)+1)
		for k, v := range *cur {
			m[k] = v
		}
		m[key] = next

		if r.records.CompareAndSwap(cur, &m) {
			if r.observer != nil {
				r.observer.RecordsChanged(next.Kind, countKind(m, next.Kind))
			}
			return next, nil
		}
	}
}

func countKind(m recordMap, kind contracts.Kind) int {
	n := 0
	for _, rec := range m {
		if rec.Kind == kind {
			n++
		}
	}
	return n
}

func validateBase(kind contracts.Kind, key contracts.TypeKey) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unsupported kind %q", contracts.ErrInvalidTypeKey, kind)
	}
	if err := key.Validate(); err != nil {
		return err
	}
	if contracts.IsVersioned(key) {
		return fmt.Errorf("%w: %s is versioned; declare the base key", contracts.ErrInvalidTypeKey, key)
	}
	return nil
}

// Register declares a versioned message type. Re-registering a key replaces
// its whole record, including any versions.
func (r *Registry) Register(kind contracts.Kind, key contracts.TypeKey, shape schema.Validator, doc string) error {
	if err := validateBase(kind, key); err != nil {
		return err
	}
	if shape == nil {
		return fmt.Errorf("register %s: shape cannot be nil", key)
	}

	_, err := r.commit(key, func(*Record) (*Record, error) {
		return &Record{
			Key:      key,
			Kind:     kind,
			Shape:    shape,
			Doc:      doc,
			versions: map[int]versioning.Entry{},
		}, nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("registered message type", "typeKey", key.String(), "kind", string(kind))
	return nil
}

// RegisterVersion adds or replaces one version entry of a declared type
func (r *Registry) RegisterVersion(key contracts.TypeKey, entry versioning.Entry) error {
	if entry.Version < 0 {
		return fmt.Errorf("register %s: negative version %d", key, entry.Version)
	}
	if entry.Shape == nil {
		return fmt.Errorf("register %s v%d: shape cannot be nil", key, entry.Version)
	}

	rec, err := r.commit(key, func(cur *Record) (*Record, error) {
		if cur == nil {
			return nil, &UnknownTypeKeyError{Key: key}
		}
		if cur.Simple {
			return nil, fmt.Errorf("register %s v%d: simple commands are not versioned", key, entry.Version)
		}
		return cur.withVersion(entry), nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("registered message version",
		"typeKey", key.String(),
		"kind", string(rec.Kind),
		"version", entry.Version,
	)
	return nil
}

// RegisterChain declares a versioned message type together with all of its
// versions in a single write. Readers see either the previous record or the
// complete new one.
func (r *Registry) RegisterChain(kind contracts.Kind, key contracts.TypeKey, shape schema.Validator, doc string, entries []versioning.Entry) error {
	if err := validateBase(kind, key); err != nil {
		return err
	}
	if shape == nil {
		return fmt.Errorf("register %s: shape cannot be nil", key)
	}

	versions := make(map[int]versioning.Entry, len(entries))
	for _, entry := range entries {
		if entry.Version < 0 {
			return fmt.Errorf("register %s: negative version %d", key, entry.Version)
		}
		if entry.Shape == nil {
			return fmt.Errorf("register %s v%d: shape cannot be nil", key, entry.Version)
		}
		if _, dup := versions[entry.Version]; dup {
			return fmt.Errorf("register %s: version %d declared twice", key, entry.Version)
		}
		versions[entry.Version] = entry
	}

	_, err := r.commit(key, func(*Record) (*Record, error) {
		return &Record{
			Key:      key,
			Kind:     kind,
			Shape:    shape,
			Doc:      doc,
			versions: versions,
		}, nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("registered message type",
		"typeKey", key.String(),
		"kind", string(kind),
		"versions", len(versions),
	)
	return nil
}

// RegisterSimple declares a simple/external command
func (r *Registry) RegisterSimple(key contracts.TypeKey, shape schema.Validator, doc string, aux Aux) error {
	if err := validateBase(contracts.KindCommand, key); err != nil {
		return err
	}
	if shape == nil {
		return fmt.Errorf("register %s: shape cannot be nil", key)
	}
	if aux.Handler == nil {
		return fmt.Errorf("register %s: simple command needs a handler", key)
	}

	_, err := r.commit(key, func(*Record) (*Record, error) {
		return &Record{
			Key:    key,
			Kind:   contracts.KindCommand,
			Shape:  shape,
			Doc:    doc,
			Simple: true,
			Aux:    aux.clone(),
		}, nil
	})
	if err != nil {
		return err
	}

	r.logger.Debug("registered simple command", "typeKey", key.String(), "generates", len(aux.Generates))
	return nil
}

// SetAux replaces the auxiliary references of a declared type
func (r *Registry) SetAux(key contracts.TypeKey, aux Aux) error {
	key = contracts.BaseKey(key)
	_, err := r.commit(key, func(cur *Record) (*Record, error) {
		if cur == nil {
			return nil, &UnknownTypeKeyError{Key: key}
		}
		next := *cur
		next.Aux = aux.clone()
		return &next, nil
	})
	return err
}

// Lookup returns the record for key. Versioned keys resolve to their base
// and must carry the record's kind.
func (r *Registry) Lookup(key contracts.TypeKey) (Record, error) {
	base := contracts.BaseKey(key)
	rec, ok := (*r.records.Load())[base]
	if !ok {
		return Record{}, &UnknownTypeKeyError{Key: key}
	}
	if kv, versioned := contracts.Destructure(key); versioned && kv.Kind != rec.Kind {
		return Record{}, &UnknownTypeKeyError{Key: key}
	}
	return rec.snapshot(), nil
}

// LookupVersion returns the entry a versioned key names
func (r *Registry) LookupVersion(key contracts.TypeKey) (versioning.Entry, error) {
	kv, ok := contracts.Destructure(key)
	if !ok {
		return versioning.Entry{}, fmt.Errorf("%w: %s is not versioned", contracts.ErrInvalidTypeKey, key)
	}
	rec, ok := (*r.records.Load())[kv.Base]
	if !ok {
		return versioning.Entry{}, &UnknownTypeKeyError{Key: kv.Base}
	}
	if rec.Kind != kv.Kind {
		return versioning.Entry{}, &UnknownVersionError{Key: key, Version: kv.Version}
	}
	entry, ok := rec.versions[kv.Version]
	if !ok {
		return versioning.Entry{}, &UnknownVersionError{Key: key, Version: kv.Version}
	}
	return entry, nil
}

// List returns the base keys of the given kind in lexical order. An empty
// kind lists everything.
func (r *Registry) List(kind contracts.Kind) []contracts.TypeKey {
	m := *r.records.Load()
	out := make([]contracts.TypeKey, 0, len(m))
	for key, rec := range m {
		if kind == "" || rec.Kind == kind {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Records returns a snapshot of every record in key order
func (r *Registry) Records() []Record {
	m := *r.records.Load()
	keys := make([]contracts.TypeKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	out := make([]Record, 0, len(keys))
	for _, key := range keys {
		out = append(out, m[key].snapshot())
	}
	return out
}

// Len returns the number of declared type keys
func (r *Registry) Len() int {
	return len(*r.records.Load())
}

// Chain returns the version chain of key
func (r *Registry) Chain(key contracts.TypeKey) (*versioning.Chain, error) {
	rec, err := r.Lookup(key)
	if err != nil {
		return nil, err
	}
	return rec.Chain(), nil
}

// Cast moves payload between two versions of key. On failure the original
// payload is returned with the error.
func (r *Registry) Cast(key contracts.TypeKey, payload contracts.Payload, from, to int) (contracts.Payload, error) {
	chain, err := r.Chain(key)
	if err != nil {
		return payload, err
	}
	return chain.Cast(payload, from, to)
}

// MatchVersions returns the declared versions of key satisfying a semver
// constraint such as "^2" or ">=1, <4". Version N is compared as N.0.0.
func (r *Registry) MatchVersions(key contracts.TypeKey, constraint string) ([]int, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}
	rec, err := r.Lookup(key)
	if err != nil {
		return nil, err
	}

	var out []int
	for _, v := range rec.VersionNumbers() {
		if c.Check(semver.New(uint64(v), 0, 0, "", "")) {
			out = append(out, v)
		}
	}
	return out, nil
}
