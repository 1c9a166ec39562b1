package contracts

import (
	"fmt"
	"strconv"
	"strings"
)

// TypeKey names a message's business type. When versioned, the namespace
// carries a trailing ".<kind>.v<N>" segment.
type TypeKey struct {
	Namespace string
	Name      string
}

// KeyVersion is the result of destructuring a versioned TypeKey
type KeyVersion struct {
	Base    TypeKey
	Kind    Kind
	Version int
}

// NewTypeKey creates a type key from a namespace and name
func NewTypeKey(namespace, name string) TypeKey {
	return TypeKey{Namespace: namespace, Name: name}
}

// ParseTypeKey parses the "namespace/name" form produced by String
func ParseTypeKey(s string) (TypeKey, error) {
	ns, name, ok := strings.Cut(s, "/")
	if !ok {
		return TypeKey{}, fmt.Errorf("%w: %q has no namespace separator", ErrInvalidTypeKey, s)
	}
	key := TypeKey{Namespace: ns, Name: name}
	if err := key.Validate(); err != nil {
		return TypeKey{}, err
	}
	return key, nil
}

// MustParseTypeKey is like ParseTypeKey but panics on malformed input
func MustParseTypeKey(s string) TypeKey {
	key, err := ParseTypeKey(s)
	if err != nil {
		panic(err)
	}
	return key
}

// String returns the "namespace/name" form of the key
func (k TypeKey) String() string {
	return k.Namespace + "/" + k.Name
}

// IsZero reports whether the key is unset
func (k TypeKey) IsZero() bool {
	return k.Namespace == "" && k.Name == ""
}

// Validate checks the key is well formed
func (k TypeKey) Validate() error {
	if k.Namespace == "" {
		return fmt.Errorf("%w: empty namespace", ErrInvalidTypeKey)
	}
	if k.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTypeKey)
	}
	if strings.Contains(k.Namespace, "/") || strings.Contains(k.Name, "/") {
		return fmt.Errorf("%w: %q contains '/'", ErrInvalidTypeKey, k.Namespace+"/"+k.Name)
	}
	for _, seg := range strings.Split(k.Namespace, ".") {
		if seg == "" {
			return fmt.Errorf("%w: namespace %q has an empty segment", ErrInvalidTypeKey, k.Namespace)
		}
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (k TypeKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *TypeKey) UnmarshalText(text []byte) error {
	parsed, err := ParseTypeKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// VersionedKey appends the ".<kind>.v<N>" segment to the base key's namespace
func VersionedKey(kind Kind, version int, base TypeKey) (TypeKey, error) {
	if !kind.Valid() {
		return TypeKey{}, fmt.Errorf("%w: unsupported kind %q", ErrInvalidTypeKey, kind)
	}
	if version < 0 {
		return TypeKey{}, fmt.Errorf("%w: negative version %d", ErrInvalidTypeKey, version)
	}
	if err := base.Validate(); err != nil {
		return TypeKey{}, err
	}
	if IsVersioned(base) {
		return TypeKey{}, fmt.Errorf("%w: %s is already versioned", ErrInvalidTypeKey, base)
	}
	return TypeKey{
		Namespace: base.Namespace + "." + string(kind) + ".v" + strconv.Itoa(version),
		Name:      base.Name,
	}, nil
}

// MustVersionedKey is like VersionedKey but panics on invalid input
func MustVersionedKey(kind Kind, version int, base TypeKey) TypeKey {
	key, err := VersionedKey(kind, version, base)
	if err != nil {
		panic(err)
	}
	return key
}

// BaseKey strips the version segment. Unversioned keys are returned as-is.
func BaseKey(k TypeKey) TypeKey {
	if kv, ok := Destructure(k); ok {
		return kv.Base
	}
	return k
}

// IsVersioned reports whether the key carries a ".<kind>.v<N>" segment
func IsVersioned(k TypeKey) bool {
	_, ok := Destructure(k)
	return ok
}

// Destructure splits a versioned key into its base key, kind and version.
// It returns false for unversioned keys; that is not an error.
func Destructure(k TypeKey) (KeyVersion, bool) {
	segs := strings.Split(k.Namespace, ".")
	if len(segs) < 3 || k.Name == "" {
		return KeyVersion{}, false
	}

	kind := Kind(segs[len(segs)-2])
	if !kind.Valid() {
		return KeyVersion{}, false
	}

	version, ok := parseVersionSegment(segs[len(segs)-1])
	if !ok {
		return KeyVersion{}, false
	}

	base := TypeKey{
		Namespace: strings.Join(segs[:len(segs)-2], "."),
		Name:      k.Name,
	}
	if base.Validate() != nil {
		return KeyVersion{}, false
	}

	return KeyVersion{Base: base, Kind: kind, Version: version}, true
}

// parseVersionSegment accepts exactly the "v<N>" spelling VersionedKey emits
func parseVersionSegment(seg string) (int, bool) {
	digits, ok := strings.CutPrefix(seg, "v")
	if !ok || digits == "" {
		return 0, false
	}
	if len(digits) > 1 && digits[0] == '0' {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}
