package messaging

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/glimte/mmate-schema/contracts"
)

// EnvelopeOption configures envelope creation
type EnvelopeOption func(*contracts.Envelope)

// WithEnvelopeID sets a custom envelope ID
func WithEnvelopeID(id uuid.UUID) EnvelopeOption {
	return func(e *contracts.Envelope) {
		e.ID = id
	}
}

// WithOrigin attaches provenance or source metadata
func WithOrigin(origin contracts.Origin) EnvelopeOption {
	return func(e *contracts.Envelope) {
		e.SetOrigin(origin)
	}
}

// WithSource attaches command source metadata
func WithSource(source contracts.Source) EnvelopeOption {
	return func(e *contracts.Envelope) {
		e.Source = &source
	}
}

// FactoryOption configures the EnvelopeFactory
type FactoryOption func(*EnvelopeFactory)

// WithProcess sets the process name recorded in event provenance
func WithProcess(process string) FactoryOption {
	return func(f *EnvelopeFactory) {
		f.process = process
	}
}

// WithClock sets the time source used for provenance timestamps
func WithClock(clock func() time.Time) FactoryOption {
	return func(f *EnvelopeFactory) {
		f.clock = clock
	}
}

// WithIDGenerator sets the envelope id generator
func WithIDGenerator(gen func() uuid.UUID) FactoryOption {
	return func(f *EnvelopeFactory) {
		f.newID = gen
	}
}

// EnvelopeFactory creates message envelopes with fresh ids and stamped
// type keys
type EnvelopeFactory struct {
	process string
	clock   func() time.Time
	newID   func() uuid.UUID
}

// NewEnvelopeFactory creates a new envelope factory
func NewEnvelopeFactory(options ...FactoryOption) *EnvelopeFactory {
	process, _ := os.Hostname()
	if process == "" {
		process = "mmate"
	}

	f := &EnvelopeFactory{
		process: process,
		clock:   time.Now,
		newID:   uuid.New,
	}
	for _, opt := range options {
		opt(f)
	}
	return f
}

// Build creates an envelope for the versioned type key. The fields are
// copied and stamped with the key; the caller's map is not modified.
func (f *EnvelopeFactory) Build(key contracts.TypeKey, fields contracts.Payload, opts ...EnvelopeOption) (*contracts.Envelope, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	payload := fields.WithTypeKey(key)
	envelope := &contracts.Envelope{
		ID:      f.newID(),
		Payload: payload,
	}

	for _, opt := range opts {
		opt(envelope)
	}

	if origin := envelope.Origin(); origin != nil {
		if kv, ok := contracts.Destructure(key); ok && origin.OriginKind() != kv.Kind {
			return nil, fmt.Errorf("%s origin cannot be attached to %s %s", origin.OriginKind(), kv.Kind, key)
		}
	}

	return envelope, nil
}

// Provenance returns event provenance stamped with the factory's clock and
// process name
func (f *EnvelopeFactory) Provenance(causedBy ...uuid.UUID) *contracts.Provenance {
	return &contracts.Provenance{
		CreatedAt: f.clock().UTC(),
		Process:   f.process,
		CausedBy:  append([]uuid.UUID(nil), causedBy...),
	}
}

// Caused returns provenance for an event produced while handling parent. The
// parent's id is recorded as the cause and latency is measured from the
// parent's creation time when it has provenance.
func (f *EnvelopeFactory) Caused(parent *contracts.Envelope) *contracts.Provenance {
	p := f.Provenance(parent.ID)
	if parent.Provenance != nil && !parent.Provenance.CreatedAt.IsZero() {
		p.Latency = p.CreatedAt.Sub(parent.Provenance.CreatedAt)
	}
	return p
}
