package contracts

import (
	"time"

	"github.com/google/uuid"
)

// Envelope wraps a message instance
type Envelope struct {
	ID         uuid.UUID   `json:"id"`
	Payload    Payload     `json:"payload"`
	Provenance *Provenance `json:"provenance,omitempty"`
	Source     *Source     `json:"source,omitempty"`
}

// Origin is metadata describing who or what produced a message
type Origin interface {
	// OriginKind is the message kind this origin belongs to
	OriginKind() Kind
}

// Provenance is the origin of an event
type Provenance struct {
	CreatedAt time.Time     `json:"createdAt"`
	Process   string        `json:"process"`
	CausedBy  []uuid.UUID   `json:"causedBy,omitempty"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// OriginKind implements Origin
func (*Provenance) OriginKind() Kind { return KindEvent }

// Source is the origin of a command
type Source struct {
	Host             string     `json:"host,omitempty"`
	Username         string     `json:"username,omitempty"`
	ProcessID        *uuid.UUID `json:"processId,omitempty"`
	ResponseLocation *uuid.UUID `json:"responseLocation,omitempty"`
}

// OriginKind implements Origin
func (*Source) OriginKind() Kind { return KindCommand }

// TypeKey returns the versioned type key embedded in the payload
func (e *Envelope) TypeKey() (TypeKey, bool) {
	if e == nil {
		return TypeKey{}, false
	}
	return e.Payload.TypeKey()
}

// Origin returns the attached provenance or source, or nil
func (e *Envelope) Origin() Origin {
	switch {
	case e.Provenance != nil:
		return e.Provenance
	case e.Source != nil:
		return e.Source
	default:
		return nil
	}
}

// SetOrigin attaches o as provenance or source depending on its kind
func (e *Envelope) SetOrigin(o Origin) {
	switch origin := o.(type) {
	case *Provenance:
		e.Provenance = origin
	case *Source:
		e.Source = origin
	}
}

// Clone returns a deep copy of the envelope
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	out := &Envelope{ID: e.ID, Payload: e.Payload.Clone()}
	if e.Provenance != nil {
		p := *e.Provenance
		p.CausedBy = append([]uuid.UUID(nil), e.Provenance.CausedBy...)
		out.Provenance = &p
	}
	if e.Source != nil {
		s := *e.Source
		out.Source = &s
	}
	return out
}
