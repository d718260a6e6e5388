package core

import (
	"encoding/json"
	"strings"
)

// SelfAlias is the wire and storage encoding of the current user inside
// participant lists. It never identifies a friend: ParseParticipant maps it
// back to the self identity, and friend creation rejects it as a name.
const SelfAlias = "You"

// Participant identifies who paid or shares an expense: either the current
// user or a named friend. The zero value is an unnamed friend and fails
// validation; use Self or Named.
type Participant struct {
	self bool
	name string
}

// Self returns the participant identity of the current user.
func Self() Participant {
	return Participant{self: true}
}

// Named returns the participant identity of a friend.
func Named(name string) Participant {
	return Participant{name: strings.TrimSpace(name)}
}

// ParseParticipant decodes the wire form: the self alias becomes the current
// user, anything else a named friend.
func ParseParticipant(s string) Participant {
	s = strings.TrimSpace(s)
	if s == SelfAlias {
		return Self()
	}
	return Participant{name: s}
}

// IsSelf reports whether the participant is the current user.
func (p Participant) IsSelf() bool {
	return p.self
}

// Name returns the friend name. It is empty for the current user.
func (p Participant) Name() string {
	return p.name
}

// String returns the wire encoding: the self alias or the friend name.
func (p Participant) String() string {
	if p.self {
		return SelfAlias
	}
	return p.name
}

func (p Participant) Validate() error {
	if !p.self && p.name == "" {
		return ErrEmptyParticipant
	}
	return nil
}

func (p Participant) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Participant) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = ParseParticipant(s)
	return nil
}
