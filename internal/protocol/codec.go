// internal/protocol/codec.go
package protocol

import "fmt"

// AckKind selects the acknowledgment to encode.
type AckKind int

const (
	// AckAccept reports the message was stored (HL7 AA).
	AckAccept AckKind = iota
	// AckError reports a processing failure the sender may resend (HL7 AE).
	AckError
	// AckReject reports a structural rejection (HL7 AR).
	AckReject
)

func (k AckKind) String() string {
	switch k {
	case AckAccept:
		return "accept"
	case AckError:
		return "error"
	case AckReject:
		return "reject"
	default:
		return "unknown"
	}
}

// Decoder turns an append-only byte stream into complete frames. One decoder
// per session; implementations keep partial frames across Feed calls.
type Decoder interface {
	// Feed appends bytes and returns every frame completed by them. A non-nil
	// error reports data dropped during the scan (oversized or unframed
	// bytes); the decoder stays usable and the session must not stop.
	Feed(p []byte) ([]Frame, error)

	// Flush closes any partial record that is completable without more input
	// (inactivity timeout on record-oriented streams). May return nothing.
	Flush() []Frame
}

// Codec parses frames into canonical messages and encodes acknowledgment
// frames. Parse failures are ErrMalformedMessage wraps; EncodeAck is total
// over valid correlation ids.
type Codec interface {
	Parse(f Frame) (*Message, error)
	EncodeAck(kind AckKind, controlID string) []byte
}

// Profile bundles everything the transports need to speak one device
// family's dialect. Adding equipment support means adding a Profile, not
// touching transports or the queue.
type Profile interface {
	Name() string
	NewDecoder(deviceID string) Decoder
	Codec() Codec
}

// Registry maps profile names from device configuration to Profiles.
type Registry struct {
	profiles map[string]Profile
}

func NewRegistry(profiles ...Profile) *Registry {
	r := &Registry{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		r.profiles[p.Name()] = p
	}
	return r
}

// Profile returns the named profile or ErrUnknownProfile.
func (r *Registry) Profile(name string) (Profile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}
