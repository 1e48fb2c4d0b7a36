package ir

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"
)

// Domain prefixes for content-addressed identity. The version suffix
// enables future algorithm migration without colliding with old hashes.
const (
	DomainValue   = "trellis/value/v1"
	DomainNode    = "trellis/node/v1"
	DomainContext = "trellis/context/v1"
)

// SNI is a stable node identity: a 64-bit content hash of a node's
// implementation identifier and the identities of its resolved inputs, or
// of a literal's canonical serialization. Two nodes with identical
// implementation and identical input identities always share an SNI,
// which is what makes deduplication and cache keying possible.
//
// Zero is reserved for "unresolved".
type SNI uint64

// IsZero reports whether the identity is unresolved.
func (s SNI) IsZero() bool { return s == 0 }

// String renders the identity as 16 lowercase hex digits.
func (s SNI) String() string {
	return fmt.Sprintf("%016x", uint64(s))
}

// MarshalJSON renders the identity as a hex string. SNIs exceed the
// 2^53 integer range JSON consumers can represent exactly, so they never
// appear as JSON numbers.
func (s SNI) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses the hex string form.
func (s *SNI) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("sni: expected hex string, got %s", string(data))
	}
	parsed, err := ParseSNI(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSNI parses the 16-hex-digit form produced by String.
func ParseSNI(s string) (SNI, error) {
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("sni: invalid hex %q: %w", s, err)
	}
	return SNI(n), nil
}

// hashWithDomain computes SHA-256 over domain || 0x00 || data. The null
// separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return h.Sum(nil)
}

// truncateSNI takes the first 8 bytes of a digest, big-endian.
func truncateSNI(sum []byte) SNI {
	return SNI(binary.BigEndian.Uint64(sum[:8]))
}

// ValueSNI computes the identity of a literal from its canonical JSON.
// Returns an error only when the value cannot be canonically marshaled.
func ValueSNI(v Value) (SNI, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return 0, fmt.Errorf("value identity: %w", err)
	}
	return truncateSNI(hashWithDomain(DomainValue, canonical)), nil
}

// MustValueSNI is ValueSNI panicking on error. Use when the value is
// known well-formed, typically in tests.
func MustValueSNI(v Value) SNI {
	sni, err := ValueSNI(v)
	if err != nil {
		panic(err)
	}
	return sni
}

// NodeSNI computes the identity of an operation node from its
// implementation identifier and the ordered identities of its inputs.
// Deterministic and pure; never fails.
func NodeSNI(identifier string, inputs []InputRef) SNI {
	payload := make([]byte, 0, len(identifier)+1+12*len(inputs))
	payload = append(payload, identifier...)
	payload = append(payload, 0x00)

	var word [8]byte
	for _, in := range inputs {
		binary.BigEndian.PutUint64(word[:], uint64(in.SNI))
		payload = append(payload, word[:]...)
		binary.BigEndian.PutUint32(word[:4], uint32(in.Output))
		payload = append(payload, word[:4]...)
	}

	return truncateSNI(hashWithDomain(DomainNode, payload))
}

// ArgsSNI computes the identity for either kind of construction args.
func ArgsSNI(args ConstructionArgs) (SNI, error) {
	switch a := args.(type) {
	case ValueArgs:
		return ValueSNI(a.Value)
	case OpArgs:
		return NodeSNI(a.Identifier, a.Inputs), nil
	default:
		return 0, fmt.Errorf("unknown construction args type: %T", args)
	}
}
