package ir

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash"
	"math"
	"strings"
)

// FeatureSet is a bitset of context features. A node's catalog definition
// declares which features it extracts, injects or modifies; the compiler's
// demand analysis works entirely in these sets.
type FeatureSet uint8

const (
	// FeatFootprint is the render area and transform under evaluation.
	FeatFootprint FeatureSet = 1 << iota
	// FeatRealTime is wall-clock milliseconds for live effects.
	FeatRealTime
	// FeatAnimationTime is the timeline position in seconds.
	FeatAnimationTime
	// FeatPointerPosition is the pointer location in document space.
	FeatPointerPosition
	// FeatPosition is a per-instance placement injected by repeaters.
	FeatPosition
	// FeatIndex is a loop counter injected by iteration nodes.
	FeatIndex
	// FeatVarargs is the variadic argument list injected by binding nodes.
	FeatVarargs
)

// AllFeatures is the mask of every defined feature.
const AllFeatures = FeatFootprint | FeatRealTime | FeatAnimationTime |
	FeatPointerPosition | FeatPosition | FeatIndex | FeatVarargs

// AmbientFeatures is what a root evaluation supplies on its own: the
// editor-level parameters. Index, Position and Varargs exist only when an
// intervening node injects them.
const AmbientFeatures = FeatFootprint | FeatRealTime | FeatAnimationTime |
	FeatPointerPosition

var featureNames = []struct {
	bit  FeatureSet
	name string
}{
	{FeatFootprint, "footprint"},
	{FeatRealTime, "real_time"},
	{FeatAnimationTime, "animation_time"},
	{FeatPointerPosition, "pointer_position"},
	{FeatPosition, "position"},
	{FeatIndex, "index"},
	{FeatVarargs, "varargs"},
}

// ParseFeature resolves a feature name as used in catalog definitions and
// scenario files.
func ParseFeature(name string) (FeatureSet, error) {
	for _, f := range featureNames {
		if f.name == name {
			return f.bit, nil
		}
	}
	return 0, fmt.Errorf("unknown context feature %q", name)
}

// ParseFeatures folds a list of names into a set, rejecting duplicates.
func ParseFeatures(names []string) (FeatureSet, error) {
	var set FeatureSet
	for _, name := range names {
		bit, err := ParseFeature(name)
		if err != nil {
			return 0, err
		}
		if set.Has(bit) {
			return 0, fmt.Errorf("duplicate context feature %q", name)
		}
		set |= bit
	}
	return set, nil
}

// Has reports whether every bit of sub is present.
func (s FeatureSet) Has(sub FeatureSet) bool { return s&sub == sub }

// Empty reports an empty set.
func (s FeatureSet) Empty() bool { return s == 0 }

// Union returns s ∪ other.
func (s FeatureSet) Union(other FeatureSet) FeatureSet { return s | other }

// Intersect returns s ∩ other.
func (s FeatureSet) Intersect(other FeatureSet) FeatureSet { return s & other }

// Diff returns the features in s that are not in other.
func (s FeatureSet) Diff(other FeatureSet) FeatureSet { return s &^ other }

// Names returns the member feature names in declaration order.
func (s FeatureSet) Names() []string {
	var names []string
	for _, f := range featureNames {
		if s.Has(f.bit) {
			names = append(names, f.name)
		}
	}
	return names
}

// String renders the set as "footprint|index", or "none".
func (s FeatureSet) String() string {
	if s == 0 {
		return "none"
	}
	return strings.Join(s.Names(), "|")
}

// ContextDependencies is a node definition's declared relationship to the
// evaluation context. Extract features are read from the incoming context;
// Inject features are provided to the nodes it calls; Modify features are
// read and re-provided, but only matter when something called actually
// extracts them.
type ContextDependencies struct {
	Extract FeatureSet
	Inject  FeatureSet
	Modify  FeatureSet
}

// Vec2 is a 2D point or offset in document space.
type Vec2 struct {
	X float64
	Y float64
}

// Footprint is the render area under evaluation: a 2x3 affine transform
// (row-major a b c / d e f) from document to viewport space plus the
// output resolution in pixels.
type Footprint struct {
	Transform  [6]float64
	Resolution [2]uint32
}

// IdentityFootprint returns an identity transform at the given resolution.
func IdentityFootprint(width, height uint32) Footprint {
	return Footprint{
		Transform:  [6]float64{1, 0, 0, 0, 1, 0},
		Resolution: [2]uint32{width, height},
	}
}

// Context is the immutable bundle of evaluation parameters passed to every
// node. Features says which fields are populated; unpopulated fields hold
// canonical zeros so that two contexts restricted to the same feature set
// hash and compare identically.
//
// Nodes must be idempotent with respect to Context: the same context and
// the same inputs always produce the same output. That idempotence is the
// precondition that makes result caching sound.
type Context struct {
	Features        FeatureSet
	Footprint       Footprint
	RealTime        float64
	AnimationTime   float64
	PointerPosition Vec2
	Position        Vec2
	Index           uint64
	Varargs         List
}

// With* helpers build contexts by value, leaving the receiver unchanged.

func (c Context) WithFootprint(fp Footprint) Context {
	c.Footprint = fp
	c.Features |= FeatFootprint
	return c
}

func (c Context) WithRealTime(ms float64) Context {
	c.RealTime = ms
	c.Features |= FeatRealTime
	return c
}

func (c Context) WithAnimationTime(seconds float64) Context {
	c.AnimationTime = seconds
	c.Features |= FeatAnimationTime
	return c
}

func (c Context) WithPointerPosition(p Vec2) Context {
	c.PointerPosition = p
	c.Features |= FeatPointerPosition
	return c
}

func (c Context) WithPosition(p Vec2) Context {
	c.Position = p
	c.Features |= FeatPosition
	return c
}

func (c Context) WithIndex(i uint64) Context {
	c.Index = i
	c.Features |= FeatIndex
	return c
}

func (c Context) WithVarargs(args List) Context {
	c.Varargs = args
	c.Features |= FeatVarargs
	return c
}

// Restrict returns the context with every feature outside keep cleared to
// its canonical zero. This is the nullification primitive: a restricted
// context carries no trace of the fields a consumer never reads, so those
// fields cannot perturb its hash.
func (c Context) Restrict(keep FeatureSet) Context {
	out := Context{Features: c.Features & keep}
	if out.Features.Has(FeatFootprint) {
		out.Footprint = c.Footprint
	}
	if out.Features.Has(FeatRealTime) {
		out.RealTime = c.RealTime
	}
	if out.Features.Has(FeatAnimationTime) {
		out.AnimationTime = c.AnimationTime
	}
	if out.Features.Has(FeatPointerPosition) {
		out.PointerPosition = c.PointerPosition
	}
	if out.Features.Has(FeatPosition) {
		out.Position = c.Position
	}
	if out.Features.Has(FeatIndex) {
		out.Index = c.Index
	}
	if out.Features.Has(FeatVarargs) {
		out.Varargs = c.Varargs
	}
	return out
}

// Hash computes a 64-bit digest from the feature mask and the bit patterns
// of the populated fields. Floats contribute their IEEE 754 bits, so the
// hash never depends on a decimal rendering. Varargs, the one field
// holding Values, contributes its canonical JSON; that is also the only
// way Hash can fail.
func (c Context) Hash() (uint64, error) {
	h := newContextDigest()
	h.Write([]byte{byte(c.Features)})

	var word [8]byte
	writeF64 := func(f float64) {
		binary.BigEndian.PutUint64(word[:], math.Float64bits(f))
		h.Write(word[:])
	}

	if c.Features.Has(FeatFootprint) {
		for _, f := range c.Footprint.Transform {
			writeF64(f)
		}
		binary.BigEndian.PutUint32(word[:4], c.Footprint.Resolution[0])
		h.Write(word[:4])
		binary.BigEndian.PutUint32(word[:4], c.Footprint.Resolution[1])
		h.Write(word[:4])
	}
	if c.Features.Has(FeatRealTime) {
		writeF64(c.RealTime)
	}
	if c.Features.Has(FeatAnimationTime) {
		writeF64(c.AnimationTime)
	}
	if c.Features.Has(FeatPointerPosition) {
		writeF64(c.PointerPosition.X)
		writeF64(c.PointerPosition.Y)
	}
	if c.Features.Has(FeatPosition) {
		writeF64(c.Position.X)
		writeF64(c.Position.Y)
	}
	if c.Features.Has(FeatIndex) {
		binary.BigEndian.PutUint64(word[:], c.Index)
		h.Write(word[:])
	}
	if c.Features.Has(FeatVarargs) {
		canonical, err := MarshalCanonical(c.Varargs)
		if err != nil {
			return 0, fmt.Errorf("context varargs: %w", err)
		}
		h.Write(canonical)
	}

	return binary.BigEndian.Uint64(h.Sum(nil)[:8]), nil
}

// MustHash is Hash panicking on error. Safe whenever Varargs is absent or
// known well-formed.
func (c Context) MustHash() uint64 {
	sum, err := c.Hash()
	if err != nil {
		panic(err)
	}
	return sum
}

// Equal compares contexts field by field over the populated features.
// Float fields compare by bit pattern, consistent with Hash.
func (c Context) Equal(other Context) bool {
	if c.Features != other.Features {
		return false
	}
	bitsEq := func(a, b float64) bool {
		return math.Float64bits(a) == math.Float64bits(b)
	}
	if c.Features.Has(FeatFootprint) {
		for i := range c.Footprint.Transform {
			if !bitsEq(c.Footprint.Transform[i], other.Footprint.Transform[i]) {
				return false
			}
		}
		if c.Footprint.Resolution != other.Footprint.Resolution {
			return false
		}
	}
	if c.Features.Has(FeatRealTime) && !bitsEq(c.RealTime, other.RealTime) {
		return false
	}
	if c.Features.Has(FeatAnimationTime) && !bitsEq(c.AnimationTime, other.AnimationTime) {
		return false
	}
	if c.Features.Has(FeatPointerPosition) &&
		(!bitsEq(c.PointerPosition.X, other.PointerPosition.X) || !bitsEq(c.PointerPosition.Y, other.PointerPosition.Y)) {
		return false
	}
	if c.Features.Has(FeatPosition) &&
		(!bitsEq(c.Position.X, other.Position.X) || !bitsEq(c.Position.Y, other.Position.Y)) {
		return false
	}
	if c.Features.Has(FeatIndex) && c.Index != other.Index {
		return false
	}
	if c.Features.Has(FeatVarargs) && !Equal(c.Varargs, other.Varargs) {
		return false
	}
	return true
}

// newContextDigest starts a SHA-256 digest in the context domain.
func newContextDigest() hash.Hash {
	h := sha256.New()
	h.Write([]byte(DomainContext))
	h.Write([]byte{0x00})
	return h
}
