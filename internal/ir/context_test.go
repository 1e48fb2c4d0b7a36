package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFeature(t *testing.T) {
	tests := []struct {
		name string
		want FeatureSet
	}{
		{"footprint", FeatFootprint},
		{"real_time", FeatRealTime},
		{"animation_time", FeatAnimationTime},
		{"pointer_position", FeatPointerPosition},
		{"position", FeatPosition},
		{"index", FeatIndex},
		{"varargs", FeatVarargs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFeature(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFeatureUnknown(t *testing.T) {
	_, err := ParseFeature("frobnicate")
	assert.Error(t, err)
}

func TestParseFeatures(t *testing.T) {
	got, err := ParseFeatures([]string{"footprint", "index"})
	require.NoError(t, err)
	assert.Equal(t, FeatFootprint|FeatIndex, got)

	got, err = ParseFeatures(nil)
	require.NoError(t, err)
	assert.True(t, got.Empty())
}

func TestParseFeaturesRejectsDuplicates(t *testing.T) {
	_, err := ParseFeatures([]string{"index", "index"})
	assert.Error(t, err)
}

func TestFeatureSetOperations(t *testing.T) {
	a := FeatFootprint | FeatIndex
	b := FeatIndex | FeatVarargs

	assert.Equal(t, FeatFootprint|FeatIndex|FeatVarargs, a.Union(b))
	assert.Equal(t, FeatIndex, a.Intersect(b))
	assert.Equal(t, FeatFootprint, a.Diff(b))
	assert.Equal(t, FeatVarargs, b.Diff(a))

	assert.True(t, a.Has(FeatIndex))
	assert.True(t, a.Has(FeatFootprint|FeatIndex), "Has checks the whole subset")
	assert.False(t, a.Has(FeatVarargs))
	assert.False(t, a.Has(FeatIndex|FeatVarargs), "one missing bit fails the subset check")

	assert.True(t, FeatureSet(0).Empty())
	assert.False(t, a.Empty())
}

func TestAmbientFeaturesSubset(t *testing.T) {
	// Ambient features are satisfied at the evaluation boundary; the rest
	// need an injector somewhere along the path.
	assert.True(t, AllFeatures.Has(AmbientFeatures))
	assert.False(t, AmbientFeatures.Has(FeatPosition))
	assert.False(t, AmbientFeatures.Has(FeatIndex))
	assert.False(t, AmbientFeatures.Has(FeatVarargs))
}

func TestFeatureSetNamesDeclarationOrder(t *testing.T) {
	s := FeatVarargs | FeatFootprint | FeatIndex
	assert.Equal(t, []string{"footprint", "index", "varargs"}, s.Names())
}

func TestFeatureSetString(t *testing.T) {
	assert.Equal(t, "none", FeatureSet(0).String())
	assert.Equal(t, "footprint", FeatFootprint.String())
	assert.Equal(t, "real_time|index", (FeatRealTime | FeatIndex).String())
}

func TestContextBuilders(t *testing.T) {
	c := Context{}.
		WithFootprint(IdentityFootprint(1920, 1080)).
		WithRealTime(16.7).
		WithIndex(3)

	assert.True(t, c.Features.Has(FeatFootprint))
	assert.True(t, c.Features.Has(FeatRealTime))
	assert.True(t, c.Features.Has(FeatIndex))
	assert.False(t, c.Features.Has(FeatPosition))

	assert.Equal(t, [2]uint32{1920, 1080}, c.Footprint.Resolution)
	assert.Equal(t, 16.7, c.RealTime)
	assert.Equal(t, uint64(3), c.Index)
}

func TestContextBuildersDoNotMutateReceiver(t *testing.T) {
	base := Context{}.WithIndex(1)
	derived := base.WithIndex(2)

	assert.Equal(t, uint64(1), base.Index, "value receiver leaves the original intact")
	assert.Equal(t, uint64(2), derived.Index)
}

func TestRestrictClearsDroppedFeatures(t *testing.T) {
	full := Context{}.
		WithFootprint(IdentityFootprint(100, 100)).
		WithRealTime(5).
		WithIndex(9)

	restricted := full.Restrict(FeatRealTime)

	assert.Equal(t, FeatRealTime, restricted.Features)
	assert.Equal(t, 5.0, restricted.RealTime)
	assert.Equal(t, Footprint{}, restricted.Footprint, "dropped field is zeroed")
	assert.Equal(t, uint64(0), restricted.Index)
}

func TestRestrictToSupersetIsIdentity(t *testing.T) {
	c := Context{}.WithRealTime(1).WithIndex(2)
	assert.True(t, c.Equal(c.Restrict(AllFeatures)))
}

func TestRestrictErasesIrrelevantDifferences(t *testing.T) {
	// Two contexts that differ only in features a consumer never reads
	// must restrict to equal contexts with equal hashes. This is what
	// stops upstream noise from invalidating downstream caches.
	demand := FeatFootprint

	a := Context{}.WithFootprint(IdentityFootprint(64, 64)).WithRealTime(100)
	b := Context{}.WithFootprint(IdentityFootprint(64, 64)).WithRealTime(999)

	ra := a.Restrict(demand)
	rb := b.Restrict(demand)

	assert.True(t, ra.Equal(rb))
	assert.Equal(t, ra.MustHash(), rb.MustHash())
}

func TestContextHashDeterminism(t *testing.T) {
	c := Context{}.
		WithFootprint(IdentityFootprint(256, 256)).
		WithAnimationTime(1.25).
		WithVarargs(List{Int(1), String("x")})

	h1, err := c.Hash()
	require.NoError(t, err)
	h2, err := c.Hash()
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
}

func TestContextHashSensitivity(t *testing.T) {
	base := Context{}.WithRealTime(1).MustHash()

	differentValue := Context{}.WithRealTime(2).MustHash()
	assert.NotEqual(t, base, differentValue, "field value feeds the hash")

	differentFeature := Context{}.WithAnimationTime(1).MustHash()
	assert.NotEqual(t, base, differentFeature, "feature mask feeds the hash")
}

func TestContextHashDistinguishesPresenceFromZero(t *testing.T) {
	// A context carrying real_time=0 differs from one not carrying
	// real_time at all.
	empty := Context{}
	zeroTime := Context{}.WithRealTime(0)

	assert.NotEqual(t, empty.MustHash(), zeroTime.MustHash())
}

func TestContextHashIgnoresAbsentFields(t *testing.T) {
	// Garbage in a field whose feature bit is clear must not perturb
	// the hash.
	clean := Context{Features: FeatIndex, Index: 7}
	dirty := Context{Features: FeatIndex, Index: 7, RealTime: 123.4}

	assert.Equal(t, clean.MustHash(), dirty.MustHash())
}

func TestContextHashVarargsError(t *testing.T) {
	c := Context{Features: FeatVarargs, Varargs: List{nil}}
	_, err := c.Hash()
	assert.Error(t, err, "a malformed vararg is the one way Hash can fail")
}

func TestContextEqual(t *testing.T) {
	a := Context{}.WithPosition(Vec2{X: 1, Y: 2}).WithIndex(5)
	b := Context{}.WithPosition(Vec2{X: 1, Y: 2}).WithIndex(5)
	c := Context{}.WithPosition(Vec2{X: 1, Y: 3}).WithIndex(5)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(Context{}), "feature mask mismatch")
}

func TestContextEqualIgnoresAbsentFields(t *testing.T) {
	a := Context{Features: FeatIndex, Index: 1}
	b := Context{Features: FeatIndex, Index: 1, AnimationTime: 99}

	assert.True(t, a.Equal(b))
}

func TestIdentityFootprint(t *testing.T) {
	fp := IdentityFootprint(800, 600)

	assert.Equal(t, [6]float64{1, 0, 0, 0, 1, 0}, fp.Transform)
	assert.Equal(t, [2]uint32{800, 600}, fp.Resolution)
}
