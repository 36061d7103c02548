package heroes_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotagraph/coordinator/internal/heroes"
)

func TestKnown(t *testing.T) {
	t.Parallel()
	assert.True(t, heroes.Known(1))
	assert.False(t, heroes.Known(0))
	assert.False(t, heroes.Known(9999))
}

func TestSlugNormalization(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "anti_mage", heroes.Slug("Anti-Mage"))
	assert.Equal(t, "natures_prophet", heroes.Slug("Nature's Prophet"))
	assert.Equal(t, "keeper_of_the_light", heroes.Slug("Keeper of the Light"))
}

func TestBySlugRoundTrip(t *testing.T) {
	t.Parallel()
	for id, name := range heroes.Names {
		got, gotName, ok := heroes.BySlug(heroes.Slug(name))
		require.True(t, ok, "slug for %q did not resolve", name)
		assert.Equal(t, id, got)
		assert.Equal(t, name, gotName)
	}
}

func TestBySlugAcceptsHyphens(t *testing.T) {
	t.Parallel()
	id, name, ok := heroes.BySlug("anti-mage")
	require.True(t, ok)
	assert.Equal(t, "Anti-Mage", name)
	assert.True(t, heroes.Known(id))

	_, _, ok = heroes.BySlug("no-such-hero")
	assert.False(t, ok)
}
