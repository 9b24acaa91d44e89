package wildcard_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dargueta/imagefs/internal/wildcard"
)

func TestStarMatchesEverything(t *testing.T) {
	p, err := wildcard.Compile("*")
	require.NoError(t, err)
	assert.True(t, p.MatchString("readme.txt"))
	assert.True(t, p.MatchString("readme"))
	assert.True(t, p.MatchString("a.b.c"))
}

func TestExtensionPattern(t *testing.T) {
	p, err := wildcard.Compile("*.txt")
	require.NoError(t, err)
	assert.True(t, p.MatchString("readme.txt"))
	assert.True(t, p.MatchString("README.TXT"))
	assert.False(t, p.MatchString("readme.bin"))
}

func TestQuestionMarkExcludesDot(t *testing.T) {
	p, err := wildcard.Compile("???.txt")
	require.NoError(t, err)
	assert.True(t, p.MatchString("abc.txt"))
	assert.False(t, p.MatchString("ab.txt"))
}

func TestExtensionlessPatternMatchesExtensionlessNameOnly(t *testing.T) {
	p, err := wildcard.Compile("readme")
	require.NoError(t, err)
	assert.True(t, p.MatchString("README"))
	assert.False(t, p.MatchString("readme.txt"))
}

func TestMatchConvenienceFunction(t *testing.T) {
	ok, err := wildcard.Match("*.BIN", "image.bin")
	require.NoError(t, err)
	assert.True(t, ok)
}
