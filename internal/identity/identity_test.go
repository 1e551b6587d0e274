package identity

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePrefersNativeID(t *testing.T) {
	native := "b10bbbfc-cf9e-42e0-be17-e2c3e1d2600d"

	id, err := Resolve(native, "https://www.last.fm/music/The+Beatles")
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse(native), id)
	assert.True(t, IsNative(id))
}

func TestResolveFromURLIsDeterministic(t *testing.T) {
	url := "https://www.last.fm/music/Some+Artist"

	first, err := Resolve("", url)
	require.NoError(t, err)
	second, err := Resolve("  ", url)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, uuid.NewSHA1(uuid.NameSpaceURL, []byte(url)), first)
	assert.False(t, IsNative(first))
}

func TestResolveInvalidNativeFallsBackToURL(t *testing.T) {
	url := "https://www.last.fm/music/Broken"

	id, err := Resolve("not-a-uuid", url)
	require.NoError(t, err)
	assert.Equal(t, FromURL(url), id)
}

func TestResolveUnresolvable(t *testing.T) {
	_, err := Resolve("", "")
	assert.True(t, errors.Is(err, ErrUnresolvable))

	_, err = Resolve("garbage", "")
	assert.True(t, errors.Is(err, ErrUnresolvable))
}

func TestTagIDs(t *testing.T) {
	assert.Equal(t, ForTag("Rock"), ForTag(" rock "))
	assert.NotEqual(t, ForTag("rock"), ForTag("jazz"))
	assert.False(t, IsNative(ForTag("rock")))
	assert.NotEqual(t, FromURL("rock"), ForTag("rock"))
}

func TestParseAndBytes(t *testing.T) {
	id := FromURL("https://example.com")

	parsed, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	fromBytes, err := FromBytes(id[:])
	require.NoError(t, err)
	assert.Equal(t, id, fromBytes)

	_, err = Parse("nope")
	assert.Error(t, err)
	_, err = FromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestLess(t *testing.T) {
	a := uuid.MustParse("00000000-0000-4000-8000-000000000001")
	b := uuid.MustParse("00000000-0000-4000-8000-000000000002")

	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
	assert.False(t, Less(a, a))
}
