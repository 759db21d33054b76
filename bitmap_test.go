package clpool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTickBitmapFlipAndIsInitialized(t *testing.T) {
	b := NewTickBitmap()
	require.False(t, b.IsInitialized(5))

	b.FlipTick(5)
	require.True(t, b.IsInitialized(5))

	b.FlipTick(5)
	require.False(t, b.IsInitialized(5))
}

func TestTickBitmapNegativeTicks(t *testing.T) {
	b := NewTickBitmap()
	b.FlipTick(-5)
	require.True(t, b.IsInitialized(-5))
	require.False(t, b.IsInitialized(-4))
	require.False(t, b.IsInitialized(5))
}

func TestNextInitializedTickWithinOneWordLte(t *testing.T) {
	b := NewTickBitmap()
	b.FlipTick(10)
	b.FlipTick(50)

	next, initialized := b.NextInitializedTickWithinOneWord(60, true)
	require.True(t, initialized)
	require.Equal(t, 50, next)

	next, initialized = b.NextInitializedTickWithinOneWord(50, true)
	require.True(t, initialized)
	require.Equal(t, 50, next)

	next, initialized = b.NextInitializedTickWithinOneWord(9, true)
	require.False(t, initialized)
	require.Equal(t, inWordFloor(9), next)
}

func TestNextInitializedTickWithinOneWordGt(t *testing.T) {
	b := NewTickBitmap()
	b.FlipTick(10)
	b.FlipTick(50)

	next, initialized := b.NextInitializedTickWithinOneWord(0, false)
	require.True(t, initialized)
	require.Equal(t, 10, next)

	next, initialized = b.NextInitializedTickWithinOneWord(10, false)
	require.True(t, initialized)
	require.Equal(t, 50, next)

	_, initialized = b.NextInitializedTickWithinOneWord(50, false)
	require.False(t, initialized)
}

func inWordFloor(tick int) int {
	wordPos, _ := position(tick)
	return wordPos << 8
}
