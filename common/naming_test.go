package common

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioClipNamePadding(t *testing.T) {
	assert.Equal(t, "slide01.wav", AudioClipName(1, 10))
	assert.Equal(t, "slide99.wav", AudioClipName(99, 99))
	assert.Equal(t, "slide007.wav", AudioClipName(7, 120))
	assert.Equal(t, "slide0007.wav", AudioClipName(7, 1200))
}

// Lexicographic sort order of generated names must equal numeric slide
// order for any deck size up to at least 999 slides.
func TestNamingOrderInvariant(t *testing.T) {
	for _, n := range []int{1, 2, 9, 10, 42, 99, 100, 500, 999} {
		names := make([]string, 0, n)
		for i := 1; i <= n; i++ {
			names = append(names, AudioClipName(i, n))
		}
		sorted := append([]string(nil), names...)
		sort.Strings(sorted)
		require.Equal(t, names, sorted, "pad width broke ordering at n=%d", n)
	}
}

func TestFigureImageName(t *testing.T) {
	assert.Equal(t, "figure-1.png", FigureImageName(1))
	assert.Equal(t, "figure-12.png", FigureImageName(12))
}

func TestClipName(t *testing.T) {
	assert.Equal(t, "clip_01.mp4", ClipName(0, 5))
	assert.Equal(t, "clip_010.mp4", ClipName(9, 150))
}
