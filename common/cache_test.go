package common

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheComputesOnce(t *testing.T) {
	c := NewCache[string]()
	var calls atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrCompute("paper.pdf", func() (string, error) {
				calls.Add(1)
				return "extracted", nil
			})
			assert.NoError(t, err)
			assert.Equal(t, "extracted", v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestCacheDoesNotCacheErrors(t *testing.T) {
	c := NewCache[int]()
	boom := errors.New("ocr unavailable")

	_, err := c.GetOrCompute("k", func() (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	v, err := c.GetOrCompute("k", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCacheRemove(t *testing.T) {
	c := NewCache[int]()
	_, err := c.GetOrCompute("k", func() (int, error) { return 1, nil })
	require.NoError(t, err)

	c.Remove("k")

	v, err := c.GetOrCompute("k", func() (int, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}
