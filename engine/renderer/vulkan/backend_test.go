package vulkan

import (
	"bytes"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/config"
)

func TestNewAppliesRendererConfig(t *testing.T) {
	ctx := &VulkanContext{}
	vr := New(ctx, config.RendererConfig{FramesInFlight: 2, Validation: true})

	assert.Equal(t, uint32(2), ctx.FramesInFlight)
	assert.True(t, vr.validation)
}

func TestNewKeepsContextFramesWhenUnconfigured(t *testing.T) {
	ctx := &VulkanContext{FramesInFlight: 3}
	New(ctx, config.RendererConfig{})

	assert.Equal(t, uint32(3), ctx.FramesInFlight)
}

// Two uploads in the same frame must land in different ring slices so the
// draw recorded between them keeps its own snapshot.
func TestBufferRingPreservesEarlierDraws(t *testing.T) {
	backing := make([]byte, 4*64)
	b := &VulkanBuffer{
		Mapped:      unsafe.Pointer(&backing[0]),
		LogicalSize: 16,
		SliceSize:   64,
		SliceCount:  4,
	}

	first := bytes.Repeat([]byte{0xAA}, 16)
	second := bytes.Repeat([]byte{0xBB}, 16)

	require.NoError(t, b.LoadRange(0, 16, first))
	firstOffset := b.CurrentOffset()
	require.NoError(t, b.LoadRange(0, 16, second))
	secondOffset := b.CurrentOffset()

	require.NotEqual(t, firstOffset, secondOffset)
	assert.Equal(t, first, backing[firstOffset:firstOffset+16])
	assert.Equal(t, second, backing[secondOffset:secondOffset+16])
}

func TestBufferRingWrapsAround(t *testing.T) {
	backing := make([]byte, 4*64)
	b := &VulkanBuffer{
		Mapped:      unsafe.Pointer(&backing[0]),
		LogicalSize: 16,
		SliceSize:   64,
		SliceCount:  4,
	}

	payload := bytes.Repeat([]byte{0xCC}, 16)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.LoadRange(0, 16, payload))
	}
	// The fifth write reuses the first slice.
	assert.Equal(t, uint32(0), b.CurrentOffset())
}

func TestBufferLoadRangeBounds(t *testing.T) {
	backing := make([]byte, 64)
	b := &VulkanBuffer{
		Mapped:      unsafe.Pointer(&backing[0]),
		LogicalSize: 16,
		SliceSize:   64,
		SliceCount:  1,
	}

	assert.Error(t, b.LoadRange(8, 16, make([]byte, 16)))
	assert.Error(t, b.LoadRange(0, 16, make([]byte, 4)))
}

func TestAlignUp(t *testing.T) {
	assert.EqualValues(t, 256, alignUp(20, 256))
	assert.EqualValues(t, 256, alignUp(256, 256))
	assert.EqualValues(t, 3072, alignUp(3072, 256))
	assert.EqualValues(t, 768, alignUp(544, 256))
}
