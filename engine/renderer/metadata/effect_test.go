package metadata

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

// The constant blocks are uploaded byte-for-byte; their Go layout IS the
// shader ABI. These assertions pin every offset the GPU side relies on.

func TestPerDrawConstantsLayout(t *testing.T) {
	var c PerDrawConstants
	assert.Equal(t, uintptr(PerDrawConstantsSize), unsafe.Sizeof(c))
	assert.Equal(t, uintptr(0), unsafe.Offsetof(c.PrimitiveOffset))
	assert.Equal(t, uintptr(4), unsafe.Offsetof(c.TextureStageCount))
	assert.Equal(t, uintptr(8), unsafe.Offsetof(c.AlphaTest))
	assert.Equal(t, uintptr(12), unsafe.Offsetof(c.TexturingEnabled))
	assert.Equal(t, uintptr(16), unsafe.Offsetof(c.Time))
	assert.Len(t, c.Bytes(), PerDrawConstantsSize)
}

func TestTransformConstantsLayout(t *testing.T) {
	var c TransformConstants
	assert.Equal(t, uintptr(TransformConstantsSize), unsafe.Sizeof(c))
	assert.Equal(t, uintptr(0), unsafe.Offsetof(c.World))
	assert.Equal(t, uintptr(64), unsafe.Offsetof(c.WorldViewProjection))
	assert.Equal(t, uintptr(128), unsafe.Offsetof(c.SkinningEnabled))
	assert.Len(t, c.Bytes(), TransformConstantsSize)
}

func TestSkinningConstantsLayout(t *testing.T) {
	var c SkinningConstants
	assert.Equal(t, uintptr(SkinningConstantsSize), unsafe.Sizeof(c))
	// 12 floats per bone, tightly packed.
	assert.Equal(t, uintptr(48), unsafe.Sizeof(c.Bones[0]))
	assert.Len(t, c.Bytes(), SkinningConstantsSize)
}

func TestLightingConstantsLayout(t *testing.T) {
	var c LightingConstants
	assert.Equal(t, uintptr(LightingConstantsSize), unsafe.Sizeof(c))
	assert.Equal(t, uintptr(0), unsafe.Offsetof(c.CameraPosition))
	assert.Equal(t, uintptr(12), unsafe.Offsetof(c.LightCount))
	assert.Equal(t, uintptr(16), unsafe.Offsetof(c.AmbientColour))
	assert.Equal(t, uintptr(32), unsafe.Offsetof(c.Lights))
	assert.Equal(t, uintptr(64), unsafe.Sizeof(c.Lights[0]))
	assert.Len(t, c.Bytes(), LightingConstantsSize)
}

func TestDirtyFlagOperations(t *testing.T) {
	var f DirtyFlag

	f = f.Set(DirtyTransform)
	assert.True(t, f.Has(DirtyTransform))
	assert.False(t, f.Has(DirtyLighting))

	f = f.Set(DirtyLighting).Set(DirtyTransform)
	assert.True(t, f.Has(DirtyTransform))
	assert.True(t, f.Has(DirtyLighting))

	f = f.Clear(DirtyTransform)
	assert.False(t, f.Has(DirtyTransform))
	assert.True(t, f.Has(DirtyLighting))
}

func TestDirtyAllCoversEveryGroup(t *testing.T) {
	groups := []DirtyFlag{
		DirtyPerDraw, DirtySkinning, DirtyTransform, DirtyLighting,
		DirtyMaterialsBuffer, DirtyTextures, DirtyTextureIndices, DirtyMaterialIndices,
	}
	for _, g := range groups {
		assert.True(t, DirtyAll.Has(g))
	}

	cleared := DirtyAll
	for _, g := range groups {
		cleared = cleared.Clear(g)
	}
	assert.Equal(t, DirtyFlag(0), cleared)
}

func TestMeshVertexLayout(t *testing.T) {
	layout := MeshVertexLayout()
	assert.Len(t, layout, 5)

	byName := map[string]VertexAttribute{}
	for _, a := range layout {
		byName[a.Name] = a
	}

	assert.Equal(t, uint32(0), byName["position"].Offset)
	assert.Equal(t, uint32(12), byName["normal"].Offset)
	assert.Equal(t, uint32(24), byName["blend_index"].Offset)
	assert.Equal(t, uint32(0), byName["position"].Stream)

	assert.Equal(t, uint32(0), byName["texcoord0"].Offset)
	assert.Equal(t, uint32(8), byName["texcoord1"].Offset)
	assert.Equal(t, uint32(1), byName["texcoord0"].Stream)

	assert.Equal(t, 28, VertexStream0Stride)
	assert.Equal(t, 16, VertexStream1Stride)
}
