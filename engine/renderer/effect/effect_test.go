package effect

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const tolerance = 1e-5

type uploadCall struct {
	buffer *metadata.RenderBuffer
	offset uint64
	size   uint64
	data   []byte
}

type bindCall struct {
	buffer *metadata.RenderBuffer
	view   *metadata.ResourceView
	slot   uint32
	stages metadata.ShaderStage
}

// fakeBackend records every upload and bind so tests can assert on exactly
// what reached the "GPU".
type fakeBackend struct {
	uploads []uploadCall
	binds   []bindCall
	created []*metadata.RenderBuffer
}

func (f *fakeBackend) Initialize(appName string) error { return nil }

func (f *fakeBackend) Shutdown() error { return nil }

func (f *fakeBackend) BeginFrame(deltaTime float64) error { return nil }

func (f *fakeBackend) EndFrame(deltaTime float64) error { return nil }

func (f *fakeBackend) UniformBufferDestroy(b *metadata.RenderBuffer) {}

func (f *fakeBackend) UniformBufferCreate(bufferType metadata.RenderBufferType, totalSize uint64) (*metadata.RenderBuffer, error) {
	b := &metadata.RenderBuffer{RenderBufferType: bufferType, TotalSize: totalSize}
	f.created = append(f.created, b)
	return b, nil
}

func (f *fakeBackend) UniformBufferLoadRange(buffer *metadata.RenderBuffer, offset, size uint64, data []byte) error {
	cp := make([]byte, size)
	copy(cp, data[:size])
	f.uploads = append(f.uploads, uploadCall{buffer: buffer, offset: offset, size: size, data: cp})
	return nil
}

func (f *fakeBackend) UniformBufferBind(buffer *metadata.RenderBuffer, slot uint32, stages metadata.ShaderStage) error {
	f.binds = append(f.binds, bindCall{buffer: buffer, slot: slot, stages: stages})
	return nil
}

func (f *fakeBackend) ResourceViewBind(view *metadata.ResourceView, slot uint32, stages metadata.ShaderStage) error {
	f.binds = append(f.binds, bindCall{view: view, slot: slot, stages: stages})
	return nil
}

func (f *fakeBackend) reset() {
	f.uploads = nil
	f.binds = nil
}

func (f *fakeBackend) uploadsFor(buffer *metadata.RenderBuffer) []uploadCall {
	var out []uploadCall
	for _, u := range f.uploads {
		if u.buffer == buffer {
			out = append(out, u)
		}
	}
	return out
}

func (f *fakeBackend) bindsFor(slot uint32) []bindCall {
	var out []bindCall
	for _, b := range f.binds {
		if b.slot == slot {
			out = append(out, b)
		}
	}
	return out
}

func newTestEffect(t *testing.T, cfg Config) (*RenderEffect, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{}
	e, err := New(renderer.New(backend, config.Default()), cfg)
	require.NoError(t, err)
	return e, backend
}

func transformFromBytes(t *testing.T, data []byte) metadata.TransformConstants {
	t.Helper()
	require.Len(t, data, metadata.TransformConstantsSize)
	return *(*metadata.TransformConstants)(unsafe.Pointer(&data[0]))
}

func lightingFromBytes(t *testing.T, data []byte) metadata.LightingConstants {
	t.Helper()
	require.Len(t, data, metadata.LightingConstantsSize)
	return *(*metadata.LightingConstants)(unsafe.Pointer(&data[0]))
}

func skinningFromBytes(t *testing.T, data []byte) metadata.SkinningConstants {
	t.Helper()
	require.Len(t, data, metadata.SkinningConstantsSize)
	return *(*metadata.SkinningConstants)(unsafe.Pointer(&data[0]))
}

func TestApplyClearsAllFlags(t *testing.T) {
	e, _ := newTestEffect(t, Config{})

	e.BeginPass()
	e.SetWorld(math.NewMat4Translation(math.NewVec3(1, 0, 0)))
	e.SetView(math.NewMat4Translation(math.NewVec3(0, 1, 0)))
	e.SetTime(0.5)
	e.SetBoneTransforms([]math.Mat4{math.NewMat4Identity()})
	require.NoError(t, e.Apply())

	assert.Equal(t, metadata.DirtyFlag(0), e.DirtyFlags())
}

func TestSetterBetweenPassAndApplyRedirties(t *testing.T) {
	e, _ := newTestEffect(t, Config{})

	e.BeginPass()
	require.NoError(t, e.Apply())
	require.Equal(t, metadata.DirtyFlag(0), e.DirtyFlags())

	// Calling the same setter twice before the next flush is valid and
	// must not lose the update.
	e.SetTime(1)
	e.SetTime(2)
	assert.True(t, e.DirtyFlags().Has(metadata.DirtyPerDraw))
	require.NoError(t, e.Apply())
	assert.Equal(t, metadata.DirtyFlag(0), e.DirtyFlags())
}

func TestApplyIdempotentWhenClean(t *testing.T) {
	e, backend := newTestEffect(t, Config{})

	e.BeginPass()
	require.NoError(t, e.Apply())
	require.NotEmpty(t, backend.uploads)

	backend.reset()
	require.NoError(t, e.Apply())
	assert.Empty(t, backend.uploads, "second Apply must not re-upload")
	assert.Empty(t, backend.binds, "second Apply must not re-bind")
}

func TestWorldViewProjection(t *testing.T) {
	e, backend := newTestEffect(t, Config{})

	world := math.NewMat4Translation(math.NewVec3(1, 2, 3))
	view := math.NewMat4LookAt(math.NewVec3(0, 0, 10), math.NewVec3Zero(), math.NewVec3(0, 1, 0))
	projection := math.NewMat4Perspective(math.K_PI/2, 16.0/9.0, 0.1, 1000)

	e.BeginPass()
	e.SetWorld(world)
	e.SetView(view)
	e.SetProjection(projection)
	require.NoError(t, e.Apply())

	uploads := backend.uploadsFor(e.transformBuffer)
	require.Len(t, uploads, 1)
	got := transformFromBytes(t, uploads[0].data)

	expected := world.Mul(view).Mul(projection)
	assert.True(t, got.WorldViewProjection.Compare(expected, tolerance))
	assert.True(t, got.World.Compare(world, tolerance))
}

func TestTransformRecomputedExactlyWhenDirty(t *testing.T) {
	e, backend := newTestEffect(t, Config{})

	e.BeginPass()
	require.NoError(t, e.Apply())

	// Unrelated setter: the transform group must stay untouched.
	backend.reset()
	e.SetTime(3)
	require.NoError(t, e.Apply())
	assert.Empty(t, backend.uploadsFor(e.transformBuffer))

	// Each transform input re-triggers the recompute.
	for _, mutate := range []func(){
		func() { e.SetWorld(math.NewMat4Translation(math.NewVec3(5, 0, 0))) },
		func() { e.SetView(math.NewMat4Translation(math.NewVec3(0, 5, 0))) },
		func() { e.SetProjection(math.NewMat4Orthographic(-1, 1, -1, 1, 0.1, 10)) },
		func() { e.SetSkinningEnabled(true) },
	} {
		backend.reset()
		mutate()
		require.NoError(t, e.Apply())
		assert.Len(t, backend.uploadsFor(e.transformBuffer), 1)
	}
}

func TestCameraPositionFromView(t *testing.T) {
	e, backend := newTestEffect(t, Config{})

	position := math.NewVec3(3, 4, 5)
	view := math.NewMat4LookAt(position, math.NewVec3Zero(), math.NewVec3(0, 1, 0))

	e.BeginPass()
	e.SetView(view)
	require.NoError(t, e.Apply())

	uploads := backend.uploadsFor(e.lightingBuffer)
	require.Len(t, uploads, 1)
	got := lightingFromBytes(t, uploads[0].data)

	inv, ok := view.InverseChecked()
	require.True(t, ok)
	assert.True(t, got.CameraPosition.Compare(inv.Translation(), 1e-4))
}

func TestCameraPositionSingularViewFallsBack(t *testing.T) {
	e, backend := newTestEffect(t, Config{})

	// Establish a known-good camera position first.
	goodView := math.NewMat4Translation(math.NewVec3(0, 0, -10))
	e.BeginPass()
	e.SetView(goodView)
	require.NoError(t, e.Apply())

	inv, ok := goodView.InverseChecked()
	require.True(t, ok)
	lastGood := inv.Translation()

	// A singular view must not crash and must keep the last-known-good
	// position under the default policy.
	backend.reset()
	e.SetView(math.Mat4{})
	require.NoError(t, e.Apply())

	uploads := backend.uploadsFor(e.lightingBuffer)
	require.Len(t, uploads, 1)
	got := lightingFromBytes(t, uploads[0].data)
	assert.True(t, got.CameraPosition.Compare(lastGood, tolerance))
}

func TestCameraPositionSingularViewZeroPolicy(t *testing.T) {
	e, backend := newTestEffect(t, Config{FallbackZeroCamera: true})

	e.BeginPass()
	e.SetView(math.NewMat4Translation(math.NewVec3(1, 1, 1)))
	require.NoError(t, e.Apply())

	backend.reset()
	e.SetView(math.NewMat4Scale(math.NewVec3(1, 0, 1)))
	require.NoError(t, e.Apply())

	uploads := backend.uploadsFor(e.lightingBuffer)
	require.Len(t, uploads, 1)
	got := lightingFromBytes(t, uploads[0].data)
	assert.True(t, got.CameraPosition.Compare(math.NewVec3Zero(), tolerance))
}

func TestSkinningRoundTrip(t *testing.T) {
	e, backend := newTestEffect(t, Config{})

	bones := []math.Mat4{
		math.NewMat4Translation(math.NewVec3(1, 0, 0)),
		math.NewMat4EulerY(0.3).Mul(math.NewMat4Translation(math.NewVec3(0, 2, 0))),
		math.NewMat4Scale(math.NewVec3(2, 2, 2)),
	}

	e.BeginPass()
	e.SetBoneTransforms(bones)
	require.NoError(t, e.Apply())

	uploads := backend.uploadsFor(e.skinningBuffer)
	require.Len(t, uploads, 1)
	got := skinningFromBytes(t, uploads[0].data)

	for i, b := range bones {
		assert.True(t, got.Bones[i].Compare(b.ToAffine3x4(), tolerance), "bone %d", i)
	}
	// Entries beyond the supplied count keep their previous (identity) value.
	identity := math.NewMat4Identity().ToAffine3x4()
	assert.True(t, got.Bones[len(bones)].Compare(identity, tolerance))
	assert.True(t, got.Bones[metadata.MaxBoneCount-1].Compare(identity, tolerance))
}

func TestSkinningPartialUpdateRetainsTail(t *testing.T) {
	e, backend := newTestEffect(t, Config{})

	first := []math.Mat4{
		math.NewMat4Translation(math.NewVec3(1, 0, 0)),
		math.NewMat4Translation(math.NewVec3(0, 1, 0)),
	}
	e.BeginPass()
	e.SetBoneTransforms(first)
	require.NoError(t, e.Apply())

	// Overwrite only bone 0; bone 1 must survive.
	backend.reset()
	e.SetBoneTransforms([]math.Mat4{math.NewMat4Translation(math.NewVec3(9, 9, 9))})
	require.NoError(t, e.Apply())

	uploads := backend.uploadsFor(e.skinningBuffer)
	require.Len(t, uploads, 1)
	got := skinningFromBytes(t, uploads[0].data)
	assert.True(t, got.Bones[0].Compare(math.NewMat4Translation(math.NewVec3(9, 9, 9)).ToAffine3x4(), tolerance))
	assert.True(t, got.Bones[1].Compare(first[1].ToAffine3x4(), tolerance))
}

func TestOversizedBonePaletteTruncates(t *testing.T) {
	e, _ := newTestEffect(t, Config{})

	oversized := make([]math.Mat4, metadata.MaxBoneCount+8)
	for i := range oversized {
		oversized[i] = math.NewMat4Translation(math.NewVec3(float32(i), 0, 0))
	}
	e.BeginPass()
	e.SetBoneTransforms(oversized)
	require.NoError(t, e.Apply())

	assert.True(t, e.skinning.Bones[metadata.MaxBoneCount-1].
		Compare(oversized[metadata.MaxBoneCount-1].ToAffine3x4(), tolerance))
}

func TestResourceViewRebind(t *testing.T) {
	e, backend := newTestEffect(t, Config{})
	view := &metadata.ResourceView{ID: "t1", Name: "textures"}

	// Two identical sets before one Apply still produce exactly one bind.
	e.BeginPass()
	e.SetTextures(view)
	e.SetTextures(view)
	require.NoError(t, e.Apply())
	require.Len(t, backend.bindsFor(metadata.BindingSlotTextures), 1)
	assert.Same(t, view, backend.bindsFor(metadata.BindingSlotTextures)[0].view)

	// Setting the same reference again after a flush re-dirties and
	// rebinds: reference equality is not short-circuited.
	backend.reset()
	e.SetTextures(view)
	require.NoError(t, e.Apply())
	assert.Len(t, backend.bindsFor(metadata.BindingSlotTextures), 1)
}

func TestResourceViewSlotsAndStages(t *testing.T) {
	e, backend := newTestEffect(t, Config{})

	materials := &metadata.ResourceView{ID: "m", Name: "materials"}
	textures := &metadata.ResourceView{ID: "t", Name: "textures"}
	textureIndices := &metadata.ResourceView{ID: "ti", Name: "texture_indices"}
	materialIndices := &metadata.ResourceView{ID: "mi", Name: "material_indices"}

	e.BeginPass()
	e.SetMaterialsBuffer(materials)
	e.SetTextures(textures)
	e.SetTextureIndices(textureIndices)
	e.SetMaterialIndices(materialIndices)
	require.NoError(t, e.Apply())

	assert.Same(t, materialIndices, backend.bindsFor(metadata.BindingSlotMaterialIndices)[0].view)
	assert.Same(t, textureIndices, backend.bindsFor(metadata.BindingSlotTextureIndices)[0].view)
	assert.Same(t, materials, backend.bindsFor(metadata.BindingSlotMaterials)[0].view)
	assert.Same(t, textures, backend.bindsFor(metadata.BindingSlotTextures)[0].view)

	for _, b := range backend.binds {
		if b.view != nil {
			assert.Equal(t, metadata.ShaderStagePixel, b.stages)
		}
	}
}

func TestConstantBufferSlotsAndStages(t *testing.T) {
	e, backend := newTestEffect(t, Config{})

	e.BeginPass()
	require.NoError(t, e.Apply())

	expect := map[uint32]struct {
		buffer *metadata.RenderBuffer
		stages metadata.ShaderStage
	}{
		metadata.BindingSlotPerDraw:   {e.perDrawBuffer, metadata.ShaderStagePixel},
		metadata.BindingSlotTransform: {e.transformBuffer, metadata.ShaderStageVertex},
		metadata.BindingSlotSkinning:  {e.skinningBuffer, metadata.ShaderStageVertex},
		metadata.BindingSlotLighting:  {e.lightingBuffer, metadata.ShaderStagePixel},
	}
	for slot, want := range expect {
		binds := backend.bindsFor(slot)
		require.Len(t, binds, 1, "slot %d", slot)
		assert.Same(t, want.buffer, binds[0].buffer, "slot %d", slot)
		assert.Equal(t, want.stages, binds[0].stages, "slot %d", slot)
	}
}

func TestPerDrawConstantsContent(t *testing.T) {
	e, backend := newTestEffect(t, Config{})

	e.BeginPass()
	e.SetPrimitiveOffset(7)
	e.SetTextureStageCount(2)
	e.SetAlphaTest(true)
	e.SetTexturing(true)
	e.SetTime(1.25)
	require.NoError(t, e.Apply())

	uploads := backend.uploadsFor(e.perDrawBuffer)
	require.Len(t, uploads, 1)
	got := *(*metadata.PerDrawConstants)(unsafe.Pointer(&uploads[0].data[0]))

	assert.Equal(t, uint32(7), got.PrimitiveOffset)
	assert.Equal(t, uint32(2), got.TextureStageCount)
	assert.Equal(t, uint32(1), got.AlphaTest)
	assert.Equal(t, uint32(1), got.TexturingEnabled)
	assert.Equal(t, float32(1.25), got.Time)
}

func TestLightsUpload(t *testing.T) {
	e, backend := newTestEffect(t, Config{})

	lights := []metadata.Light{
		{
			Position: math.NewVec4(0, 10, 0, 1),
			Colour:   math.NewVec4(1, 1, 1, 1),
			Params:   math.NewVec4(100, 0, 0, 0),
		},
		{
			Position:  math.NewVec4(5, 5, 5, 1),
			Direction: math.NewVec4(0, -1, 0, 0),
			Colour:    math.NewVec4(1, 0, 0, 1),
			Params:    math.NewVec4(50, 0.7, 1, 0),
		},
	}

	e.BeginPass()
	e.SetLights(lights)
	e.SetAmbientColour(math.NewVec4(0.1, 0.1, 0.1, 1))
	require.NoError(t, e.Apply())

	uploads := backend.uploadsFor(e.lightingBuffer)
	require.Len(t, uploads, 1)
	got := lightingFromBytes(t, uploads[0].data)

	assert.Equal(t, uint32(2), got.LightCount)
	assert.True(t, got.Lights[0].Position.Compare(lights[0].Position, tolerance))
	assert.True(t, got.Lights[1].Colour.Compare(lights[1].Colour, tolerance))
	assert.True(t, got.AmbientColour.Compare(math.NewVec4(0.1, 0.1, 0.1, 1), tolerance))
}

func TestEndToEndScenario(t *testing.T) {
	e, backend := newTestEffect(t, Config{})

	view := math.NewMat4LookAt(math.NewVec3(0, 2, 8), math.NewVec3Zero(), math.NewVec3(0, 1, 0))
	projection := math.NewMat4Perspective(math.K_PI/3, 4.0/3.0, 0.1, 500)
	lights := []metadata.Light{{Colour: math.NewVec4One()}}

	e.BeginPass()
	e.SetWorld(math.NewMat4Identity())
	e.SetView(view)
	e.SetProjection(projection)
	e.SetLights(lights)
	require.NoError(t, e.Apply())
	require.Equal(t, metadata.DirtyFlag(0), e.DirtyFlags())

	// World is identity, so WVP == V x P.
	transformUploads := backend.uploadsFor(e.transformBuffer)
	require.Len(t, transformUploads, 1)
	gotTransform := transformFromBytes(t, transformUploads[0].data)
	assert.True(t, gotTransform.WorldViewProjection.Compare(view.Mul(projection), tolerance))

	lightingUploads := backend.uploadsFor(e.lightingBuffer)
	require.Len(t, lightingUploads, 1)
	gotLighting := lightingFromBytes(t, lightingUploads[0].data)
	inv, ok := view.InverseChecked()
	require.True(t, ok)
	assert.True(t, gotLighting.CameraPosition.Compare(inv.Translation(), 1e-4))
	assert.Equal(t, uint32(1), gotLighting.LightCount)
}

func TestConfigFromMapsCameraFallback(t *testing.T) {
	cfg := config.Default()
	c := ConfigFrom("fx", cfg)
	assert.Equal(t, "fx", c.Name)
	assert.False(t, c.FallbackZeroCamera)

	cfg.Renderer.CameraFallback = config.CameraFallbackZero
	assert.True(t, ConfigFrom("fx", cfg).FallbackZeroCamera)
}

func TestTimeFedFromClock(t *testing.T) {
	e, backend := newTestEffect(t, Config{})

	clock := core.NewClock()
	clock.Start()
	clock.Update()
	elapsed := clock.ElapsedSeconds()

	e.BeginPass()
	e.SetTime(elapsed)
	require.NoError(t, e.Apply())

	uploads := backend.uploadsFor(e.perDrawBuffer)
	require.Len(t, uploads, 1)
	got := *(*metadata.PerDrawConstants)(unsafe.Pointer(&uploads[0].data[0]))
	assert.Equal(t, elapsed, got.Time)
	assert.GreaterOrEqual(t, got.Time, float32(0))
}

func TestCleanApplyCountsEverySkippedGroup(t *testing.T) {
	e, _ := newTestEffect(t, Config{})
	require.NoError(t, core.MetricsInitialize())

	e.BeginPass()
	require.NoError(t, e.Apply())

	// Every one of the eight groups is clean now; a further Apply must
	// count each of them as skipped, not the call as a whole.
	core.MetricsFrameReset()
	require.NoError(t, e.Apply())
	assert.Equal(t, uint32(8), core.MetricsFrameStats().SkippedClean)
}

func TestApplyBeforeBeginPassIsNoOp(t *testing.T) {
	e, backend := newTestEffect(t, Config{})

	require.NoError(t, e.Apply())
	assert.Empty(t, backend.uploads)
	assert.Empty(t, backend.binds)
}
