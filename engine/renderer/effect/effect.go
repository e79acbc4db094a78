package effect

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

/** @brief Configuration for a render effect. */
type Config struct {
	/** @brief A Name for the effect, used in logging. */
	Name string
	/**
	 * @brief When true, a degenerate (non-invertible) view matrix produces a
	 * zero camera position. When false, the last successfully derived camera
	 * position is kept instead.
	 */
	FallbackZeroCamera bool
}

// ConfigFrom derives an effect configuration from the loaded renderer
// settings, mapping the camera fallback policy onto FallbackZeroCamera.
func ConfigFrom(name string, cfg config.Config) Config {
	return Config{
		Name:               name,
		FallbackZeroCamera: cfg.Renderer.CameraFallback == config.CameraFallbackZero,
	}
}

/**
 * @brief Tracks per-draw, per-frame and per-object shader constants and
 * lazily synchronizes them to GPU constant buffers immediately before a
 * draw call. Setters only touch CPU staging state and mark the owning
 * group dirty; Apply flushes exactly the dirty groups and nothing else.
 *
 * One instance per device context, driven by exactly one command-submission
 * thread. Not safe for concurrent use.
 */
type RenderEffect struct {
	config Config

	renderer *renderer.Renderer

	// Which constant groups have been mutated since the last Apply.
	dirty metadata.DirtyFlag

	// CPU staging blocks, overwritten by setters, uploaded by Apply.
	perDraw   metadata.PerDrawConstants
	transform metadata.TransformConstants
	skinning  metadata.SkinningConstants
	lighting  metadata.LightingConstants

	// Inputs the derived values (WVP, camera position) are computed from.
	world      math.Mat4
	view       math.Mat4
	projection math.Mat4

	// Last successfully derived camera position, the non-zero fallback.
	lastCameraPosition math.Vec3

	// GPU-side buffers, allocated once at construction and reused.
	perDrawBuffer   *metadata.RenderBuffer
	transformBuffer *metadata.RenderBuffer
	skinningBuffer  *metadata.RenderBuffer
	lightingBuffer  *metadata.RenderBuffer

	// Borrowed resource views. Externally owned; only the reference is
	// tracked, never the referenced content.
	materials       *metadata.ResourceView
	textures        *metadata.ResourceView
	textureIndices  *metadata.ResourceView
	materialIndices *metadata.ResourceView
}

func New(r *renderer.Renderer, config Config) (*RenderEffect, error) {
	if r == nil {
		return nil, fmt.Errorf("effect.New requires a renderer")
	}
	if config.Name == "" {
		config.Name = "render_effect"
	}

	e := &RenderEffect{
		config:     config,
		renderer:   r,
		world:      math.NewMat4Identity(),
		view:       math.NewMat4Identity(),
		projection: math.NewMat4Identity(),
	}
	e.transform.World = e.world
	e.transform.WorldViewProjection = math.NewMat4Identity()
	identity := math.NewMat4Identity().ToAffine3x4()
	for i := 0; i < metadata.MaxBoneCount; i++ {
		e.skinning.Bones[i] = identity
	}

	var err error
	if e.perDrawBuffer, err = r.UniformBufferCreate(metadata.RENDERBUFFER_TYPE_UNIFORM, metadata.PerDrawConstantsSize); err != nil {
		return nil, fmt.Errorf("effect '%s': per-draw buffer: %w", config.Name, err)
	}
	if e.transformBuffer, err = r.UniformBufferCreate(metadata.RENDERBUFFER_TYPE_UNIFORM, metadata.TransformConstantsSize); err != nil {
		e.Destroy()
		return nil, fmt.Errorf("effect '%s': transform buffer: %w", config.Name, err)
	}
	if e.skinningBuffer, err = r.UniformBufferCreate(metadata.RENDERBUFFER_TYPE_UNIFORM, metadata.SkinningConstantsSize); err != nil {
		e.Destroy()
		return nil, fmt.Errorf("effect '%s': skinning buffer: %w", config.Name, err)
	}
	if e.lightingBuffer, err = r.UniformBufferCreate(metadata.RENDERBUFFER_TYPE_UNIFORM, metadata.LightingConstantsSize); err != nil {
		e.Destroy()
		return nil, fmt.Errorf("effect '%s': lighting buffer: %w", config.Name, err)
	}

	core.LogDebug("effect '%s' created", config.Name)
	return e, nil
}

// Destroy releases the effect's own GPU buffers. Borrowed resource views
// are left untouched.
func (e *RenderEffect) Destroy() {
	for _, b := range []*metadata.RenderBuffer{e.perDrawBuffer, e.transformBuffer, e.skinningBuffer, e.lightingBuffer} {
		if b != nil {
			e.renderer.UniformBufferDestroy(b)
		}
	}
	e.perDrawBuffer = nil
	e.transformBuffer = nil
	e.skinningBuffer = nil
	e.lightingBuffer = nil
}

/**
 * @brief Marks every constant group dirty so the next Apply performs a
 * full resync. Called once at the start of a render pass.
 */
func (e *RenderEffect) BeginPass() {
	e.dirty = metadata.DirtyAll
}

// DirtyFlags returns the current dirty set. Intended for tests and debug
// overlays only.
func (e *RenderEffect) DirtyFlags() metadata.DirtyFlag {
	return e.dirty
}

func (e *RenderEffect) SetWorld(world math.Mat4) {
	e.world = world
	e.dirty = e.dirty.Set(metadata.DirtyTransform)
}

// SetView dirties lighting as well: the camera position is derived from
// the view matrix.
func (e *RenderEffect) SetView(view math.Mat4) {
	e.view = view
	e.dirty = e.dirty.Set(metadata.DirtyTransform).Set(metadata.DirtyLighting)
}

func (e *RenderEffect) SetProjection(projection math.Mat4) {
	e.projection = projection
	e.dirty = e.dirty.Set(metadata.DirtyTransform)
}

/**
 * @brief Copies the provided bone transforms into the staging palette,
 * truncating each 4x4 to its 3x4 affine form. The slice is borrowed for
 * the duration of this call only. Entries beyond len(bones) retain their
 * previous contents; anything past MaxBoneCount is ignored with a warning.
 */
func (e *RenderEffect) SetBoneTransforms(bones []math.Mat4) {
	count := len(bones)
	if count > metadata.MaxBoneCount {
		core.LogWarn("effect '%s': %d bone transforms supplied, truncating to %d", e.config.Name, count, metadata.MaxBoneCount)
		count = metadata.MaxBoneCount
	}
	for i := 0; i < count; i++ {
		e.skinning.Bones[i] = bones[i].ToAffine3x4()
	}
	e.dirty = e.dirty.Set(metadata.DirtySkinning)
}

func (e *RenderEffect) SetSkinningEnabled(enabled bool) {
	e.transform.SkinningEnabled = boolToUint32(enabled)
	e.dirty = e.dirty.Set(metadata.DirtyTransform)
}

/**
 * @brief Copies the provided lights into the staging block. Lights beyond
 * MaxLightCount are ignored with a warning.
 */
func (e *RenderEffect) SetLights(lights []metadata.Light) {
	count := len(lights)
	if count > metadata.MaxLightCount {
		core.LogWarn("effect '%s': %d lights supplied, truncating to %d", e.config.Name, count, metadata.MaxLightCount)
		count = metadata.MaxLightCount
	}
	copy(e.lighting.Lights[:], lights[:count])
	e.lighting.LightCount = uint32(count)
	e.dirty = e.dirty.Set(metadata.DirtyLighting)
}

func (e *RenderEffect) SetAmbientColour(colour math.Vec4) {
	e.lighting.AmbientColour = colour
	e.dirty = e.dirty.Set(metadata.DirtyLighting)
}

// NOTE: the four view setters dirty unconditionally, even when the same
// reference is set twice in a row. Reference-equality short-circuiting
// would save a rebind but has not been needed so far.

func (e *RenderEffect) SetMaterialsBuffer(view *metadata.ResourceView) {
	e.materials = view
	e.dirty = e.dirty.Set(metadata.DirtyMaterialsBuffer)
}

func (e *RenderEffect) SetTextures(view *metadata.ResourceView) {
	e.textures = view
	e.dirty = e.dirty.Set(metadata.DirtyTextures)
}

func (e *RenderEffect) SetTextureIndices(view *metadata.ResourceView) {
	e.textureIndices = view
	e.dirty = e.dirty.Set(metadata.DirtyTextureIndices)
}

func (e *RenderEffect) SetMaterialIndices(view *metadata.ResourceView) {
	e.materialIndices = view
	e.dirty = e.dirty.Set(metadata.DirtyMaterialIndices)
}

func (e *RenderEffect) SetPrimitiveOffset(offset uint32) {
	e.perDraw.PrimitiveOffset = offset
	e.dirty = e.dirty.Set(metadata.DirtyPerDraw)
}

func (e *RenderEffect) SetTextureStageCount(count uint32) {
	e.perDraw.TextureStageCount = count
	e.dirty = e.dirty.Set(metadata.DirtyPerDraw)
}

func (e *RenderEffect) SetAlphaTest(enabled bool) {
	e.perDraw.AlphaTest = boolToUint32(enabled)
	e.dirty = e.dirty.Set(metadata.DirtyPerDraw)
}

func (e *RenderEffect) SetTexturing(enabled bool) {
	e.perDraw.TexturingEnabled = boolToUint32(enabled)
	e.dirty = e.dirty.Set(metadata.DirtyPerDraw)
}

func (e *RenderEffect) SetTime(seconds float32) {
	e.perDraw.Time = seconds
	e.dirty = e.dirty.Set(metadata.DirtyPerDraw)
}

/**
 * @brief Synchronizes every dirty constant group to the GPU and clears its
 * flag. Invoked once per draw, after all setters for that draw. Groups are
 * flushed in a fixed order -- per-draw, transform, skinning, lighting, then
 * the four rebind-only view groups -- so derived values always read inputs
 * set before this call. No flag remains set on return.
 */
func (e *RenderEffect) Apply() error {
	if e.dirty.Has(metadata.DirtyPerDraw) {
		if err := e.syncPerDraw(); err != nil {
			return err
		}
		e.dirty = e.dirty.Clear(metadata.DirtyPerDraw)
	} else {
		core.MetricsCountSkipped()
	}

	if e.dirty.Has(metadata.DirtyTransform) {
		if err := e.syncTransform(); err != nil {
			return err
		}
		e.dirty = e.dirty.Clear(metadata.DirtyTransform)
	} else {
		core.MetricsCountSkipped()
	}

	if e.dirty.Has(metadata.DirtySkinning) {
		if err := e.syncSkinning(); err != nil {
			return err
		}
		e.dirty = e.dirty.Clear(metadata.DirtySkinning)
	} else {
		core.MetricsCountSkipped()
	}

	if e.dirty.Has(metadata.DirtyLighting) {
		if err := e.syncLighting(); err != nil {
			return err
		}
		e.dirty = e.dirty.Clear(metadata.DirtyLighting)
	} else {
		core.MetricsCountSkipped()
	}

	// The view groups carry no CPU payload; synchronizing one is purely a
	// rebind of the currently referenced view.
	rebinds := []struct {
		flag metadata.DirtyFlag
		view *metadata.ResourceView
		slot uint32
	}{
		{metadata.DirtyMaterialIndices, e.materialIndices, metadata.BindingSlotMaterialIndices},
		{metadata.DirtyTextureIndices, e.textureIndices, metadata.BindingSlotTextureIndices},
		{metadata.DirtyMaterialsBuffer, e.materials, metadata.BindingSlotMaterials},
		{metadata.DirtyTextures, e.textures, metadata.BindingSlotTextures},
	}
	for _, rb := range rebinds {
		if !e.dirty.Has(rb.flag) {
			core.MetricsCountSkipped()
			continue
		}
		if rb.view != nil {
			if err := e.renderer.ResourceViewBind(rb.view, rb.slot, metadata.ShaderStagePixel); err != nil {
				return fmt.Errorf("effect '%s': bind view '%s' at slot %d: %w", e.config.Name, rb.view.Name, rb.slot, err)
			}
		}
		e.dirty = e.dirty.Clear(rb.flag)
	}

	return nil
}

func (e *RenderEffect) syncPerDraw() error {
	if err := e.renderer.UniformBufferLoadRange(e.perDrawBuffer, 0, metadata.PerDrawConstantsSize, e.perDraw.Bytes()); err != nil {
		return fmt.Errorf("effect '%s': upload per-draw constants: %w", e.config.Name, err)
	}
	return e.renderer.UniformBufferBind(e.perDrawBuffer, metadata.BindingSlotPerDraw, metadata.ShaderStagePixel)
}

func (e *RenderEffect) syncTransform() error {
	// WVP = World x View x Projection, row-vector convention.
	e.transform.World = e.world
	e.transform.WorldViewProjection = e.world.Mul(e.view).Mul(e.projection)

	if err := e.renderer.UniformBufferLoadRange(e.transformBuffer, 0, metadata.TransformConstantsSize, e.transform.Bytes()); err != nil {
		return fmt.Errorf("effect '%s': upload transform constants: %w", e.config.Name, err)
	}
	return e.renderer.UniformBufferBind(e.transformBuffer, metadata.BindingSlotTransform, metadata.ShaderStageVertex)
}

func (e *RenderEffect) syncSkinning() error {
	if err := e.renderer.UniformBufferLoadRange(e.skinningBuffer, 0, metadata.SkinningConstantsSize, e.skinning.Bytes()); err != nil {
		return fmt.Errorf("effect '%s': upload skinning constants: %w", e.config.Name, err)
	}
	return e.renderer.UniformBufferBind(e.skinningBuffer, metadata.BindingSlotSkinning, metadata.ShaderStageVertex)
}

func (e *RenderEffect) syncLighting() error {
	// The camera world position is the translation of the inverted view
	// matrix. A degenerate view never occurs with a well-formed camera, but
	// a garbage inverse must not reach the GPU: fall back and keep drawing.
	if inv, ok := e.view.InverseChecked(); ok {
		e.lighting.CameraPosition = inv.Translation()
		e.lastCameraPosition = e.lighting.CameraPosition
	} else {
		if e.config.FallbackZeroCamera {
			e.lighting.CameraPosition = math.NewVec3Zero()
		} else {
			e.lighting.CameraPosition = e.lastCameraPosition
		}
		core.LogWarn("effect '%s': %v, camera position fallback in use", e.config.Name, core.ErrDegenerateViewMatrix)
	}

	if err := e.renderer.UniformBufferLoadRange(e.lightingBuffer, 0, metadata.LightingConstantsSize, e.lighting.Bytes()); err != nil {
		return fmt.Errorf("effect '%s': upload lighting constants: %w", e.config.Name, err)
	}
	return e.renderer.UniformBufferBind(e.lightingBuffer, metadata.BindingSlotLighting, metadata.ShaderStagePixel)
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
