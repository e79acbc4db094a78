package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const (
	uniformSlotCount  = 4
	resourceSlotCount = 4
	bindingSlotCount  = uniformSlotCount + resourceSlotCount

	// A descriptor set already referenced by a recorded bind must never be
	// rewritten, so each frame carries a small ring of sets and migrates to
	// the next one whenever a binding changes mid-frame.
	setsPerFrame = 8
)

/**
 * @brief Backend state stored in a metadata.RenderBuffer's InternalData.
 * One VulkanBuffer ring per frame in flight so an upload never races the
 * GPU reading last frame's contents.
 */
type VulkanUniformBuffer struct {
	PerFrame []*VulkanBuffer
}

/**
 * @brief Backend payload expected inside a metadata.ResourceView's
 * InternalData. Exactly one of BufferInfo/ImageInfo is set, matching
 * DescriptorType. The underlying buffer or image is externally owned.
 */
type VulkanResourceView struct {
	DescriptorType vk.DescriptorType
	BufferInfo     *vk.DescriptorBufferInfo
	ImageInfo      *vk.DescriptorImageInfo
}

// NewResourceView wraps an externally owned descriptor payload in a
// metadata.ResourceView with a fresh debug identity. The payload's buffer
// or image must outlive every draw that binds the view.
func NewResourceView(name string, payload *VulkanResourceView) *metadata.ResourceView {
	return &metadata.ResourceView{
		ID:           core.IdentifierAcquireNew(),
		Name:         name,
		InternalData: payload,
	}
}

// frameBindings is the descriptor state of one frame in flight: the set
// ring, what has been written into the current set, and the dynamic
// offsets the next CmdBindDescriptorSets will carry.
type frameBindings struct {
	sets     []vk.DescriptorSet
	setIndex int
	// The current set has been referenced by a recorded bind; any further
	// descriptor write must migrate to the next set in the ring first.
	recorded bool
	written  [bindingSlotCount]bool
	buffers  [uniformSlotCount]vk.DescriptorBufferInfo
	views    [resourceSlotCount]*VulkanResourceView
	offsets  [uniformSlotCount]uint32
}

type VulkanRenderer struct {
	context    *VulkanContext
	validation bool

	descriptorSetLayout vk.DescriptorSetLayout
	descriptorPool      vk.DescriptorPool
	frames              []frameBindings
}

// New wires the renderer configuration into the backend: the configured
// frames-in-flight count overrides whatever the context owner set.
func New(context *VulkanContext, cfg config.RendererConfig) *VulkanRenderer {
	if cfg.FramesInFlight > 0 {
		context.FramesInFlight = cfg.FramesInFlight
	}
	return &VulkanRenderer{
		context:    context,
		validation: cfg.Validation,
	}
}

func (vr *VulkanRenderer) Initialize(appName string) error {
	core.LogInfo("Vulkan constant-sync backend initializing for '%s'", appName)

	if vr.context == nil || vr.context.Device == nil {
		return fmt.Errorf("vulkan backend requires a bootstrapped context")
	}
	if vr.context.FramesInFlight == 0 {
		vr.context.FramesInFlight = 3
	}

	if err := vr.createDescriptorSetLayout(); err != nil {
		return err
	}
	if err := vr.createDescriptorSets(); err != nil {
		return err
	}
	return nil
}

func (vr *VulkanRenderer) Shutdown() error {
	device := vr.context.Device.LogicalDevice
	if vr.descriptorPool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(device, vr.descriptorPool, vr.context.Allocator)
		vr.descriptorPool = vk.NullDescriptorPool
	}
	if vr.descriptorSetLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(device, vr.descriptorSetLayout, vr.context.Allocator)
		vr.descriptorSetLayout = vk.NullDescriptorSetLayout
	}
	return nil
}

func (vr *VulkanRenderer) BeginFrame(deltaTime float64) error {
	fb := &vr.frames[vr.context.CurrentFrame]
	fb.setIndex = 0
	fb.recorded = false
	fb.written = [bindingSlotCount]bool{}
	fb.buffers = [uniformSlotCount]vk.DescriptorBufferInfo{}
	fb.views = [resourceSlotCount]*VulkanResourceView{}
	fb.offsets = [uniformSlotCount]uint32{}
	return nil
}

func (vr *VulkanRenderer) EndFrame(deltaTime float64) error {
	vr.context.CurrentFrame = (vr.context.CurrentFrame + 1) % vr.context.FramesInFlight
	return nil
}

func (vr *VulkanRenderer) UniformBufferCreate(bufferType metadata.RenderBufferType, totalSize uint64) (*metadata.RenderBuffer, error) {
	if bufferType != metadata.RENDERBUFFER_TYPE_UNIFORM && bufferType != metadata.RENDERBUFFER_TYPE_STORAGE {
		return nil, fmt.Errorf("unsupported render buffer type %d", bufferType)
	}

	usage := vk.BufferUsageUniformBufferBit
	if bufferType == metadata.RENDERBUFFER_TYPE_STORAGE {
		usage = vk.BufferUsageStorageBufferBit
	}

	internal := &VulkanUniformBuffer{
		PerFrame: make([]*VulkanBuffer, vr.context.FramesInFlight),
	}
	for i := range internal.PerFrame {
		buffer, err := NewVulkanBuffer(vr.context, totalSize, usage)
		if err != nil {
			for j := 0; j < i; j++ {
				internal.PerFrame[j].Destroy(vr.context)
			}
			return nil, err
		}
		internal.PerFrame[i] = buffer
	}

	return &metadata.RenderBuffer{
		RenderBufferType: bufferType,
		TotalSize:        totalSize,
		InternalData:     internal,
	}, nil
}

func (vr *VulkanRenderer) UniformBufferDestroy(buffer *metadata.RenderBuffer) {
	internal, ok := buffer.InternalData.(*VulkanUniformBuffer)
	if !ok {
		core.LogError("UniformBufferDestroy called with a buffer not owned by this backend")
		return
	}
	for _, b := range internal.PerFrame {
		b.Destroy(vr.context)
	}
	buffer.InternalData = nil
}

// UniformBufferLoadRange writes into a fresh ring slice of the current
// frame's copy. Slices consumed by draws recorded earlier in the frame,
// and previous frames' copies, are never touched.
func (vr *VulkanRenderer) UniformBufferLoadRange(buffer *metadata.RenderBuffer, offset, size uint64, data []byte) error {
	internal, ok := buffer.InternalData.(*VulkanUniformBuffer)
	if !ok {
		return fmt.Errorf("buffer is not owned by this backend")
	}
	return internal.PerFrame[vr.context.CurrentFrame].LoadRange(offset, size, data)
}

func (vr *VulkanRenderer) UniformBufferBind(buffer *metadata.RenderBuffer, slot uint32, stages metadata.ShaderStage) error {
	internal, ok := buffer.InternalData.(*VulkanUniformBuffer)
	if !ok {
		return fmt.Errorf("buffer is not owned by this backend")
	}
	if slot >= uniformSlotCount {
		return fmt.Errorf("uniform binding slot %d out of range", slot)
	}

	fb := &vr.frames[vr.context.CurrentFrame]
	vb := internal.PerFrame[vr.context.CurrentFrame]

	info := vk.DescriptorBufferInfo{
		Buffer: vb.Handle,
		Offset: 0,
		Range:  vb.LogicalSize,
	}
	if !fb.written[slot] || fb.buffers[slot].Buffer != info.Buffer {
		if err := vr.ensureWritableSet(fb); err != nil {
			return err
		}
		fb.buffers[slot] = info
		vr.writeUniformSlot(fb, slot)
	}
	fb.offsets[slot] = vb.CurrentOffset()

	if vr.validation {
		core.LogDebug("uniform slot %d bound at dynamic offset %d", slot, fb.offsets[slot])
	}
	vr.bindCurrentSet(fb)
	return nil
}

func (vr *VulkanRenderer) ResourceViewBind(view *metadata.ResourceView, slot uint32, stages metadata.ShaderStage) error {
	internal, ok := view.InternalData.(*VulkanResourceView)
	if !ok {
		return fmt.Errorf("resource view '%s' carries no vulkan payload", view.Name)
	}
	if slot < uniformSlotCount || slot >= bindingSlotCount {
		return fmt.Errorf("resource binding slot %d out of range", slot)
	}

	fb := &vr.frames[vr.context.CurrentFrame]
	if !fb.written[slot] || fb.views[slot-uniformSlotCount] != internal {
		if err := vr.ensureWritableSet(fb); err != nil {
			return err
		}
		fb.views[slot-uniformSlotCount] = internal
		if err := vr.writeResourceSlot(fb, slot); err != nil {
			return fmt.Errorf("resource view '%s': %w", view.Name, err)
		}
	}

	if vr.validation {
		core.LogDebug("resource view '%s' (%s) bound at slot %d", view.Name, view.ID, slot)
	}
	vr.bindCurrentSet(fb)
	return nil
}

// ensureWritableSet migrates to the next set in the frame's ring when the
// current one has already been referenced by a recorded bind, replaying
// every live binding into the fresh set.
func (vr *VulkanRenderer) ensureWritableSet(fb *frameBindings) error {
	if !fb.recorded {
		return nil
	}
	if fb.setIndex+1 >= setsPerFrame {
		return fmt.Errorf("descriptor set ring exhausted: more than %d binding changes in one frame", setsPerFrame)
	}
	fb.setIndex++
	fb.recorded = false

	previous := fb.written
	fb.written = [bindingSlotCount]bool{}
	for slot := uint32(0); slot < uniformSlotCount; slot++ {
		if previous[slot] {
			vr.writeUniformSlot(fb, slot)
		}
	}
	for slot := uint32(uniformSlotCount); slot < bindingSlotCount; slot++ {
		if previous[slot] {
			if err := vr.writeResourceSlot(fb, slot); err != nil {
				return err
			}
		}
	}
	return nil
}

func (vr *VulkanRenderer) writeUniformSlot(fb *frameBindings, slot uint32) {
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          fb.sets[fb.setIndex],
		DstBinding:      slot,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeUniformBufferDynamic,
		PBufferInfo:     []vk.DescriptorBufferInfo{fb.buffers[slot]},
	}
	vk.UpdateDescriptorSets(vr.context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
	fb.written[slot] = true
}

func (vr *VulkanRenderer) writeResourceSlot(fb *frameBindings, slot uint32) error {
	payload := fb.views[slot-uniformSlotCount]
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          fb.sets[fb.setIndex],
		DstBinding:      slot,
		DescriptorCount: 1,
		DescriptorType:  payload.DescriptorType,
	}
	switch {
	case payload.BufferInfo != nil:
		write.PBufferInfo = []vk.DescriptorBufferInfo{*payload.BufferInfo}
	case payload.ImageInfo != nil:
		write.PImageInfo = []vk.DescriptorImageInfo{*payload.ImageInfo}
	default:
		return fmt.Errorf("descriptor payload has neither buffer nor image info")
	}
	vk.UpdateDescriptorSets(vr.context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
	fb.written[slot] = true
	return nil
}

// bindCurrentSet records the frame's current set with the dynamic offsets
// of all four uniform slots; slots not re-bound this draw keep pointing at
// their last written slice.
func (vr *VulkanRenderer) bindCurrentSet(fb *frameBindings) {
	vk.CmdBindDescriptorSets(
		vr.context.currentCommandBuffer(),
		vk.PipelineBindPointGraphics,
		vr.context.PipelineLayout,
		0,
		1,
		[]vk.DescriptorSet{fb.sets[fb.setIndex]},
		uniformSlotCount,
		fb.offsets[:],
	)
	fb.recorded = true
}

func (vr *VulkanRenderer) createDescriptorSetLayout() error {
	// Slots 0-3 are dynamic uniform buffers split across vertex and pixel
	// stages, 4-6 are storage buffers (index lookups and materials table),
	// 7 is the combined texture array. Mirrors the metadata.BindingSlot* ABI.
	bindings := make([]vk.DescriptorSetLayoutBinding, 0, bindingSlotCount)
	stageForUniformSlot := map[uint32]vk.ShaderStageFlagBits{
		metadata.BindingSlotPerDraw:   vk.ShaderStageFragmentBit,
		metadata.BindingSlotTransform: vk.ShaderStageVertexBit,
		metadata.BindingSlotSkinning:  vk.ShaderStageVertexBit,
		metadata.BindingSlotLighting:  vk.ShaderStageFragmentBit,
	}
	for slot := uint32(0); slot < uniformSlotCount; slot++ {
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         slot,
			DescriptorType:  vk.DescriptorTypeUniformBufferDynamic,
			DescriptorCount: 1,
			StageFlags:      vk.ShaderStageFlags(stageForUniformSlot[slot]),
		})
	}
	for slot := uint32(uniformSlotCount); slot < bindingSlotCount; slot++ {
		descriptorType := vk.DescriptorTypeStorageBuffer
		descriptorCount := uint32(1)
		if slot == metadata.BindingSlotTextures {
			descriptorType = vk.DescriptorTypeCombinedImageSampler
			descriptorCount = metadata.MaxTextureCount
		}
		bindings = append(bindings, vk.DescriptorSetLayoutBinding{
			Binding:         slot,
			DescriptorType:  descriptorType,
			DescriptorCount: descriptorCount,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
		})
	}

	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	if res := vk.CreateDescriptorSetLayout(
		vr.context.Device.LogicalDevice,
		&layoutInfo,
		vr.context.Allocator,
		&vr.descriptorSetLayout); res != vk.Success {
		return fmt.Errorf("vkCreateDescriptorSetLayout failed with code %d", res)
	}
	return nil
}

func (vr *VulkanRenderer) createDescriptorSets() error {
	framesInFlight := vr.context.FramesInFlight
	totalSets := framesInFlight * setsPerFrame

	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBufferDynamic, DescriptorCount: uniformSlotCount * totalSets},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: (resourceSlotCount - 1) * totalSets},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: metadata.MaxTextureCount * totalSets},
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       totalSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if res := vk.CreateDescriptorPool(
		vr.context.Device.LogicalDevice,
		&poolInfo,
		vr.context.Allocator,
		&vr.descriptorPool); res != vk.Success {
		return fmt.Errorf("vkCreateDescriptorPool failed with code %d", res)
	}

	layouts := make([]vk.DescriptorSetLayout, totalSets)
	for i := range layouts {
		layouts[i] = vr.descriptorSetLayout
	}
	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     vr.descriptorPool,
		DescriptorSetCount: totalSets,
		PSetLayouts:        layouts,
	}
	allSets := make([]vk.DescriptorSet, totalSets)
	if res := vk.AllocateDescriptorSets(
		vr.context.Device.LogicalDevice,
		&allocateInfo,
		&allSets[0]); res != vk.Success {
		return fmt.Errorf("vkAllocateDescriptorSets failed with code %d", res)
	}

	vr.frames = make([]frameBindings, framesInFlight)
	for i := range vr.frames {
		vr.frames[i].sets = allSets[uint32(i)*setsPerFrame : (uint32(i)+1)*setsPerFrame]
	}
	return nil
}
