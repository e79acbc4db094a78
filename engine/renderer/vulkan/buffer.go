package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// Constants are rewritten once per draw, so each buffer is a ring of
// per-draw slices: a write lands in a fresh slice and earlier draws in
// the same frame keep reading the snapshot they were recorded against.
const ringSliceCount = 256

const defaultUniformAlignment = 256

/**
 * @brief A host-visible, persistently mapped ring buffer. Uniform data is
 * small and rewritten every draw, so device-local staging would cost more
 * than it saves; the buffer stays mapped for its whole lifetime.
 */
type VulkanBuffer struct {
	Handle vk.Buffer
	Memory vk.DeviceMemory
	Mapped unsafe.Pointer
	/** @brief Size of one constant block, the range a descriptor covers. */
	LogicalSize vk.DeviceSize
	/** @brief LogicalSize aligned up to the device's offset alignment. */
	SliceSize vk.DeviceSize
	/** @brief Number of per-draw slices in the ring. */
	SliceCount uint32

	current uint32
	next    uint32
}

func NewVulkanBuffer(context *VulkanContext, size uint64, usage vk.BufferUsageFlagBits) (*VulkanBuffer, error) {
	alignment := context.MinUniformBufferOffsetAlignment
	if alignment == 0 {
		alignment = defaultUniformAlignment
	}

	buffer := &VulkanBuffer{
		LogicalSize: vk.DeviceSize(size),
		SliceSize:   alignUp(size, alignment),
		SliceCount:  ringSliceCount,
	}

	bufferInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        buffer.SliceSize * vk.DeviceSize(buffer.SliceCount),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	if res := vk.CreateBuffer(context.Device.LogicalDevice, &bufferInfo, context.Allocator, &buffer.Handle); res != vk.Success {
		return nil, fmt.Errorf("vkCreateBuffer failed with code %d", res)
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, buffer.Handle, &requirements)
	requirements.Deref()

	memoryIndex := context.FindMemoryIndex(
		requirements.MemoryTypeBits,
		uint32(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit),
	)
	if memoryIndex < 0 {
		vk.DestroyBuffer(context.Device.LogicalDevice, buffer.Handle, context.Allocator)
		return nil, fmt.Errorf("no host-visible coherent memory type available")
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocateInfo, context.Allocator, &buffer.Memory); res != vk.Success {
		vk.DestroyBuffer(context.Device.LogicalDevice, buffer.Handle, context.Allocator)
		return nil, fmt.Errorf("vkAllocateMemory failed with code %d", res)
	}

	if res := vk.BindBufferMemory(context.Device.LogicalDevice, buffer.Handle, buffer.Memory, 0); res != vk.Success {
		buffer.Destroy(context)
		return nil, fmt.Errorf("vkBindBufferMemory failed with code %d", res)
	}

	if res := vk.MapMemory(context.Device.LogicalDevice, buffer.Memory, 0, bufferInfo.Size, 0, &buffer.Mapped); res != vk.Success {
		buffer.Destroy(context)
		return nil, fmt.Errorf("vkMapMemory failed with code %d", res)
	}

	return buffer, nil
}

// LoadRange copies data into the next free slice of the ring. Memory is
// host-coherent, no explicit flush is required. Slices written earlier in
// the frame are never touched.
func (b *VulkanBuffer) LoadRange(offset, size uint64, data []byte) error {
	if offset+size > uint64(b.LogicalSize) {
		return fmt.Errorf("range [%d, %d) exceeds buffer size %d", offset, offset+size, b.LogicalSize)
	}
	if uint64(len(data)) < size {
		return fmt.Errorf("range size %d exceeds provided data length %d", size, len(data))
	}
	b.current = b.next
	b.next = (b.next + 1) % b.SliceCount

	dst := uint64(b.current)*uint64(b.SliceSize) + offset
	vk.Memcopy(unsafe.Add(b.Mapped, dst), data[:size])
	return nil
}

// CurrentOffset returns the byte offset of the most recently written
// slice: the dynamic offset any draw recorded after that write must use.
func (b *VulkanBuffer) CurrentOffset() uint32 {
	return b.current * uint32(b.SliceSize)
}

func (b *VulkanBuffer) Destroy(context *VulkanContext) {
	if b.Mapped != nil {
		vk.UnmapMemory(context.Device.LogicalDevice, b.Memory)
		b.Mapped = nil
	}
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(context.Device.LogicalDevice, b.Memory, context.Allocator)
		b.Memory = vk.NullDeviceMemory
	}
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(context.Device.LogicalDevice, b.Handle, context.Allocator)
		b.Handle = vk.NullBuffer
	}
}

func alignUp(size uint64, alignment vk.DeviceSize) vk.DeviceSize {
	a := uint64(alignment)
	return vk.DeviceSize((size + a - 1) / a * a)
}
