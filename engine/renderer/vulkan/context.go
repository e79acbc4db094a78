package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
)

type VulkanDevice struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device
}

/**
 * @brief Everything the constant-sync backend needs from an already
 * bootstrapped Vulkan device. Instance, surface, swapchain and pipeline
 * creation happen outside this package; the owner fills this in once and
 * keeps it alive for the backend's lifetime.
 */
type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks

	Device *VulkanDevice

	/**
	 * @brief The pipeline layout the descriptor sets written by this
	 * backend are bound against. Must declare set 0 with the engine's
	 * slot ABI (uniform slots 0-3, resource slots 4-7).
	 */
	PipelineLayout vk.PipelineLayout

	// Command buffers being recorded, one per frame in flight. The owner
	// begins/ends and submits them; this backend only records binds.
	GraphicsCommandBuffers []vk.CommandBuffer

	/**
	 * @brief minUniformBufferOffsetAlignment from the device limits. Zero
	 * falls back to 256, the largest value Vulkan allows for this limit.
	 */
	MinUniformBufferOffsetAlignment vk.DeviceSize

	FramesInFlight uint32
	CurrentFrame   uint32
}

func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(vc.Device.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		// Check each memory type to see if its bit is set to 1.
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

func (vc *VulkanContext) currentCommandBuffer() vk.CommandBuffer {
	return vc.GraphicsCommandBuffers[vc.CurrentFrame]
}
