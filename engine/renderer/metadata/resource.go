package metadata

type RenderBufferType int

const (
	/** @brief Buffer use is unknown. Default, but usually invalid. */
	RENDERBUFFER_TYPE_UNKNOWN RenderBufferType = iota
	/** @brief Buffer is used for uniform data. */
	RENDERBUFFER_TYPE_UNIFORM
	/** @brief Buffer is used for data storage. */
	RENDERBUFFER_TYPE_STORAGE
)

/**
 * @brief A GPU-resident buffer owned by the renderer. The staging value it
 * mirrors lives with whoever created it; the buffer itself is allocated once
 * and reused (multi-buffered by the backend) for its entire lifetime.
 */
type RenderBuffer struct {
	/** @brief The type of buffer, which typically determines its use. */
	RenderBufferType RenderBufferType
	/** @brief The total size of the buffer in bytes. */
	TotalSize uint64
	/** @brief Contains internal data for the renderer-API-specific buffer. */
	InternalData interface{}
}

/**
 * @brief A non-owning reference to an externally managed GPU resource
 * (materials table, texture array, index lookup buffer). The referenced
 * resource must outlive any draw call that binds it; that obligation is
 * the caller's, never this package's.
 */
type ResourceView struct {
	/** @brief Debug identity of the view. Assigned at creation, never reused. */
	ID string
	/** @brief A human-readable Name for logging. */
	Name string
	/** @brief The renderer-API-specific view object, externally owned. */
	InternalData interface{}
}
