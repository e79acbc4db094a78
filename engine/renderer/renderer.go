package renderer

import (
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

/**
 * @brief The device-facing surface this package drives. A backend owns the
 * actual GPU objects; the frontend and the effect only ever see opaque
 * RenderBuffer and ResourceView values. Buffer uploads are fire-and-forget:
 * the backend is expected to multi-buffer internally so an upload never
 * stalls on GPU consumption, and no completion is ever awaited here.
 */
type RendererBackend interface {
	Initialize(appName string) error
	Shutdown() error
	BeginFrame(deltaTime float64) error
	EndFrame(deltaTime float64) error
	UniformBufferCreate(bufferType metadata.RenderBufferType, totalSize uint64) (*metadata.RenderBuffer, error)
	UniformBufferDestroy(buffer *metadata.RenderBuffer)
	UniformBufferLoadRange(buffer *metadata.RenderBuffer, offset, size uint64, data []byte) error
	UniformBufferBind(buffer *metadata.RenderBuffer, slot uint32, stages metadata.ShaderStage) error
	ResourceViewBind(view *metadata.ResourceView, slot uint32, stages metadata.ShaderStage) error
}

type Renderer struct {
	backend RendererBackend
	config  config.Config
}

func New(backend RendererBackend, cfg config.Config) *Renderer {
	return &Renderer{backend: backend, config: cfg}
}

func (r *Renderer) Initialize(appName string) error {
	r.config.ApplyLogging()
	if err := core.MetricsInitialize(); err != nil {
		return err
	}
	return r.backend.Initialize(appName)
}

func (r *Renderer) Shutdown() error {
	return r.backend.Shutdown()
}

func (r *Renderer) BeginFrame(deltaTime float64) error {
	core.MetricsFrameReset()
	return r.backend.BeginFrame(deltaTime)
}

func (r *Renderer) EndFrame(deltaTime float64) error {
	return r.backend.EndFrame(deltaTime)
}

func (r *Renderer) UniformBufferCreate(bufferType metadata.RenderBufferType, totalSize uint64) (*metadata.RenderBuffer, error) {
	return r.backend.UniformBufferCreate(bufferType, totalSize)
}

func (r *Renderer) UniformBufferDestroy(buffer *metadata.RenderBuffer) {
	r.backend.UniformBufferDestroy(buffer)
}

func (r *Renderer) UniformBufferLoadRange(buffer *metadata.RenderBuffer, offset, size uint64, data []byte) error {
	core.MetricsCountUpload()
	return r.backend.UniformBufferLoadRange(buffer, offset, size, data)
}

func (r *Renderer) UniformBufferBind(buffer *metadata.RenderBuffer, slot uint32, stages metadata.ShaderStage) error {
	core.MetricsCountBind()
	return r.backend.UniformBufferBind(buffer, slot, stages)
}

func (r *Renderer) ResourceViewBind(view *metadata.ResourceView, slot uint32, stages metadata.ShaderStage) error {
	core.MetricsCountBind()
	return r.backend.ResourceViewBind(view, slot, stages)
}
