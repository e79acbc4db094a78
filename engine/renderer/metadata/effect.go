package metadata

import (
	"unsafe"

	"github.com/spaghettifunk/lumen/engine/math"
)

/** @brief The maximum number of bone transforms a skinned mesh may carry. */
const MaxBoneCount = 64

/** @brief The maximum number of lights a lighting block may carry. */
const MaxLightCount = 8

/** @brief The maximum number of textures a combined texture array may hold. */
const MaxTextureCount = 32

/**
 * @brief Identifies a logical constant group whose CPU staging value has
 * changed since it was last synchronized to the GPU. A flag is set if and
 * only if the group is out of date.
 */
type DirtyFlag uint32

const (
	DirtyPerDraw         DirtyFlag = 0x01
	DirtySkinning        DirtyFlag = 0x02
	DirtyTransform       DirtyFlag = 0x04
	DirtyLighting        DirtyFlag = 0x08
	DirtyMaterialsBuffer DirtyFlag = 0x10
	DirtyTextures        DirtyFlag = 0x20
	DirtyTextureIndices  DirtyFlag = 0x40
	DirtyMaterialIndices DirtyFlag = 0x80

	/** @brief Distinguished value forcing a full resync at the start of a pass. */
	DirtyAll DirtyFlag = DirtyPerDraw | DirtySkinning | DirtyTransform |
		DirtyLighting | DirtyMaterialsBuffer | DirtyTextures |
		DirtyTextureIndices | DirtyMaterialIndices
)

func (f DirtyFlag) Has(flag DirtyFlag) bool {
	return f&flag != 0
}

func (f DirtyFlag) Set(flag DirtyFlag) DirtyFlag {
	return f | flag
}

func (f DirtyFlag) Clear(flag DirtyFlag) DirtyFlag {
	return f &^ flag
}

/** @brief Shader stages a constant buffer or resource view may be visible to. */
type ShaderStage int

const (
	ShaderStageVertex ShaderStage = 0x00000001
	ShaderStagePixel  ShaderStage = 0x00000002
)

/**
 * @brief Constant-buffer and resource-view binding slots. These numbers are
 * part of the shader ABI and must match the declarations on the GPU side.
 */
const (
	BindingSlotPerDraw         = 0 // pixel stage
	BindingSlotTransform       = 1 // vertex stage
	BindingSlotSkinning        = 2 // vertex stage
	BindingSlotLighting        = 3 // pixel stage
	BindingSlotMaterialIndices = 4 // pixel stage
	BindingSlotTextureIndices  = 5 // pixel stage
	BindingSlotMaterials       = 6 // pixel stage
	BindingSlotTextures        = 7 // pixel stage
)

/**
 * @brief Per-draw constants as the pixel stage consumes them. The layout is
 * packed and fixed: offsets 0/4/8/12/16, 20 bytes total. Booleans occupy a
 * full 4-byte register each.
 */
type PerDrawConstants struct {
	PrimitiveOffset   uint32
	TextureStageCount uint32
	AlphaTest         uint32
	TexturingEnabled  uint32
	Time              float32
}

const PerDrawConstantsSize = 20

func (c *PerDrawConstants) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(c)), PerDrawConstantsSize)
}

/**
 * @brief Transform constants as the vertex stage consumes them. The combined
 * WorldViewProjection is derived on the CPU so the vertex shader performs a
 * single multiply per vertex. SkinningEnabled is a 4-byte bool padded out to
 * a full 16-byte register.
 */
type TransformConstants struct {
	World               math.Mat4
	WorldViewProjection math.Mat4
	SkinningEnabled     uint32
	Reserved            [3]uint32
}

const TransformConstantsSize = 144

func (c *TransformConstants) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(c)), TransformConstantsSize)
}

/**
 * @brief The bone palette as the vertex stage consumes it: a contiguous
 * array of 3x4 affine transforms, three float4 registers per bone.
 */
type SkinningConstants struct {
	Bones [MaxBoneCount]math.Mat3x4
}

const SkinningConstantsSize = MaxBoneCount * 48

func (c *SkinningConstants) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(c)), SkinningConstantsSize)
}

/**
 * @brief A single light in its GPU representation. Params packs
 * range, cone-angle cosine and light type into one register.
 */
type Light struct {
	Position  math.Vec4
	Direction math.Vec4
	Colour    math.Vec4
	Params    math.Vec4
}

/**
 * @brief Lighting constants as the pixel stage consumes them. The camera
 * world position is derived from the inverse of the current view matrix.
 */
type LightingConstants struct {
	CameraPosition math.Vec3
	LightCount     uint32
	AmbientColour  math.Vec4
	Lights         [MaxLightCount]Light
}

const LightingConstantsSize = 32 + MaxLightCount*64

func (c *LightingConstants) Bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(c)), LightingConstantsSize)
}

/** @brief Available vertex attribute formats. */
type VertexAttributeFormat uint

const (
	VertexAttribFormatFloat32_2 VertexAttributeFormat = 0
	VertexAttribFormatFloat32_3 VertexAttributeFormat = 1
	VertexAttribFormatUint32    VertexAttributeFormat = 2
)

/** @brief Describes a single vertex input attribute. */
type VertexAttribute struct {
	/** @brief The attribute Name. */
	Name string
	/** @brief The input stream the attribute is read from. */
	Stream uint32
	/** @brief The Offset in bytes from the start of the stream element. */
	Offset uint32
	/** @brief The attribute format. */
	Format VertexAttributeFormat
}

/** @brief Stride in bytes of vertex stream 0 (position, normal, blend index). */
const VertexStream0Stride = 28

/** @brief Stride in bytes of vertex stream 1 (two texture coordinate pairs). */
const VertexStream1Stride = 16

/**
 * @brief The vertex input layout skinned meshes are authored against.
 * This component consumes but does not produce vertex data; the layout is
 * documented here because the transform and skinning constants only make
 * sense against it.
 */
func MeshVertexLayout() []VertexAttribute {
	return []VertexAttribute{
		{Name: "position", Stream: 0, Offset: 0, Format: VertexAttribFormatFloat32_3},
		{Name: "normal", Stream: 0, Offset: 12, Format: VertexAttribFormatFloat32_3},
		{Name: "blend_index", Stream: 0, Offset: 24, Format: VertexAttribFormatUint32},
		{Name: "texcoord0", Stream: 1, Offset: 0, Format: VertexAttribFormatFloat32_2},
		{Name: "texcoord1", Stream: 1, Offset: 8, Format: VertexAttribFormatFloat32_2},
	}
}
