package math

// Vec2 represents a 2D vector
type Vec2 struct {
	X, Y float32
}

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

/** @brief a 4x4 matrix, typically used to represent object transformations.
 * Row-major storage, row-vector convention: the translation lives in
 * Data[12..14] and vectors multiply from the left (v' = v * M). */
type Mat4 struct {
	/** @brief The matrix elements */
	Data [16]float32
}

/** @brief a 3x4 affine transform, the packed form bone palettes are
 * uploaded in. Row-major: three rows of four elements, the projective
 * column of the source 4x4 dropped. */
type Mat3x4 struct {
	/** @brief The matrix elements */
	Data [12]float32
}
