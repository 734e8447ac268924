package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// Fake is a deterministic hash-based embedder suitable for unit tests.
// It produces fixed-size vectors with values derived from SHA-256 of the
// input string: identical texts embed identically, different texts almost
// never collide.
type Fake struct {
	dim int
}

// NewFake returns a fake embedder with the given dimension (>= 4).
func NewFake(dim int) *Fake {
	if dim < 4 {
		dim = 4
	}
	return &Fake{dim: dim}
}

func (e *Fake) Name() string { return "fake" }

func (e *Fake) Embed(_ context.Context, inputs []string) ([]Vector, error) {
	out := make([]Vector, len(inputs))
	for i, s := range inputs {
		vec := make(Vector, e.dim)
		h := sha256.Sum256([]byte(s))
		// Fill in chunks of 4 bytes into float32s; simple deterministic pattern.
		for j := 0; j < e.dim; j++ {
			off := (j * 4) % len(h)
			u := binary.LittleEndian.Uint32(h[off : off+4])
			// Scale to [0,1) then shift to [-0.5, 0.5)
			vec[j] = (float32(u&0x7FFFFFFF) / float32(1<<31)) - 0.5
		}
		out[i] = vec
	}
	return out, nil
}
