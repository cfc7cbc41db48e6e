package schemaindex

import (
	"context"
	"hash/maphash"
	"math"
	"strings"
)

// HashEncoder is a deterministic local stand-in for a real embedding
// model (spec §1 treats the embedding model as an opaque out-of-scope
// `Encoder` dependency — see DESIGN.md for why no third-party library is
// wired in here). It hashes each whitespace-separated token of the input
// with the encoder's seed and spreads the bytes of each 64-bit hash over
// the vector's components, giving two equal inputs an identical vector
// from the same encoder and unrelated inputs very different ones, without
// pulling in a model runtime.
type HashEncoder struct {
	dim  int
	seed maphash.Seed
}

// NewHashEncoder builds a deterministic encoder producing dim-dimensional
// vectors. Each encoder draws its own random seed once, so repeated Embed
// calls on it for the same text return the same vector; vectors from two
// different encoders are not comparable.
func NewHashEncoder(dim int) *HashEncoder {
	return &HashEncoder{dim: dim, seed: maphash.MakeSeed()}
}

// Dim reports the embedding dimension.
func (e *HashEncoder) Dim() int { return e.dim }

// Embed deterministically hashes text into a dim-dimensional float32
// vector. Tokens are whitespace-separated, matching the vectorisation
// input shape spec §4.9 constructs (field names, "type:<t>", "source:<s>",
// "geometry:<g>").
func (e *HashEncoder) Embed(_ context.Context, text string) ([]float32, error) {
	out := make([]float32, e.dim)
	for _, tok := range strings.Fields(text) {
		var h maphash.Hash
		h.SetSeed(e.seed)
		_, _ = h.WriteString(tok)
		sum := h.Sum64()
		for i := range out {
			shift := uint(8 * (i % 8))
			b := byte(sum >> shift)
			out[i] += (float32(b) - 127.5) / 127.5
		}
	}
	return normalize(out), nil
}

func normalize(v []float32) []float32 {
	var sumSq float32
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(math.Sqrt(float64(sumSq)))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
