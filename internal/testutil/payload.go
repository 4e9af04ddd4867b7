package testutil

import "math/rand/v2"

// Payload returns n pseudo-random bytes derived from seed.
//
// The same (n, seed) pair always yields the same bytes, so uploads built from
// it can be compared byte for byte after consolidation or a restart.
func Payload(n int, seed uint64) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(r.Uint32())
	}
	return out
}

// Split cuts data into chunks of at most size bytes. The last chunk may be
// shorter. Empty data yields no chunks.
func Split(data []byte, size int) [][]byte {
	if size <= 0 {
		panic("testutil: split size must be positive")
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

// Permutation returns a seeded shuffle of 0..n-1, used to deliver parallel
// chunks out of order.
func Permutation(n int, seed uint64) []int {
	r := rand.New(rand.NewPCG(seed, ^seed))
	return r.Perm(n)
}
