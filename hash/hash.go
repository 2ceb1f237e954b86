// Package hash implements the fast modular hash used to fold tokens into a fixed id space
package hash

// Hash mixes n with salt s and reduces the result into the range 0..max-1.
// Hash returns 0 when max is 0.
func Hash(n uint32, s uint32, max uint32) uint32 {
	var m = n - s

	// xor shift with prime coefficients
	m ^= m << 2
	m ^= m << 3
	m ^= m >> 5
	m ^= m >> 7
	m ^= m << 11
	m ^= m << 13
	m ^= m >> 17
	m ^= m << 19

	m += s

	// multiply shift reduction instead of modulo
	// https://lemire.me/blog/2016/06/27/a-fast-alternative-to-the-modulo-reduction/
	return uint32((uint64(m) * uint64(max)) >> 32)
}

// Rune folds a single rune into 0..max-1.
func Rune(r rune, salt uint32, max uint32) uint32 {
	return Hash(uint32(r), salt, max)
}

// Uint folds an integer id (for example a byte pair encoding id) into 0..max-1.
func Uint(id int, salt uint32, max uint32) uint32 {
	var lo = Hash(uint32(id), salt, 0xFFFFFFFF)
	var hi = uint32(uint64(id) >> 32)
	return Hash(lo^hi, salt, max)
}
