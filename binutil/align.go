package binutil

// AlignTo rounds v up to a multiple of a, which must be a power of two.
// A zero alignment leaves v unchanged.
func AlignTo(v, a uint32) uint32 {
	if a == 0 {
		return v
	}
	return (v + a - 1) &^ (a - 1)
}
