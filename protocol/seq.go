package protocol

// distance computes the signed 8-bit displacement of a from b: positive
// when a is ahead of b in sequence order, negative when behind, zero when
// equal. Wraparound at the 0/255 boundary falls out of the int8
// conversion for free, matching spec.md §4.5.4.
func distance(a, b uint8) int8 {
	return int8(a - b)
}

// isAfter reports whether a follows b in sequence order.
func isAfter(a, b uint8) bool {
	return distance(a, b) > 0
}
