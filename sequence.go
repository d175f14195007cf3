package protocol2

// Sequence numbers are 16 bit and wrap. Ordering is defined by the signed
// half-range comparison, so 0 is newer than 65535.

func GreaterThan(s1, s2 uint16) bool {
	return ((s1 > s2) && (s1-s2 <= 32768)) || ((s1 < s2) && (s2-s1 > 32768))
}

func LessThan(s1, s2 uint16) bool {
	return GreaterThan(s2, s1)
}

// Difference returns the signed distance from s2 to s1.
func Difference(s1, s2 uint16) int {
	return int(int16(s1 - s2))
}
