package room

// Key derives the room name for a two-party conversation. The key is
// symmetric: Key(a, b) == Key(b, a), so both participants' independently
// opened connections land in the same group regardless of who initiated.
func Key(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "chat:" + a + ":" + b
}
