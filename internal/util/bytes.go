package util

// WipeBytes zeroes key material once it is no longer needed. Long-lived
// secrets live in memguard enclaves instead.
func WipeBytes(bufs ...[]byte) {
	for _, b := range bufs {
		clear(b)
	}
}
