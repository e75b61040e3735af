package ports

// Random is a source of random bytes, used for profile file names and
// connection identifiers.
type Random interface {
	Read(b []byte) (n int, err error)
}
