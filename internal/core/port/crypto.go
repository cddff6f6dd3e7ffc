package port

// Fingerprinter derives the one-way lookup key for a raw credential.
type Fingerprinter interface {
	Fingerprint(token string) string
}
