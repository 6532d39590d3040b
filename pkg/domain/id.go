package domain

import "github.com/tuvistavie/securerandom"

// NewID generates an opaque run/activity identifier.
func NewID() string {
	id, err := securerandom.Hex(12)
	if err != nil {
		// securerandom.Hex only fails if the OS CSPRNG is broken, a
		// condition nothing in this process can recover from.
		panic("failed to generate id: " + err.Error())
	}
	return id
}
