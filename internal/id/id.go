package id

import "github.com/google/uuid"

// New returns a random (v4) UUID string used for jobs and stored objects.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s is a UUID as produced by New.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
