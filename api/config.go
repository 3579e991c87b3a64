// Package api provides the HTTP API server for storing and querying memories.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8081")
	ListenAddr string

	// DefaultUser is the user namespace applied when a request carries no
	// X-Memento-User header.
	DefaultUser string
}
