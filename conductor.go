// Package conductor orchestrates the real-time vs batch analytics demo:
// it supervises the external producer, streaming, batch and comparison
// processes and the docker-compose cluster they depend on.
package conductor

// Version is the conductor release version.
const Version = "0.2.0"
