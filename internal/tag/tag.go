// +build !debug

// Package tag exposes a compile-time switch for expensive runtime checks.
// Build with `-tags debug` to turn Debug on.
package tag

const Debug = false
