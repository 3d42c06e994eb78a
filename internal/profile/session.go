// Package profile implements the Nexus Profile Oracle: read-only,
// batch-indexed latency/memory tables for a (GPU, model) pair, plus the
// ModelSession identity that profiles are looked up by.
package profile

import "fmt"

// ModelSession identifies a specific served model deployment. Two sessions
// are equal iff all fields are equal; since every field is a comparable
// scalar, Go's built-in == already implements that invariant.
type ModelSession struct {
	Framework   string
	ModelName   string
	Version     uint32
	LatencySLA  uint32 // milliseconds
	ImageHeight uint32 // 0 means unset
	ImageWidth  uint32 // 0 means unset
}

// ID derives the ProfileID string that profiles are keyed by:
// "<framework>:<model_name>:<version>[:<H>x<W>]".
func (s ModelSession) ID() ProfileID {
	if s.ImageHeight > 0 || s.ImageWidth > 0 {
		return ProfileID(fmt.Sprintf("%s:%s:%d:%dx%d", s.Framework, s.ModelName, s.Version, s.ImageHeight, s.ImageWidth))
	}
	return ProfileID(fmt.Sprintf("%s:%s:%d", s.Framework, s.ModelName, s.Version))
}

// ProfileID is the string a Profile is keyed by within a given GPU device.
type ProfileID string
