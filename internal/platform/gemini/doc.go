// Package gemini provides an implementation of the generation.Generator
// interface backed by Google's Gemini API.
//
// The generator translates conversation messages into Gemini contents
// (user and model roles, with system messages folded into the system
// instruction) and streams text deltas from GenerateContentStream.
// Safety stops are reported as generation.ErrContentBlocked.
package gemini
