// Package generation defines the boundary between the dispatch pipeline and
// external language models. A Generator streams text deltas for a conversation;
// concrete bindings for Gemini, Anthropic, and OpenAI live under
// internal/platform, and a deterministic stub is provided for tests and
// offline operation.
package generation
