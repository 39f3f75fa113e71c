// Package config handles configuration loading, parsing, and validation
// from defaults, an optional YAML file, and PARLEY_* environment variables.
// It provides type-safe access to the settings needed by the queue, cache,
// actor, and generation components.
package config
