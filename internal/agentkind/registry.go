// Package agentkind holds the enumerated, build-time-fixed set of agent
// kinds acpmux can spawn (SPEC_FULL.md §6 "Agent registry"). Each kind names
// an executable and a fixed argument vector; the set is not extensible at
// runtime.
package agentkind

import "fmt"

// Kind identifies one of the fixed agent kinds acpmux knows how to spawn.
type Kind string

const (
	ClaudeCode Kind = "claude-code"
	Gemini     Kind = "gemini"
	OpenCode   Kind = "opencode"
)

// Spec is one registry entry: an executable name plus a fixed argument
// vector, the way opencode's genuinely-ACP-native invocation is built in the
// teacher's own agent registry.
type Spec struct {
	Kind    Kind
	Command string
	Args    []string
}

// registry is the closed, build-time set of known agent kinds. Each entry is
// the invocation that speaks ACP natively over stdio — not the passthrough/
// stream-json dialects a broader multi-protocol client would also support.
var registry = map[Kind]Spec{
	ClaudeCode: {Kind: ClaudeCode, Command: "claude-code-acp", Args: nil},
	Gemini:     {Kind: Gemini, Command: "gemini", Args: []string{"--experimental-acp"}},
	OpenCode:   {Kind: OpenCode, Command: "opencode", Args: []string{"acp"}},
}

// Lookup resolves a kind name to its Spec. The bool result is false for any
// name outside the fixed registry.
func Lookup(name string) (Spec, bool) {
	spec, ok := registry[Kind(name)]
	return spec, ok
}

// All returns every registered kind, stable order, for use in CLI help text
// and config validation.
func All() []Kind {
	return []Kind{ClaudeCode, Gemini, OpenCode}
}

// MustLookup is a convenience for call sites that already validated name
// against Lookup (e.g. from config validation) and want to avoid a second
// ok-check; it panics on an unknown kind, which should be unreachable once
// config.Load's own validation has run.
func MustLookup(name string) Spec {
	spec, ok := Lookup(name)
	if !ok {
		panic(fmt.Sprintf("agentkind: unregistered kind %q", name))
	}
	return spec
}
