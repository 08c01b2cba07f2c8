package agentkind

import "testing"

func TestLookupKnownKinds(t *testing.T) {
	cases := []struct {
		name    string
		command string
	}{
		{"claude-code", "claude-code-acp"},
		{"gemini", "gemini"},
		{"opencode", "opencode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec, ok := Lookup(tc.name)
			if !ok {
				t.Fatalf("Lookup(%q) not found", tc.name)
			}
			if spec.Command != tc.command {
				t.Errorf("Command = %q, want %q", spec.Command, tc.command)
			}
		})
	}
}

func TestLookupUnknownKind(t *testing.T) {
	if _, ok := Lookup("no-such-agent"); ok {
		t.Fatal("Lookup of unknown kind should return ok=false")
	}
}

func TestAllMatchesRegistry(t *testing.T) {
	for _, k := range All() {
		if _, ok := Lookup(string(k)); !ok {
			t.Errorf("kind %q from All() not resolvable via Lookup", k)
		}
	}
}
