package app

import "testing"

func TestGenerateJoinCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := GenerateJoinCode(DefaultJoinCodeLength)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != DefaultJoinCodeLength || !ValidJoinCode(code) {
			t.Fatalf("invalid code %q", code)
		}
		seen[code] = true
	}
	if len(seen) < 190 {
		t.Fatalf("suspiciously few distinct codes: %d", len(seen))
	}
	if ValidJoinCode("ABC1O0") {
		t.Fatalf("ambiguous characters must be rejected")
	}
}
