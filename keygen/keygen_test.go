package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestGenerateAndValidate(t *testing.T) {
	var out bytes.Buffer
	if code := generate(&out, "alice123"); code != 0 {
		t.Fatalf("generate: exit code %d, output %q", code, out.String())
	}
	hash := strings.TrimSpace(out.String())
	if hash == "" || hash == "alice123" {
		t.Fatalf("unexpected hash %q", hash)
	}

	out.Reset()
	if code := validate(&out, "alice123", hash); code != 0 {
		t.Errorf("validate: exit code %d, output %q", code, out.String())
	}

	out.Reset()
	if code := validate(&out, "wrong", hash); code != 1 {
		t.Errorf("validate wrong password: exit code %d", code)
	}
	if !strings.HasPrefix(out.String(), "INVALID") {
		t.Errorf("unexpected output %q", out.String())
	}
}
