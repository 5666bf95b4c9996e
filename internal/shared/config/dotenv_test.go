package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFilesKeepsProcessEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local\nDOCSTORE_TEST_PORT=9999\nexport DOCSTORE_TEST_BUCKET='uploads'\nDOCSTORE_TEST_REGION=eu-west-1 # comment\nnot a pair\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("DOCSTORE_TEST_PORT", "8080")
	t.Setenv("DOCSTORE_TEST_BUCKET", "")
	os.Unsetenv("DOCSTORE_TEST_BUCKET")
	t.Setenv("DOCSTORE_TEST_REGION", "")
	os.Unsetenv("DOCSTORE_TEST_REGION")

	loadEnvFiles(filepath.Join(dir, "missing.env"), path)

	if got := os.Getenv("DOCSTORE_TEST_PORT"); got != "8080" {
		t.Fatalf("env file overrode process env: got %q", got)
	}
	if got := os.Getenv("DOCSTORE_TEST_BUCKET"); got != "uploads" {
		t.Fatalf("expected quoted export value, got %q", got)
	}
	if got := os.Getenv("DOCSTORE_TEST_REGION"); got != "eu-west-1" {
		t.Fatalf("expected inline comment stripped, got %q", got)
	}
}

func TestParseEnvLine(t *testing.T) {
	cases := []struct {
		line string
		key  string
		val  string
		ok   bool
	}{
		{line: "A=1", key: "A", val: "1", ok: true},
		{line: `B="x # y"`, key: "B", val: "x # y", ok: true},
		{line: "  # nope", ok: false},
		{line: "=value", ok: false},
		{line: "NOEQUALS", ok: false},
		{line: "export C=", key: "C", val: "", ok: true},
	}
	for _, tc := range cases {
		key, val, ok := parseEnvLine(tc.line)
		if ok != tc.ok || key != tc.key || val != tc.val {
			t.Fatalf("parseEnvLine(%q) = (%q, %q, %v), want (%q, %q, %v)", tc.line, key, val, ok, tc.key, tc.val, tc.ok)
		}
	}
}
