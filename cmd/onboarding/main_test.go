package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ONBOARD_CONFIG", "")
	t.Setenv("ONBOARD_LOG_LEVEL", "error")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestProvisionCommand(t *testing.T) {
	out, err := execute(t, "provision",
		"--role", "ambassador",
		"--email", "amb@example.com",
		"--password", "Str0ng!",
		"--first-name", "Ama",
		"--last-name", "Owusu",
		"--phone", "+233200000000",
		"--tg", "ama_o",
		"--country", "Ghana",
	)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !strings.Contains(out, "Ambassador created successfully") || !strings.Contains(out, `"principalId"`) {
		t.Errorf("output = %s", out)
	}
}

func TestProvisionCommandReportsFieldErrors(t *testing.T) {
	_, err := execute(t, "provision", "--role", "customer", "--email", "not-an-email")
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"invalid_argument", "email:", "password:"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestProvisionCommandRequiresRole(t *testing.T) {
	if _, err := execute(t, "provision", "--email", "a@b.com"); err == nil {
		t.Fatal("expected missing --role error")
	}
}

func TestOrphansCommandEmpty(t *testing.T) {
	out, err := execute(t, "orphans", "--min-age", "1s")
	if err != nil {
		t.Fatalf("orphans: %v", err)
	}
	if !strings.Contains(out, "no orphaned identities") {
		t.Errorf("output = %s", out)
	}
}

func TestReconcileCommandNeedsPrincipal(t *testing.T) {
	if _, err := execute(t, "reconcile"); err == nil {
		t.Fatal("expected argument error")
	}
}

func TestConfigValidate(t *testing.T) {
	out, err := execute(t, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	for _, want := range []string{"config ok", "identity.backend", "memory", "Venezuela"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigValidateRejectsBadBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("identity:\n  backend: ldap\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := execute(t, "--config", path, "config", "validate")
	if err == nil || !strings.Contains(err.Error(), "identity.backend") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()

	if err := loadEnvFile(filepath.Join(dir, ".env"), false); err != nil {
		t.Errorf("missing default file: %v", err)
	}
	if err := loadEnvFile(filepath.Join(dir, "missing.env"), true); err == nil {
		t.Error("missing explicit file should fail")
	}

	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("ONBOARD_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("ONBOARD_TEST_DOTENV") })
	if err := loadEnvFile(path, true); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("ONBOARD_TEST_DOTENV"); got != "loaded" {
		t.Errorf("ONBOARD_TEST_DOTENV = %q", got)
	}
}
