package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/skippy/island-grown/internal/config"
	"github.com/skippy/island-grown/internal/httpapi"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func writeTestConfig(test *testing.T) string {
	test.Helper()
	directory := test.TempDir()
	contents := `
env: development
log_level: warn
stripe_api_key: sk_test_123
stripe_webhook_secret: whsec_auth
base_funding_amt: 150
spending_limit_interval: all_time
refill_trigger_percent: 0.75
refill_amts: [75, 50]
approved_postal_codes: ["98261"]
approved_vendors:
  - name: SQ *LUM FARM LLC
    postal_code: "98245"
notifications:
  channel: log
journal:
  database_url: sqlite://` + filepath.Join(directory, "journal.db") + `
operator:
  jwt_signing_key: ` + testSigningKey + `
  jwt_issuer: island-grown
`
	path := filepath.Join(directory, "app_configs.yml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		test.Fatalf("write config: %v", err)
	}
	return path
}

func execute(test *testing.T, args ...string) (string, error) {
	test.Helper()
	cmd := newRootCommand()
	var output bytes.Buffer
	cmd.SetOut(&output)
	cmd.SetErr(&output)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return output.String(), err
}

func TestRootCommandRegistersSubcommands(test *testing.T) {
	test.Parallel()
	cmd := newRootCommand()
	want := []string{"serve", "recompute", "reset", "history", "operator-token"}
	for _, name := range want {
		found, _, err := cmd.Find([]string{name})
		if err != nil || found.Name() != name {
			test.Fatalf("expected subcommand %q, got %v (%v)", name, found, err)
		}
	}
}

func TestOperatorTokenCommandIssuesVerifiableToken(test *testing.T) {
	test.Parallel()
	output, err := execute(test, "--config", writeTestConfig(test), "operator-token", "--subject", "ops@example.com", "--ttl", "5m")
	if err != nil {
		test.Fatalf("operator-token: %v", err)
	}
	auth, err := httpapi.NewOperatorAuth(testSigningKey, "island-grown", time.Now)
	if err != nil {
		test.Fatalf("auth: %v", err)
	}
	subject, err := auth.Verify(strings.TrimSpace(output))
	if err != nil || subject != "ops@example.com" {
		test.Fatalf("expected verifiable token, got subject=%q err=%v", subject, err)
	}
}

func TestHistoryCommandReadsJournal(test *testing.T) {
	test.Parallel()
	output, err := execute(test, "--config", writeTestConfig(test), "history", "--kind", "reset")
	if err != nil {
		test.Fatalf("history: %v", err)
	}
	if strings.TrimSpace(output) != "[]" {
		test.Fatalf("expected empty history, got %q", output)
	}
}

func TestHistoryCommandRejectsNonPositiveLimit(test *testing.T) {
	test.Parallel()
	_, err := execute(test, "--config", writeTestConfig(test), "history", "--limit", "0")
	if !errors.Is(err, errInvalidFlag) {
		test.Fatalf("expected errInvalidFlag, got %v", err)
	}
}

func TestRecomputeCommandRejectsInvalidEmail(test *testing.T) {
	test.Parallel()
	_, err := execute(test, "--config", writeTestConfig(test), "recompute", "--email", "farmer-at-example")
	if !errors.Is(err, errInvalidFlag) {
		test.Fatalf("expected errInvalidFlag, got %v", err)
	}
}

func TestMissingExplicitConfigFails(test *testing.T) {
	test.Parallel()
	_, err := execute(test, "--config", filepath.Join(test.TempDir(), "absent.yml"), "operator-token")
	if err == nil {
		test.Fatalf("expected error for a missing explicit config")
	}
}

func TestNewLogger(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{name: "development", cfg: config.Config{Env: "development", LogLevel: "debug"}},
		{name: "production", cfg: config.Config{Env: config.EnvProduction, LogLevel: "info"}},
		{name: "bad level", cfg: config.Config{LogLevel: "chatty"}, wantErr: true},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			logger, err := newLogger(testCase.cfg)
			if testCase.wantErr {
				if !errors.Is(err, errInvalidFlag) {
					test.Fatalf("expected errInvalidFlag, got %v", err)
				}
				return
			}
			if err != nil || logger == nil {
				test.Fatalf("expected logger, got %v", err)
			}
		})
	}
}
