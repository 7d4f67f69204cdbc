package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"crm-calls/internal/audit"
	"crm-calls/internal/auth"
	"crm-calls/internal/backfill"
	"crm-calls/internal/config"
	"crm-calls/internal/leads"
	"crm-calls/internal/store"
)

func testConfig() config.Config {
	return config.Config{
		App:   config.AppConfig{Env: "local"},
		Store: config.StoreConfig{Driver: config.StoreDriverMemory},
		Auth: config.AuthConfig{
			JWTSecret:       "test-secret",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: time.Hour,
		},
		Retell: config.RetellConfig{PhoneRegion: "US"},
	}
}

func testEnv() *env {
	e := defaultEnv()
	e.loadConfig = func() (config.Config, error) { return testConfig(), nil }
	return e
}

func execute(t *testing.T, e *env, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd("test", e)
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestNewRootCmd_HasSubcommands(t *testing.T) {
	root := NewRootCmd("1.2.3")
	if root.Version != "1.2.3" {
		t.Errorf("Version: got %q", root.Version)
	}
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"migrate", "backfill-call-logs", "token", "lead"} {
		if !names[want] {
			t.Errorf("expected subcommand %q", want)
		}
	}
}

func TestToken_IssuesVerifiableAccessToken(t *testing.T) {
	out, err := execute(t, testEnv(), "token", "--user", "u1", "--role", "admin")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	var access string
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "access_token="); ok {
			access = v
		}
	}
	if access == "" {
		t.Fatalf("no access token in output:\n%s", out)
	}

	m, err := auth.NewManager(testConfig().Auth)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	claims, err := m.Verify(access, auth.TokenTypeAccess, time.Now())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "u1" || claims.Role != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestToken_RejectsUnknownRole(t *testing.T) {
	if _, err := execute(t, testEnv(), "token", "--user", "u1", "--role", "root"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLeadCreate_NormalizesPhone(t *testing.T) {
	out, err := execute(t, testEnv(), "lead", "create", "--name", "Ada", "--owner", "u1", "--phone", "(415) 555-0123")
	if err != nil {
		t.Fatalf("lead create: %v", err)
	}
	var l leads.Lead
	if err := json.Unmarshal([]byte(out), &l); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if l.ID == "" || l.Phone != "+14155550123" || l.Status != leads.LeadStatusUntouched {
		t.Fatalf("unexpected lead: %+v", l)
	}
}

func TestBackfill_DryRunReport(t *testing.T) {
	out, err := execute(t, testEnv(), "backfill-call-logs", "--dry-run")
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	var rep backfill.Report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if !rep.DryRun || rep.LeadsScanned != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
}

func TestMigrate_RequiresPostgres(t *testing.T) {
	_, err := execute(t, testEnv(), "migrate", "up")
	if err == nil || !strings.Contains(err.Error(), "STORE_DRIVER=postgres") {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestLeadCreate_ValidatesFlags(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{[]string{"--name", "Ada"}, "--owner is required"},
		{[]string{"--owner", "u1"}, "--name is required"},
		{[]string{"--name", "Ada", "--owner", "u1", "--email", "not-an-email"}, "--email is not a valid email"},
		{[]string{"--name", "Ada", "--owner", "u1", "--phone", "12"}, "--phone is not a valid phone_e164"},
	}
	for _, tc := range cases {
		_, err := execute(t, testEnv(), append([]string{"lead", "create"}, tc.args...)...)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("args %v: expected %q, got %v", tc.args, tc.want, err)
		}
	}
}

func TestLeadSetStatus(t *testing.T) {
	repo := leads.NewMemoryRepo()
	e := testEnv()
	e.openStore = func(context.Context, config.Config, *slog.Logger, store.Options) (*store.Store, error) {
		return &store.Store{Leads: repo, Audit: audit.NewMemoryRepo()}, nil
	}
	l, err := repo.CreateLead(context.Background(), leads.Lead{OwnerID: "u1", Name: "Ada"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	out, err := execute(t, e, "lead", "set-status", "--id", l.ID, "--status", "Do Not Contact")
	if err != nil {
		t.Fatalf("set-status: %v", err)
	}
	if !strings.Contains(out, "status=Do Not Contact") {
		t.Fatalf("unexpected output: %q", out)
	}
	got, _ := repo.GetLead(context.Background(), l.ID)
	if got.Status != leads.LeadStatusDoNotContact {
		t.Fatalf("expected status written, got %s", got.Status)
	}

	if _, err := execute(t, e, "lead", "set-status", "--id", l.ID, "--status", "Hot"); err == nil {
		t.Fatalf("expected unknown status rejected")
	}
	if _, err := execute(t, e, "lead", "set-status", "--status", "HPL"); err == nil || !strings.Contains(err.Error(), "--id is required") {
		t.Fatalf("expected missing id error, got %v", err)
	}
	if _, err := execute(t, e, "lead", "set-status", "--id", "00000000-0000-0000-0000-000000000000", "--status", "HPL"); err == nil {
		t.Fatalf("expected error for unknown lead")
	}
}
