package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fortgate/internal/dataType"
)

const sampleHostFile = `
app_id: 42
token_expiration_hours: 12
rules:
  - id: 1
    name: "log admin"
    action: 3
    priority: 50
    enabled: true
    conditions:
      - field: 13
        operator: 7
        value: "/admin"
  - id: 2
    name: "block bots"
    action: 2
    priority: 0
    enabled: true
    conditions:
      - field: 9
        operator: 3
        value: "badbot"
  - id: 3
    name: "disabled rule"
    action: 2
    priority: 1
    enabled: false
    conditions:
      - field: 7
        operator: 1
        value: "GET"
`

func writeHostFile(t *testing.T, dir, host, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, host+".yml"), []byte(content), 0644); err != nil {
		t.Fatalf("write host file: %v", err)
	}
}

func TestFileRepositoryFetchRules(t *testing.T) {
	dir := t.TempDir()
	writeHostFile(t, dir, "test.com", sampleHostFile)
	repo := NewFileRepository(dir)

	got, err := repo.FetchRules("test.com")
	if err != nil {
		t.Fatalf("FetchRules() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("FetchRules() returned %d rules, want 2 enabled", len(got))
	}
	if got[0].ID != 2 || got[1].ID != 1 {
		t.Errorf("rules not sorted by priority: got ids %d, %d", got[0].ID, got[1].ID)
	}
	if got[0].AppID != 42 {
		t.Errorf("rule app id = %d, want host app id 42", got[0].AppID)
	}
	if got[0].Action != dataType.ActionBlock {
		t.Errorf("rule action = %v, want ActionBlock", got[0].Action)
	}
	if len(got[0].Conditions) != 1 || got[0].Conditions[0].Operator != dataType.OpContains {
		t.Errorf("conditions not decoded: %+v", got[0].Conditions)
	}
}

func TestFileRepositoryMissingHost(t *testing.T) {
	repo := NewFileRepository(t.TempDir())

	got, err := repo.FetchRules("unknown.example")
	if err != nil {
		t.Fatalf("FetchRules() for a missing host error = %v, want nil", err)
	}
	if len(got) != 0 {
		t.Errorf("FetchRules() = %d rules, want empty set", len(got))
	}

	settings, err := repo.Settings("unknown.example")
	if err != nil {
		t.Fatalf("Settings() for a missing host error = %v, want nil", err)
	}
	if settings.TokenExpirationHours != DefaultTokenExpirationHours {
		t.Errorf("TokenExpirationHours = %d, want default %d", settings.TokenExpirationHours, DefaultTokenExpirationHours)
	}
}

func TestFileRepositorySettings(t *testing.T) {
	dir := t.TempDir()
	writeHostFile(t, dir, "test.com", sampleHostFile)
	repo := NewFileRepository(dir)

	settings, err := repo.Settings("test.com")
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	if settings.AppID != 42 || settings.TokenExpirationHours != 12 {
		t.Errorf("Settings() = %+v, want app 42 expiry 12", settings)
	}
}

func TestFileRepositoryMalformedYaml(t *testing.T) {
	dir := t.TempDir()
	writeHostFile(t, dir, "bad.com", "rules: [not: valid: yaml")
	repo := NewFileRepository(dir)

	if _, err := repo.FetchRules("bad.com"); err == nil {
		t.Error("FetchRules() on malformed yaml succeeded, want error")
	}
}

func TestFileRepositoryHostSanitization(t *testing.T) {
	dir := t.TempDir()
	repo := NewFileRepository(dir)

	// a traversal-shaped host must stay inside the rules dir
	got, err := repo.FetchRules("../../etc/passwd")
	if err != nil {
		t.Fatalf("FetchRules() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("FetchRules() = %d rules for a hostile host, want 0", len(got))
	}
}

type flakyRepo struct {
	rules []dataType.Rule
	fail  bool
	calls int
}

func (f *flakyRepo) FetchRules(host string) ([]dataType.Rule, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("store down")
	}
	return f.rules, nil
}

func (f *flakyRepo) Settings(host string) (dataType.HostSettings, error) {
	if f.fail {
		return dataType.HostSettings{}, errors.New("store down")
	}
	return dataType.HostSettings{AppID: 1, TokenExpirationHours: 24}, nil
}

func TestCachedRepositoryServesFromCache(t *testing.T) {
	inner := &flakyRepo{rules: []dataType.Rule{{ID: 1, Enabled: true}}}
	cached := NewCachedRepository(inner, time.Hour)
	defer cached.Stop()

	for i := 0; i < 3; i++ {
		if _, err := cached.FetchRules("test.com"); err != nil {
			t.Fatalf("FetchRules() error = %v", err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner repository called %d times, want 1 within the TTL", inner.calls)
	}
}

func TestCachedRepositoryStaleBeatsBroken(t *testing.T) {
	inner := &flakyRepo{rules: []dataType.Rule{{ID: 1, Enabled: true}}}
	cached := NewCachedRepository(inner, time.Nanosecond)
	defer cached.Stop()

	if _, err := cached.FetchRules("test.com"); err != nil {
		t.Fatalf("initial FetchRules() error = %v", err)
	}

	inner.fail = true
	time.Sleep(time.Millisecond)
	got, err := cached.FetchRules("test.com")
	if err != nil {
		t.Fatalf("FetchRules() with a broken store error = %v, want stale answer", err)
	}
	if len(got) != 1 || got[0].ID != 1 {
		t.Errorf("stale answer = %+v, want the cached rule set", got)
	}
}

func TestCachedRepositoryInvalidate(t *testing.T) {
	inner := &flakyRepo{rules: []dataType.Rule{{ID: 1, Enabled: true}}}
	cached := NewCachedRepository(inner, time.Hour)
	defer cached.Stop()

	if _, err := cached.FetchRules("test.com"); err != nil {
		t.Fatalf("FetchRules() error = %v", err)
	}
	cached.Invalidate("test.com")
	if _, err := cached.FetchRules("test.com"); err != nil {
		t.Fatalf("FetchRules() after Invalidate error = %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner repository called %d times, want a refetch after Invalidate", inner.calls)
	}
}

func TestCachedRepositoryErrorWithoutCache(t *testing.T) {
	inner := &flakyRepo{fail: true}
	cached := NewCachedRepository(inner, time.Hour)
	defer cached.Stop()

	if _, err := cached.FetchRules("test.com"); err == nil {
		t.Error("FetchRules() with no cached entry and a broken store succeeded, want error")
	}
	settings, err := cached.Settings("test.com")
	if err == nil {
		t.Error("Settings() with a broken store succeeded, want error")
	}
	if settings.TokenExpirationHours != DefaultTokenExpirationHours {
		t.Errorf("fallback settings = %+v, want default expiry", settings)
	}
}

func TestCachedRepositoryWatchInvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	writeHostFile(t, dir, "test.com", sampleHostFile)
	inner := NewFileRepository(dir)
	cached := NewCachedRepository(inner, time.Hour)
	defer cached.Stop()

	if err := cached.Watch(dir); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	got, err := cached.FetchRules("test.com")
	if err != nil || len(got) != 2 {
		t.Fatalf("initial FetchRules() = %d rules, err %v", len(got), err)
	}

	writeHostFile(t, dir, "test.com", "app_id: 42\nrules: []\n")

	// the watcher delivers asynchronously; poll until the cache drops
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err = cached.FetchRules("test.com")
		if err == nil && len(got) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("cache not invalidated after file change: still %d rules", len(got))
}

func TestCachedRepositorySharesEntryAcrossHostSpellings(t *testing.T) {
	inner := &flakyRepo{rules: []dataType.Rule{{ID: 1, Enabled: true}}}
	cached := NewCachedRepository(inner, time.Hour)
	defer cached.Stop()

	if _, err := cached.FetchRules("Test.com"); err != nil {
		t.Fatalf("FetchRules() error = %v", err)
	}
	if _, err := cached.FetchRules("test.com"); err != nil {
		t.Fatalf("FetchRules() error = %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("inner repository called %d times, want one shared entry per host file", inner.calls)
	}

	// the watcher reports the lowercase file stem; that must drop the
	// entry the mixed-case caller populated
	cached.Invalidate("test.com")
	if _, err := cached.FetchRules("Test.com"); err != nil {
		t.Fatalf("FetchRules() after Invalidate error = %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner repository called %d times, want a refetch after Invalidate", inner.calls)
	}
}

func TestCachedRepositoryWatchInvalidatesMixedCaseHost(t *testing.T) {
	dir := t.TempDir()
	writeHostFile(t, dir, "test.com", sampleHostFile)
	inner := NewFileRepository(dir)
	cached := NewCachedRepository(inner, time.Hour)
	defer cached.Stop()

	if err := cached.Watch(dir); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	got, err := cached.FetchRules("Test.com")
	if err != nil || len(got) != 2 {
		t.Fatalf("initial FetchRules() = %d rules, err %v", len(got), err)
	}

	writeHostFile(t, dir, "test.com", "app_id: 42\nrules: []\n")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err = cached.FetchRules("Test.com")
		if err == nil && len(got) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("mixed-case entry not invalidated after file change: still %d rules", len(got))
}
