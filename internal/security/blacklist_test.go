package security

import (
	"path/filepath"
	"testing"
	"time"
)

func TestBlacklist_AddContainsPrune(t *testing.T) {
	bl, err := NewBlacklist("")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	if err := bl.Add("j1", "a1", "logout", now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if !bl.Contains("j1") {
		t.Error("j1 should be revoked")
	}
	if bl.Contains("j2") {
		t.Error("j2 was never revoked")
	}
	if removed := bl.Prune(now.Add(2 * time.Hour)); removed != 1 {
		t.Errorf("pruned %d, want 1", removed)
	}
	if bl.Contains("j1") {
		t.Error("j1 survives prune past natural expiry")
	}
}

func TestBlacklist_ExpiredEntryNotContained(t *testing.T) {
	bl, _ := NewBlacklist("")
	past := time.Now().UTC().Add(-time.Minute)
	_ = bl.Add("j1", "a1", "logout", past)
	if bl.Contains("j1") {
		t.Error("entry past natural expiry should read as not revoked")
	}
}

func TestBlacklist_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "revocations.json")
	bl, err := NewBlacklist(path)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	_ = bl.Add("live", "a1", "logout", now.Add(time.Hour))
	_ = bl.Add("dead", "a1", "logout", now.Add(-time.Hour))

	reopened, err := NewBlacklist(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reopened.Contains("live") {
		t.Error("live revocation lost across restart")
	}
	if reopened.Len() != 1 {
		t.Errorf("expired entry not dropped on load: len = %d", reopened.Len())
	}
}
