package domain

import (
	"testing"
	"time"
)

func TestBranchStateTransitions(t *testing.T) {
	cases := []struct {
		from, to BranchState
		ok       bool
	}{
		{BranchStateRequested, BranchStateProvisioning, true},
		{BranchStateRequested, BranchStateError, true},
		{BranchStateProvisioning, BranchStateActive, true},
		{BranchStateProvisioning, BranchStateError, true},
		{BranchStateActive, BranchStateSuspended, true},
		{BranchStateSuspended, BranchStateActive, true},
		{BranchStateActive, BranchStateExpiring, true},
		{BranchStateSuspended, BranchStateExpiring, true},
		{BranchStateExpiring, BranchStateDeleted, true},
		{BranchStateActive, BranchStateDeleted, true},
		{BranchStateSuspended, BranchStateDeleted, true},
		{BranchStateRequested, BranchStateActive, false},
		{BranchStateDeleted, BranchStateActive, false},
		{BranchStateError, BranchStateActive, false},
		{BranchStateExpiring, BranchStateActive, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestBranchStateTerminal(t *testing.T) {
	if !BranchStateDeleted.Terminal() {
		t.Fatalf("deleted should be terminal")
	}
	if !BranchStateError.Terminal() {
		t.Fatalf("error should be terminal")
	}
	if BranchStateSuspended.Terminal() {
		t.Fatalf("suspended should not be terminal")
	}
}

func TestBranchValidate(t *testing.T) {
	b := Branch{Name: "ci-pr-42", ProjectID: "p1", Parent: "main", State: BranchStateActive}
	if err := b.Validate(); err != nil {
		t.Fatalf("valid branch: %v", err)
	}

	b.Parent = ""
	if err := b.Validate(); err == nil {
		t.Fatalf("non-default branch without parent should fail")
	}
	b.Default = true
	if err := b.Validate(); err != nil {
		t.Fatalf("default branch without parent: %v", err)
	}

	b.TTL = -time.Hour
	if err := b.Validate(); err == nil {
		t.Fatalf("negative ttl should fail")
	}
}

func TestBranchExpiresWithin(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	b := Branch{Name: "n", ProjectID: "p", Default: true}
	if b.ExpiresWithin(time.Hour, now) {
		t.Fatalf("no expiry deadline should never report expiring")
	}
	deadline := now.Add(30 * time.Minute)
	b.ExpiresAt = &deadline
	if !b.ExpiresWithin(time.Hour, now) {
		t.Fatalf("deadline inside window should report expiring")
	}
	if b.ExpiresWithin(10*time.Minute, now) {
		t.Fatalf("deadline outside window should not report expiring")
	}
}
