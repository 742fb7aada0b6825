package services

import (
	"context"
	"errors"
	"testing"

	careline_errors "careline-chat/pkg/errors"
)

func TestUpdateStatus_RejectsUnknownStatus(t *testing.T) {
	env := newTestEnv(t)
	alice := seedUser(t, env.db, "alice")

	_, err := env.presenceService.UpdateStatus(context.Background(), alice.ID, "invisible")
	if !errors.Is(err, careline_errors.ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestUpdateStatus_OnlyOnlineCountsAsOnline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")

	for status, wantOnline := range map[string]bool{
		"online":  true,
		"away":    false,
		"busy":    false,
		"offline": false,
	} {
		p, err := env.presenceService.UpdateStatus(ctx, alice.ID, status)
		if err != nil {
			t.Fatalf("%s: %v", status, err)
		}
		if p.IsOnline != wantOnline {
			t.Fatalf("%s: isOnline=%v, want %v", status, p.IsOnline, wantOnline)
		}
	}
}

func TestSetOnlineOffline_RowLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := seedUser(t, env.db, "alice")

	if err := env.presenceService.SetOnline(ctx, alice.ID, "conn-1"); err != nil {
		t.Fatalf("set online: %v", err)
	}
	p, err := env.presenceService.Get(ctx, alice.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !p.IsOnline || !p.ConnectionID.Valid || p.ConnectionID.String != "conn-1" {
		t.Fatalf("after online: %+v", p)
	}

	if err := env.presenceService.SetOffline(ctx, alice.ID, "conn-1"); err != nil {
		t.Fatalf("set offline: %v", err)
	}
	p, err = env.presenceService.Get(ctx, alice.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.IsOnline {
		t.Fatal("still online after last disconnect")
	}
	if p.LastSeen.IsZero() {
		t.Fatal("lastSeen not recorded")
	}
}

func TestGet_UnknownUserReadsOffline(t *testing.T) {
	env := newTestEnv(t)
	bob := seedUser(t, env.db, "bob")

	p, err := env.presenceService.Get(context.Background(), bob.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.IsOnline {
		t.Fatal("missing row must read as offline")
	}
}
