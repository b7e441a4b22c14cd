package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"classifieds/internal/auth"
	"classifieds/internal/boost"
	"classifieds/internal/config"
	"classifieds/internal/scheduler"
	"classifieds/internal/types"
)

var now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// memStore is an in-memory listingStore.
type memStore struct {
	listings map[string]*types.Listing
	closed   bool
}

func (m *memStore) GetListing(_ context.Context, id string) (*types.Listing, error) {
	l, ok := m.listings[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundListing, "listing not found", nil)
	}
	return l, nil
}

func (m *memStore) QueryDue(_ context.Context, at int64, limit int) ([]types.Listing, error) {
	var out []types.Listing
	for _, l := range m.listings {
		if l.Boost == nil || !l.Boost.Active {
			continue
		}
		if l.Boost.Expired(at) || l.Boost.DueForBump(at) {
			out = append(out, *l)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) NewWriteBatch(limit int) boost.Batch {
	return &memBatch{store: m, limit: limit}
}

type memBatch struct {
	store *memStore
	limit int
	items []boost.Transition
}

func (b *memBatch) Add(t boost.Transition) error {
	if b.Full() {
		return errors.New("batch full")
	}
	b.items = append(b.items, t)
	return nil
}

func (b *memBatch) Len() int                  { return len(b.items) }
func (b *memBatch) Full() bool                { return len(b.items) >= b.limit }
func (b *memBatch) Items() []boost.Transition { return b.items }

func (b *memBatch) Commit(context.Context) error {
	for _, t := range b.items {
		rec := b.store.listings[t.ListingID].Boost
		switch t.Outcome {
		case boost.OutcomeExpire:
			rec.Active = false
			rec.NextBumpAt = nil
		case boost.OutcomeBump:
			rec.LastBumpedAt = t.LastBumpedAt
			rec.NextBumpAt = t.NextBumpAt
			rec.BumpCount++
		}
	}
	return nil
}

func testDeps(store *memStore) cliDeps {
	return cliDeps{
		loadConfig: func() (*config.Config, error) {
			return &config.Config{
				Environment: "local",
				Auth:        config.AuthConfig{JWTSecret: "local-dev-jwt-secret-at-least-32-bytes"},
				Sweep: config.SweepConfig{
					PageSize:   10,
					BatchLimit: 10,
					MaxPages:   2,
					Timeout:    time.Minute,
				},
			}, nil
		},
		openStore: func(context.Context, *config.Config, *slog.Logger) (listingStore, func(), error) {
			if store == nil {
				return nil, nil, errors.New("connection refused")
			}
			return store, func() { store.closed = true }, nil
		},
		clock:  types.FixedClock{At: now},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func execute(t *testing.T, deps cliDeps, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seededStore() *memStore {
	ms := boost.ToMillis(now)
	dueAt := ms - 1000
	return &memStore{listings: map[string]*types.Listing{
		"due": {
			ID: "due", OwnerID: "U1", Status: types.ListingApproved,
			Boost: &types.BoostRecord{
				Plan: boost.PlanDaily30d, Active: true,
				StartAt: ms - boost.DayMillis, EndAt: ms + 29*boost.DayMillis,
				LastBumpedAt: ms - boost.DayMillis, NextBumpAt: &dueAt, BumpCount: 1,
			},
		},
		"ended": {
			ID: "ended", OwnerID: "U2", Status: types.ListingApproved,
			Boost: &types.BoostRecord{
				Plan: boost.PlanOneShot3d, Active: true,
				StartAt: ms - 3*boost.DayMillis, EndAt: ms - 1,
				LastBumpedAt: ms - 3*boost.DayMillis, BumpCount: 1,
			},
		},
	}}
}

func TestScheduleCommand(t *testing.T) {
	tests := []struct {
		plan      string
		wantBumps int
		wantLines []string
	}{
		{plan: "29", wantBumps: 0, wantLines: []string{"29-3d", "2026-05-07T10:00:00Z", "next bump  -"}},
		{plan: "49-15d", wantBumps: 2, wantLines: []string{"2026-05-11T10:00:00Z", "2026-05-18T10:00:00Z", "fixed_slots"}},
		{plan: "99", wantBumps: 29, wantLines: []string{"2026-05-05T10:00:00Z", "2026-06-02T10:00:00Z", "2026-06-03T10:00:00Z"}},
	}

	for _, tt := range tests {
		t.Run(tt.plan, func(t *testing.T) {
			out, err := execute(t, testDeps(nil), "schedule", tt.plan, "--start", "2026-05-04T10:00:00Z")
			if err != nil {
				t.Fatalf("schedule: %v", err)
			}
			for _, want := range tt.wantLines {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
			if got := strings.Count(out, "  #"); got != tt.wantBumps {
				t.Errorf("got %d bump lines, want %d:\n%s", got, tt.wantBumps, out)
			}
		})
	}
}

func TestScheduleCommand_Errors(t *testing.T) {
	if _, err := execute(t, testDeps(nil), "schedule", "7"); err == nil {
		t.Error("expected error for unknown plan")
	}
	if _, err := execute(t, testDeps(nil), "schedule", "99", "--start", "yesterday"); err == nil {
		t.Error("expected error for malformed start")
	}
	if _, err := execute(t, testDeps(nil), "schedule"); err == nil {
		t.Error("expected error without a plan argument")
	}
}

func TestBumpTimes_DailyStaysInsideWindow(t *testing.T) {
	plan, _ := boost.ResolvePlan(boost.PlanDaily30d)
	rec := boost.NewRecord(plan, boost.ToMillis(now))

	bumps := bumpTimes(plan, rec)
	if len(bumps) != 29 {
		t.Fatalf("got %d bumps, want 29", len(bumps))
	}
	if bumps[0] != *rec.NextBumpAt {
		t.Errorf("first bump %d != record next bump %d", bumps[0], *rec.NextBumpAt)
	}
	if last := bumps[len(bumps)-1]; last >= rec.EndAt {
		t.Errorf("last bump %d not before end %d", last, rec.EndAt)
	}
}

func TestSweepCommand(t *testing.T) {
	t.Run("dry run leaves records alone", func(t *testing.T) {
		store := seededStore()
		out, err := execute(t, testDeps(store), "sweep", "--dry-run")
		if err != nil {
			t.Fatalf("sweep: %v", err)
		}

		var res scheduler.SweepResult
		if err := json.Unmarshal([]byte(out), &res); err != nil {
			t.Fatalf("decoding output %q: %v", out, err)
		}
		if !res.DryRun || res.Bumped != 1 || res.Deactivated != 1 {
			t.Errorf("result = %+v, want one bump and one expiry", res)
		}
		if !store.listings["ended"].Boost.Active {
			t.Error("dry run deactivated a record")
		}
		if !store.closed {
			t.Error("store was not closed")
		}
	})

	t.Run("commits transitions", func(t *testing.T) {
		store := seededStore()
		if _, err := execute(t, testDeps(store), "sweep"); err != nil {
			t.Fatalf("sweep: %v", err)
		}
		if store.listings["ended"].Boost.Active {
			t.Error("ended boost still active")
		}
		due := store.listings["due"].Boost
		if due.BumpCount != 2 || due.LastBumpedAt != boost.ToMillis(now) {
			t.Errorf("due boost not bumped: %+v", due)
		}
	})

	t.Run("reference time", func(t *testing.T) {
		store := seededStore()
		out, err := execute(t, testDeps(store), "sweep", "--dry-run", "--at", "2026-01-01T00:00:00Z")
		if err != nil {
			t.Fatalf("sweep: %v", err)
		}
		if !strings.Contains(out, `"scanned": 0`) {
			t.Errorf("nothing should be due before the boosts started:\n%s", out)
		}
	})

	t.Run("database unavailable", func(t *testing.T) {
		if _, err := execute(t, testDeps(nil), "sweep"); err == nil {
			t.Error("expected connection error")
		}
	})
}

func TestShowCommand(t *testing.T) {
	store := seededStore()

	out, err := execute(t, testDeps(store), "show", "due")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"99-30d", "2026-05-03T10:00:00Z", "bump count  1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if _, err := execute(t, testDeps(store), "show", "missing"); err == nil {
		t.Error("expected not-found error")
	}
}

func TestTokenCommand(t *testing.T) {
	deps := testDeps(nil)
	out, err := execute(t, deps, "token", "U9", "--ttl", "5m")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	verifier := auth.NewTokenVerifier(auth.TokenVerifierConfig{
		Secret: "local-dev-jwt-secret-at-least-32-bytes",
		Clock:  types.FixedClock{At: now.Add(time.Minute)},
	})
	actor, err := verifier.Verify(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("issued token rejected: %v", err)
	}
	if actor.ID != "U9" {
		t.Errorf("actor = %+v, want U9", actor)
	}
}

func TestHashKeyCommand(t *testing.T) {
	out, err := execute(t, testDeps(nil), "hash-key", "s3cret")
	if err != nil {
		t.Fatalf("hash-key: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("s3cret")); err != nil {
		t.Errorf("hash does not match key: %v", err)
	}

	if _, err := execute(t, testDeps(nil), "hash-key", "  "); err == nil {
		t.Error("expected error for blank key")
	}
}
