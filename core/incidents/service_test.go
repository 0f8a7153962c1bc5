package incidents

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"incident-desk/config"
	"incident-desk/core/rules"
	"incident-desk/core/store"
	"incident-desk/core/utils"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver: "sqlite",
		DBPath:   filepath.Join(t.TempDir(), "incidents.db"),
		Drafts:   config.DraftsConfig{LockTimeout: 15 * time.Minute, MaxAge: 24 * time.Hour, CleanupEnabled: true},
	}
	logger := utils.NewNopLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := store.ApplyMigrations(ctx, db, store.DialectSQLite, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if err := store.SeedSampleData(ctx, db, store.DialectSQLite); err != nil {
		t.Fatalf("seed: %v", err)
	}
	d := store.DialectSQLite
	return NewService(cfg, store.NewTransactor(db, d), store.NewIncidentsStore(db, d), store.NewDraftsStore(db, d), store.NewCustomersStore(db, d), nil, logger)
}

func strPtr(s string) *string { return &s }

func createOne(t *testing.T, svc *Service, user string, in CreateInput) store.Incident {
	t.Helper()
	items, err := svc.Create(context.Background(), user, []CreateInput{in})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one incident, got %d", len(items))
	}
	return items[0]
}

func wantKind(t *testing.T, err error, kind rules.Kind, message string) {
	t.Helper()
	v, ok := rules.AsViolation(err)
	if !ok || v.Kind != kind {
		t.Fatalf("expected %s violation, got %v", kind, err)
	}
	if message != "" && v.Message != message {
		t.Fatalf("expected message %q, got %q", message, v.Message)
	}
}

func TestDraftCreateThenActivateEscalatesUrgency(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	draft := createOne(t, svc, "alice", CreateInput{Title: "Urgent attention required!", StatusCode: store.StatusNew, UrgencyCode: store.UrgencyMedium, Draft: true})
	if draft.IsActiveEntity {
		t.Fatalf("draft-mode create must not produce an active row")
	}
	if state, _ := svc.State(ctx, draft.ID); state != StateDraftOnly {
		t.Fatalf("expected draft_only, got %s", state)
	}
	if _, err := svc.Get(ctx, draft.ID); !rules.IsKind(err, rules.KindNotFound) {
		t.Fatalf("draft must be invisible to active reads, got %v", err)
	}
	active, err := svc.Activate(ctx, "alice", draft.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if active.Title != "Urgent attention required!" || active.StatusCode != store.StatusNew || active.UrgencyCode != store.UrgencyHigh {
		t.Fatalf("unexpected activated incident: %+v", active)
	}
	got, err := svc.Get(ctx, draft.ID)
	if err != nil || got.UrgencyCode != store.UrgencyHigh {
		t.Fatalf("active row not persisted with H: %+v %v", got, err)
	}
	if state, _ := svc.State(ctx, draft.ID); state != StateActiveOnly {
		t.Fatalf("expected active_only after activation, got %s", state)
	}
}

func TestClosedIncidentRejectsFurtherUpdates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	inc := createOne(t, svc, "alice", CreateInput{Title: "Urgent attention required!", StatusCode: store.StatusNew})
	if inc.UrgencyCode != store.UrgencyHigh {
		t.Fatalf("unset urgency with urgent title should become H, got %q", inc.UrgencyCode)
	}
	closed, err := svc.Update(ctx, "alice", inc.ID, Patch{StatusCode: strPtr(store.StatusClosed)})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.StatusCode != store.StatusClosed {
		t.Fatalf("expected closed, got %s", closed.StatusCode)
	}
	_, err = svc.Update(ctx, "alice", inc.ID, Patch{StatusCode: strPtr(store.StatusInProgress)})
	wantKind(t, err, rules.KindConflict, "Can't modify a closed incident")
	got, _ := svc.Get(ctx, inc.ID)
	if got.StatusCode != store.StatusClosed || got.Version != closed.Version {
		t.Fatalf("closed row changed: %+v", got)
	}
	_, err = svc.Update(ctx, "bob", inc.ID, Patch{Title: strPtr("renamed")})
	wantKind(t, err, rules.KindConflict, rules.ClosedIncidentMessage)
}

func TestCreateLeavesNonUrgentTitleAlone(t *testing.T) {
	svc := newTestService(t)
	inc := createOne(t, svc, "alice", CreateInput{Title: "Printer jam", StatusCode: store.StatusNew, UrgencyCode: store.UrgencyLow})
	if inc.UrgencyCode != store.UrgencyLow {
		t.Fatalf("expected L, got %q", inc.UrgencyCode)
	}
	plain := createOne(t, svc, "alice", CreateInput{Title: "Printer jam"})
	if plain.UrgencyCode != "" || plain.StatusCode != store.StatusNew {
		t.Fatalf("expected unset urgency and N, got %+v", plain)
	}
}

func TestBatchCreateAbortsOnInvalidElement(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	before, _ := svc.List(ctx, store.IncidentFilter{})
	_, err := svc.Create(ctx, "alice", []CreateInput{
		{Title: "first"},
		{Title: "second", UrgencyCode: "X"},
	})
	v, ok := rules.AsViolation(err)
	if !ok || v.Kind != rules.KindValidation || v.Field != "urgency_code" {
		t.Fatalf("expected urgency validation error, got %v", err)
	}
	_, err = svc.Create(ctx, "alice", []CreateInput{{Title: "ok"}, {Title: "   "}})
	if !rules.IsKind(err, rules.KindValidation) {
		t.Fatalf("blank title must fail validation, got %v", err)
	}
	_, err = svc.Create(ctx, "alice", []CreateInput{{Title: "ok"}, {Title: "x", CustomerID: "nobody"}})
	wantKind(t, err, rules.KindNotFound, "customer not found")
	after, _ := svc.List(ctx, store.IncidentFilter{})
	if len(after) != len(before) {
		t.Fatalf("failed batch persisted rows: before=%d after=%d", len(before), len(after))
	}
}

func TestBatchCreateRunsRulesOnEveryElement(t *testing.T) {
	svc := newTestService(t)
	items, err := svc.Create(context.Background(), "alice", []CreateInput{
		{Title: "urgent one", UrgencyCode: store.UrgencyLow},
		{Title: "calm one", UrgencyCode: store.UrgencyLow},
		{Title: "URGENT two", CustomerID: "1004155"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	want := []string{store.UrgencyHigh, store.UrgencyLow, store.UrgencyHigh}
	for i, inc := range items {
		if inc.UrgencyCode != want[i] {
			t.Fatalf("item %d: expected %s, got %q", i, want[i], inc.UrgencyCode)
		}
	}
}

func TestEditKeepsDraftPrivateUntilActivation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	inc := createOne(t, svc, "alice", CreateInput{Title: "Printer jam", UrgencyCode: store.UrgencyLow})
	draft, err := svc.Edit(ctx, "alice", inc.ID)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if draft.Draft == nil || !draft.Draft.HasActiveEntity || draft.Draft.InProcessByUser != "alice" {
		t.Fatalf("unexpected draft admin data: %+v", draft.Draft)
	}
	if _, err := svc.PatchDraft(ctx, "alice", inc.ID, Patch{Title: strPtr("Printer jam, urgent"), StatusCode: strPtr(store.StatusInProgress)}); err != nil {
		t.Fatalf("patch draft: %v", err)
	}
	got, _ := svc.Get(ctx, inc.ID)
	if got.Title != "Printer jam" || got.StatusCode != store.StatusNew {
		t.Fatalf("draft leaked into active row: %+v", got)
	}
	if state, _ := svc.State(ctx, inc.ID); state != StateActiveWithDraft {
		t.Fatalf("expected active_with_draft, got %s", state)
	}
	active, err := svc.Activate(ctx, "alice", inc.ID)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if active.Title != "Printer jam, urgent" || active.StatusCode != store.StatusInProgress || active.UrgencyCode != store.UrgencyHigh {
		t.Fatalf("unexpected active row: %+v", active)
	}
	if active.Version != inc.Version+1 {
		t.Fatalf("expected version bump, got %d", active.Version)
	}
	if _, err := svc.GetDraft(ctx, "alice", inc.ID); !rules.IsKind(err, rules.KindNotFound) {
		t.Fatalf("draft must be gone after activation, got %v", err)
	}
	events, err := svc.Timeline(ctx, inc.ID, 0)
	if err != nil || len(events) != 2 {
		t.Fatalf("expected created and activated events, got %d %v", len(events), err)
	}
}

func TestRejectedActivationPreservesDraft(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	inc := createOne(t, svc, "alice", CreateInput{Title: "Printer jam"})
	if _, err := svc.Edit(ctx, "alice", inc.ID); err != nil {
		t.Fatalf("edit: %v", err)
	}
	patched, err := svc.PatchDraft(ctx, "alice", inc.ID, Patch{Title: strPtr("Printer on fire")})
	if err != nil {
		t.Fatalf("patch draft: %v", err)
	}
	if _, err := svc.Update(ctx, "alice", inc.ID, Patch{StatusCode: strPtr(store.StatusClosed)}); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err = svc.Activate(ctx, "alice", inc.ID)
	wantKind(t, err, rules.KindConflict, rules.ClosedIncidentMessage)
	kept, err := svc.GetDraft(ctx, "alice", inc.ID)
	if err != nil {
		t.Fatalf("draft lost after rejection: %v", err)
	}
	if kept.Title != patched.Title || kept.StatusCode != patched.StatusCode || kept.UrgencyCode != patched.UrgencyCode {
		t.Fatalf("draft changed: %+v vs %+v", kept, patched)
	}
	if !kept.Draft.DraftLastChangedAt.Equal(patched.Draft.DraftLastChangedAt) {
		t.Fatalf("draft timestamps changed after rejection")
	}
	got, _ := svc.Get(ctx, inc.ID)
	if got.Title != "Printer jam" || got.StatusCode != store.StatusClosed {
		t.Fatalf("active row changed: %+v", got)
	}
}

func TestDraftsArePrivateToOwner(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	inc := createOne(t, svc, "alice", CreateInput{Title: "Printer jam"})
	if _, err := svc.Edit(ctx, "alice", inc.ID); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if _, err := svc.GetDraft(ctx, "bob", inc.ID); !rules.IsKind(err, rules.KindNotFound) {
		t.Fatalf("bob must not read alice's draft, got %v", err)
	}
	if _, err := svc.PatchDraft(ctx, "bob", inc.ID, Patch{Title: strPtr("x")}); !rules.IsKind(err, rules.KindNotFound) {
		t.Fatalf("bob must not patch alice's draft, got %v", err)
	}
	if _, err := svc.Activate(ctx, "bob", inc.ID); !rules.IsKind(err, rules.KindNotFound) {
		t.Fatalf("bob must not activate alice's draft, got %v", err)
	}
	if err := svc.Discard(ctx, "bob", inc.ID); !rules.IsKind(err, rules.KindNotFound) {
		t.Fatalf("bob must not discard alice's draft, got %v", err)
	}
	_, err := svc.Edit(ctx, "bob", inc.ID)
	wantKind(t, err, rules.KindConflict, LockedMessage)
	again, err := svc.Edit(ctx, "alice", inc.ID)
	if err != nil || again.Draft.InProcessByUser != "alice" {
		t.Fatalf("re-edit by owner should return the draft: %v", err)
	}
	drafts, err := svc.ListDrafts(ctx, "alice")
	if err != nil || len(drafts) != 1 {
		t.Fatalf("expected one draft for alice, got %d %v", len(drafts), err)
	}
	if drafts, _ := svc.ListDrafts(ctx, "bob"); len(drafts) != 0 {
		t.Fatalf("bob should have no drafts")
	}
}

func TestStaleLockCanBeTakenOver(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	inc := createOne(t, svc, "alice", CreateInput{Title: "Printer jam"})
	if _, err := svc.Edit(ctx, "alice", inc.ID); err != nil {
		t.Fatalf("edit: %v", err)
	}
	svc.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	draft, err := svc.Edit(ctx, "bob", inc.ID)
	if err != nil {
		t.Fatalf("takeover: %v", err)
	}
	if draft.Draft.InProcessByUser != "bob" {
		t.Fatalf("expected bob to own the draft, got %s", draft.Draft.InProcessByUser)
	}
	if _, err := svc.GetDraft(ctx, "alice", inc.ID); !rules.IsKind(err, rules.KindNotFound) {
		t.Fatalf("alice's stale draft should be gone, got %v", err)
	}
}

func TestDiscardKeepsActiveRow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	inc := createOne(t, svc, "alice", CreateInput{Title: "Printer jam"})
	if _, err := svc.Edit(ctx, "alice", inc.ID); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if _, err := svc.PatchDraft(ctx, "alice", inc.ID, Patch{Title: strPtr("changed")}); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if err := svc.Discard(ctx, "alice", inc.ID); err != nil {
		t.Fatalf("discard: %v", err)
	}
	got, err := svc.Get(ctx, inc.ID)
	if err != nil || got.Title != "Printer jam" || got.Version != inc.Version {
		t.Fatalf("active row changed by discard: %+v %v", got, err)
	}
	if state, _ := svc.State(ctx, inc.ID); state != StateActiveOnly {
		t.Fatalf("expected active_only, got %s", state)
	}
}

func TestDeleteRespectsForeignLock(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	inc := createOne(t, svc, "alice", CreateInput{Title: "Printer jam"})
	if _, err := svc.Edit(ctx, "alice", inc.ID); err != nil {
		t.Fatalf("edit: %v", err)
	}
	wantKind(t, svc.Delete(ctx, "bob", inc.ID), rules.KindConflict, LockedMessage)
	if err := svc.Delete(ctx, "alice", inc.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if state, _ := svc.State(ctx, inc.ID); state != StateNoEntity {
		t.Fatalf("expected no_entity after delete, got %s", state)
	}
	wantKind(t, svc.Delete(ctx, "alice", inc.ID), rules.KindNotFound, "incident not found")
}

func TestUpdateValidationAndNotFound(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	inc := createOne(t, svc, "alice", CreateInput{Title: "Printer jam"})
	if _, err := svc.Update(ctx, "alice", inc.ID, Patch{}); !rules.IsKind(err, rules.KindValidation) {
		t.Fatalf("empty patch must fail validation, got %v", err)
	}
	_, err := svc.Update(ctx, "alice", inc.ID, Patch{StatusCode: strPtr("Z")})
	v, ok := rules.AsViolation(err)
	if !ok || v.Field != "status_code" {
		t.Fatalf("expected status_code validation error, got %v", err)
	}
	_, err = svc.Update(ctx, "alice", "missing", Patch{Title: strPtr("x")})
	wantKind(t, err, rules.KindNotFound, "incident not found")
	_, err = svc.Update(ctx, "alice", inc.ID, Patch{CustomerID: strPtr("nobody")})
	wantKind(t, err, rules.KindNotFound, "customer not found")
	updated, err := svc.Update(ctx, "alice", inc.ID, Patch{CustomerID: strPtr("1004161"), UrgencyCode: strPtr(store.UrgencyMedium)})
	if err != nil || updated.CustomerID == nil || *updated.CustomerID != "1004161" || updated.ModifiedBy != "alice" {
		t.Fatalf("update customer: %+v %v", updated, err)
	}
}

func TestStaleVersionWriteIsConflict(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	inc := createOne(t, svc, "alice", CreateInput{Title: "Printer jam"})
	err := svc.tx.WithTx(ctx, func(tx store.Tx) error {
		next := inc
		next.Title = "late"
		return writeActive(ctx, tx, &next, inc.Version+5)
	})
	wantKind(t, err, rules.KindConflict, ConcurrentMessage)
}

func TestCustomersExpandIncidents(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	view, err := svc.Customer(ctx, "1004161")
	if err != nil {
		t.Fatalf("customer: %v", err)
	}
	if view.LastName != "Weathers" || len(view.Incidents) == 0 {
		t.Fatalf("unexpected customer view: %+v", view)
	}
	if _, err := svc.Customer(ctx, "0"); !rules.IsKind(err, rules.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
	all, err := svc.Customers(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected three customers, got %d %v", len(all), err)
	}
}

func TestSweepStaleDrafts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	inc := createOne(t, svc, "alice", CreateInput{Title: "Printer jam"})
	if _, err := svc.Edit(ctx, "alice", inc.ID); err != nil {
		t.Fatalf("edit: %v", err)
	}
	createOne(t, svc, "bob", CreateInput{Title: "draft only", Draft: true})
	n, err := svc.SweepStaleDrafts(ctx, time.Now().UTC())
	if err != nil || n != 0 {
		t.Fatalf("fresh drafts must survive: n=%d err=%v", n, err)
	}
	sweeper := NewDraftSweeper(svc.cfg, svc, nil)
	if err := sweeper.RunOnce(ctx, time.Now().UTC().Add(48*time.Hour)); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if d, _ := svc.ListDrafts(ctx, "alice"); len(d) != 0 {
		t.Fatalf("alice's stale draft survived")
	}
	if d, _ := svc.ListDrafts(ctx, "bob"); len(d) != 0 {
		t.Fatalf("bob's stale draft survived")
	}
	if _, err := svc.Get(ctx, inc.ID); err != nil {
		t.Fatalf("sweeping must keep active rows: %v", err)
	}
}

type listHookDrafts struct {
	store.DraftsStore
	afterList func()
}

func (h *listHookDrafts) ListDraftsChangedBefore(ctx context.Context, before time.Time, limit int) ([]store.Incident, error) {
	items, err := h.DraftsStore.ListDraftsChangedBefore(ctx, before, limit)
	if h.afterList != nil {
		fn := h.afterList
		h.afterList = nil
		fn()
	}
	return items, err
}

func TestSweepKeepsDraftEditedAfterListing(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	svc.cfg.MaxAge = 20 * time.Millisecond
	draft := createOne(t, svc, "alice", CreateInput{Title: "Printer jam", Draft: true})
	time.Sleep(100 * time.Millisecond)
	var patchErr error
	svc.drafts = &listHookDrafts{DraftsStore: svc.drafts, afterList: func() {
		_, patchErr = svc.PatchDraft(ctx, "alice", draft.ID, Patch{Title: strPtr("fresh edit")})
	}}
	n, err := svc.SweepStaleDrafts(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if patchErr != nil {
		t.Fatalf("patch draft: %v", patchErr)
	}
	if n != 0 {
		t.Fatalf("expected nothing swept, got %d", n)
	}
	kept, err := svc.GetDraft(ctx, "alice", draft.ID)
	if err != nil {
		t.Fatalf("draft edited during sweep was removed: %v", err)
	}
	if kept.Title != "fresh edit" {
		t.Fatalf("unexpected title %q", kept.Title)
	}
}

func TestUpdateBlockedByForeignLiveDraft(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	inc := createOne(t, svc, "alice", CreateInput{Title: "Printer jam"})
	if _, err := svc.Edit(ctx, "alice", inc.ID); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if _, err := svc.PatchDraft(ctx, "alice", inc.ID, Patch{Title: strPtr("Printer on fire")}); err != nil {
		t.Fatalf("patch draft: %v", err)
	}
	_, err := svc.Update(ctx, "bob", inc.ID, Patch{StatusCode: strPtr(store.StatusInProgress)})
	wantKind(t, err, rules.KindConflict, LockedMessage)
	got, _ := svc.Get(ctx, inc.ID)
	if got.StatusCode != store.StatusNew || got.Version != inc.Version {
		t.Fatalf("blocked update leaked: %+v", got)
	}
	if _, err := svc.Update(ctx, "alice", inc.ID, Patch{StatusCode: strPtr(store.StatusInProgress)}); err != nil {
		t.Fatalf("lock holder update: %v", err)
	}
	svc.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	if _, err := svc.Update(ctx, "bob", inc.ID, Patch{Title: strPtr("Printer fixed")}); err != nil {
		t.Fatalf("update past lock timeout: %v", err)
	}
}

func TestSweeperStartStop(t *testing.T) {
	svc := newTestService(t)
	sweeper := NewDraftSweeper(config.DraftsConfig{CleanupEnabled: true, CleanupSchedule: "@every 1h"}, svc, nil)
	sweeper.StartWithContext(context.Background())
	sweeper.StartWithContext(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sweeper.StopWithContext(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := sweeper.StopWithContext(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	disabled := NewDraftSweeper(config.DraftsConfig{}, svc, nil)
	disabled.StartWithContext(context.Background())
	if disabled.running {
		t.Fatalf("disabled sweeper must not start")
	}
}

func TestValidationErrorsAreNotInfrastructureErrors(t *testing.T) {
	err := validateInput(CreateInput{Title: ""})
	if errors.Is(err, store.ErrNotFound) || !rules.IsKind(err, rules.KindValidation) {
		t.Fatalf("unexpected error %v", err)
	}
	v, _ := rules.AsViolation(err)
	if v.Field != "title" || v.Message != "title is required" {
		t.Fatalf("unexpected violation %+v", v)
	}
}
