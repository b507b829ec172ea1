package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-ncr-backend/internal/aql"
	"github.com/tbourn/go-ncr-backend/internal/cache"
	"github.com/tbourn/go-ncr-backend/internal/domain"
	"github.com/tbourn/go-ncr-backend/internal/events"
	"github.com/tbourn/go-ncr-backend/internal/repo"
	"github.com/tbourn/go-ncr-backend/internal/workflow"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ncrsvc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection: concurrent transactions serialize like row locks would.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = sqlDB.Close() })
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type recordingPublisher struct {
	mu  sync.Mutex
	evs []events.StatusChanged
	err error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.StatusChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evs = append(p.evs, ev)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.evs))
	for i, ev := range p.evs {
		out[i] = string(ev.Kind) + ":" + ev.Action + ":" + ev.To
	}
	return out
}

type fixture struct {
	db      *gorm.DB
	pub     *recordingPublisher
	tickets *TicketService
	flow    *WorkflowService
	dnxl    *DNXLService
}

var (
	worker   = Actor{Name: "An", Role: workflow.RoleUser}
	lead     = Actor{Name: "Bình", Role: workflow.RoleShiftLead}
	deptHead = Actor{Name: "Hà", Role: workflow.RoleDeptHead}
	qcBoss   = Actor{Name: "QC Boss", Role: workflow.RoleQCManager}
	director = Actor{Name: "Cường", Role: workflow.RoleDirector}
	board    = Actor{Name: "Dũng", Role: workflow.RoleBoard}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newSvcDB(t)
	pub := &recordingPublisher{}
	cat := workflow.DefaultCatalog()
	c := cache.NewTicketCache(cache.NewMemory(), time.Minute)
	clock := func() time.Time { return time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC) }
	return &fixture{
		db:      db,
		pub:     pub,
		tickets: &TicketService{DB: db, Catalog: cat, Cache: c, Events: pub, Now: clock},
		flow:    &WorkflowService{DB: db, Catalog: cat, Cache: c, Events: pub, Now: clock},
		dnxl:    &DNXLService{DB: db, Events: pub, Now: clock},
	}
}

// failingLot fails AQL for a lot of 100 (band F accepts 1 major).
func failingLot(dept string, lines int) CreateInput {
	in := CreateInput{Department: dept, LotSize: 100, InspectedQty: 20, Description: "đường may lệch"}
	for i := 0; i < lines; i++ {
		in.Defects = append(in.Defects, DefectInput{
			Name: fmt.Sprintf("Lỗi %d", i+1), Location: "thân trước", Quantity: 2, Severity: "Nặng",
		})
	}
	return in
}

func mustCreate(t *testing.T, f *fixture, in CreateInput) *Ticket {
	t.Helper()
	tk, err := f.tickets.Create(context.Background(), worker, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tk
}

func mustStatus(t *testing.T, tk *Ticket, err error, want workflow.Status) {
	t.Helper()
	if err != nil {
		t.Fatalf("transition to %s: %v", want, err)
	}
	if tk.Status != string(want) {
		t.Fatalf("status = %s; want %s", tk.Status, want)
	}
}

// ---------- Create ----------

func TestCreate_DraftWhenAQLFails(t *testing.T) {
	f := newFixture(t)
	tk := mustCreate(t, f, failingLot("FI", 2))

	if tk.TicketNo != "FI-01-01" || tk.Status != string(workflow.StatusDraft) {
		t.Fatalf("unexpected ticket: %s %s", tk.TicketNo, tk.Status)
	}
	if tk.Department != "FI" || len(tk.Defects) != 2 || tk.CreatedBy != "An" {
		t.Fatalf("unexpected read model: %+v", tk)
	}
	if tk.AQL == nil || tk.AQL.Result != string(aql.Fail) || tk.AQL.Code != "F" || tk.AQL.TotalMajor != 4 {
		t.Fatalf("unexpected AQL: %+v", tk.AQL)
	}

	second := mustCreate(t, f, failingLot("FI", 1))
	if second.TicketNo != "FI-01-02" {
		t.Fatalf("sequence not advanced: %s", second.TicketNo)
	}

	hist, err := f.tickets.History(context.Background(), "fi-01-01")
	if err != nil || len(hist) != 1 || hist[0].Action != "create" || hist[0].ToStatus != "draft" {
		t.Fatalf("history = %+v, %v", hist, err)
	}
}

func TestCreate_PassAutoCompletes(t *testing.T) {
	f := newFixture(t)
	in := CreateInput{
		Department: "FI", LotSize: 100,
		Defects: []DefectInput{{Name: "Bẩn", Quantity: 1, Severity: "nhe"}},
	}
	tk := mustCreate(t, f, in)
	if tk.TicketNo != "PASS-FI-01-01" || tk.Status != string(workflow.StatusDone) {
		t.Fatalf("pass ticket = %s %s", tk.TicketNo, tk.Status)
	}
	if tk.Department != "FI" || tk.Defects[0].Severity != string(aql.SeverityMinor) {
		t.Fatalf("unexpected read model: %+v", tk)
	}

	// the regular series is independent
	if got := mustCreate(t, f, failingLot("FI", 1)); got.TicketNo != "FI-01-01" {
		t.Fatalf("regular series = %s", got.TicketNo)
	}
}

func TestCreate_CustomLimits(t *testing.T) {
	f := newFixture(t)
	in := failingLot("CAT", 1)
	in.CustomLimits = &aql.Limits{AcMajor: 2, AcMinor: 0}
	tk := mustCreate(t, f, in)
	if tk.TicketNo != "PASS-CAT-01-01" || tk.AQL == nil || tk.AQL.AcMajor != 2 {
		t.Fatalf("custom limits not applied: %s %+v", tk.TicketNo, tk.AQL)
	}
}

func TestCreate_NoAQLDepartmentAndClassification(t *testing.T) {
	f := newFixture(t)

	may := mustCreate(t, f, CreateInput{
		Department: "may", LotSize: 1,
		Defects: []DefectInput{{Name: "Bung chỉ", Quantity: 1, Severity: "Nhẹ"}},
	})
	if may.TicketNo != "MAY-01-01" || may.Status != "draft" || may.AQL != nil {
		t.Fatalf("MAY ticket = %+v", may)
	}

	in := failingLot("KHO", 1)
	in.Classification = "nguyên  liệu"
	kho := mustCreate(t, f, in)
	if kho.TicketNo != "NL-01-01" || kho.Department != "KHO" {
		t.Fatalf("KHO ticket = %s dept %s", kho.TicketNo, kho.Department)
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ok := DefectInput{Name: "Bẩn", Quantity: 1, Severity: "Nhẹ"}
	cases := []struct {
		name  string
		actor Actor
		in    CreateInput
	}{
		{"no actor name", Actor{Role: workflow.RoleUser}, CreateInput{Department: "FI", Defects: []DefectInput{ok}}},
		{"no department", worker, CreateInput{Defects: []DefectInput{ok}}},
		{"unknown department", worker, CreateInput{Department: "XYZ", Defects: []DefectInput{ok}}},
		{"no defects", worker, CreateInput{Department: "FI"}},
		{"negative lot", worker, CreateInput{Department: "FI", LotSize: -1, Defects: []DefectInput{ok}}},
		{"blank defect name", worker, CreateInput{Department: "FI", Defects: []DefectInput{{Quantity: 1, Severity: "Nhẹ"}}}},
		{"zero quantity", worker, CreateInput{Department: "FI", Defects: []DefectInput{{Name: "x", Severity: "Nhẹ"}}}},
		{"bad severity", worker, CreateInput{Department: "FI", Defects: []DefectInput{{Name: "x", Quantity: 1, Severity: "huge"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.tickets.Create(context.Background(), tc.actor, tc.in); !errors.Is(err, ErrValidation) {
				t.Fatalf("want ErrValidation, got %v", err)
			}
		})
	}
	var n int64
	f.db.Model(&domain.NCRRow{}).Count(&n)
	if n != 0 {
		t.Fatalf("rows written on validation failure: %d", n)
	}
}

func TestCreate_DuplicateTicketNumber(t *testing.T) {
	f := newFixture(t)
	// a legacy row already owns the number the allocator will hand out
	legacy := domain.NCRRow{
		ID: uuid.NewString(), TicketNo: "FI-01-01", LineNo: 1, CreatedBy: "x",
		DefectName: "x", Severity: "Nhẹ", Status: "draft",
	}
	if err := f.db.Create(&legacy).Error; err != nil {
		t.Fatal(err)
	}
	if _, err := f.tickets.Create(context.Background(), worker, failingLot("FI", 1)); !errors.Is(err, ErrDuplicateTicket) {
		t.Fatalf("want ErrDuplicateTicket, got %v", err)
	}
	// the failed attempt rolled the sequence back, the next one is retried at 1
	var seq domain.NCRSequence
	if err := f.db.Where("series = ?", "FI-01").First(&seq).Error; err == nil {
		t.Fatalf("sequence should have rolled back, got %d", seq.Seq)
	}
}

func TestCreate_SeriesContinuesAcrossYears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if got := mustCreate(t, f, failingLot("FI", 1)).TicketNo; got != "FI-01-01" {
		t.Fatalf("first ticket = %s", got)
	}

	f.tickets.Now = func() time.Time { return time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC) }
	tk, err := f.tickets.Create(ctx, worker, failingLot("FI", 1))
	if err != nil {
		t.Fatalf("create a year later: %v", err)
	}
	if tk.TicketNo != "FI-01-02" {
		t.Fatalf("ticket a year later = %s, want FI-01-02", tk.TicketNo)
	}
}

// ---------- Reads ----------

func TestGetListStats_CacheInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := mustCreate(t, f, failingLot("FI", 1))
	mustCreate(t, f, failingLot("FI", 1))
	mustCreate(t, f, CreateInput{Department: "MAY", Defects: []DefectInput{{Name: "Bẩn", Quantity: 1, Severity: "Nhẹ"}}})

	got, err := f.tickets.Get(ctx, a.TicketNo)
	if err != nil || got.Status != "draft" {
		t.Fatalf("Get = %+v, %v", got, err)
	}

	items, total, err := f.tickets.List(ctx, ListQuery{Department: "FI", PageSize: 1})
	if err != nil || total != 2 || len(items) != 1 {
		t.Fatalf("List = %d items, total %d, %v", len(items), total, err)
	}
	items, total, err = f.tickets.List(ctx, ListQuery{Statuses: []string{"draft"}})
	if err != nil || total != 3 || len(items) != 3 {
		t.Fatalf("List all drafts = %d, %d, %v", len(items), total, err)
	}

	if _, err := f.flow.Approve(ctx, worker, a.TicketNo, "", ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	got, err = f.tickets.Get(ctx, a.TicketNo)
	if err != nil || got.Status != string(workflow.StatusPendingShiftLead) {
		t.Fatalf("cached read not invalidated: %+v, %v", got, err)
	}
	_, total, _ = f.tickets.List(ctx, ListQuery{Statuses: []string{"draft"}})
	if total != 2 {
		t.Fatalf("list not invalidated: %d", total)
	}

	n, latest, err := f.tickets.Stats(ctx, ListQuery{Department: "FI"})
	if err != nil || n != 2 || latest == nil {
		t.Fatalf("Stats = %d %v %v", n, latest, err)
	}

	if _, _, err := f.tickets.List(ctx, ListQuery{Statuses: []string{"bogus"}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("bad status filter: %v", err)
	}
	if _, err := f.tickets.Get(ctx, "FI-12-99"); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("missing ticket: %v", err)
	}
	if _, err := f.tickets.History(ctx, "FI-12-99"); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("missing history: %v", err)
	}
}

// fillHookStore runs beforeFill once, right before the first cache fill, so a
// mutation can commit between a read's cache miss and its Save.
type fillHookStore struct {
	*cache.Memory
	once       sync.Once
	beforeFill func()
}

func (s *fillHookStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if s.beforeFill != nil {
		s.once.Do(s.beforeFill)
	}
	return s.Memory.Set(ctx, key, val, ttl)
}

func TestGet_MutationDuringFillIsNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	no := mustCreate(t, f, failingLot("FI", 2)).TicketNo

	store := &fillHookStore{Memory: cache.NewMemory()}
	c := cache.NewTicketCache(store, time.Minute)
	f.tickets.Cache = c
	f.flow.Cache = c

	var approveErr error
	store.beforeFill = func() {
		_, approveErr = f.flow.Approve(ctx, worker, no, "", "")
	}

	// Reads the draft from the store; the submit commits before the fill.
	first, err := f.tickets.Get(ctx, no)
	if err != nil || first.Status != "draft" {
		t.Fatalf("first Get = %+v, %v", first, err)
	}
	if approveErr != nil {
		t.Fatalf("Approve: %v", approveErr)
	}

	persisted, err := repo.ReadStatus(ctx, f.db, no)
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.tickets.Get(ctx, no)
	if err != nil || got.Status != persisted || persisted != string(workflow.StatusPendingShiftLead) {
		t.Fatalf("stale read after committed transition: cache=%+v store=%s err=%v", got, persisted, err)
	}

	// same for list pages
	items, _, err := f.tickets.List(ctx, ListQuery{Department: "FI"})
	if err != nil || len(items) != 1 || items[0].Status != persisted {
		t.Fatalf("List = %+v, %v", items, err)
	}
}

func TestSuggestDefects(t *testing.T) {
	f := newFixture(t)
	f.tickets.SeedDefects = []string{"Sai kích thước"}
	mustCreate(t, f, CreateInput{Department: "MAY", Defects: []DefectInput{
		{Name: "Vết bẩn", Quantity: 1, Severity: "Nhẹ"},
		{Name: "Bung chỉ", Quantity: 1, Severity: "Nhẹ"},
	}})

	res, err := f.tickets.SuggestDefects(context.Background(), "vet", 5)
	if err != nil || len(res) != 1 || res[0].Name != "Vết bẩn" {
		t.Fatalf("SuggestDefects = %+v, %v", res, err)
	}
	res, _ = f.tickets.SuggestDefects(context.Background(), "kich thuoc", 5)
	if len(res) != 1 || res[0].Name != "Sai kích thước" {
		t.Fatalf("seed names not suggested: %+v", res)
	}
	res, _ = f.tickets.SuggestDefects(context.Background(), "  ", 5)
	if res == nil || len(res) != 0 {
		t.Fatalf("blank query should give an empty list: %+v", res)
	}
}
