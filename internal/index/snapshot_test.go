package index

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/sitewatch/internal/domain"
)

func strp(v string) *string { return &v }
func intp(v int) *int { return &v }
func floatp(v float64) *float64 { return &v }
func timep(v time.Time) *time.Time { return &v }

func ids(recs []domain.SiteRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewSnapshotStore(t *testing.T) {
	s := NewSnapshotStore()
	if s == nil {
		t.Fatal("NewSnapshotStore() returned nil")
	}
	if got := s.All(); len(got) != 0 {
		t.Errorf("NewSnapshotStore() should start empty, got %v", len(got))
	}
	if s.Seq() != 0 {
		t.Errorf("Seq() = %v, want 0", s.Seq())
	}
}

func TestRegister(t *testing.T) {
	s := NewSnapshotStore()

	rec, err := s.Register("a", "https://a.example.com")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if rec.Status != domain.StatusUnknown {
		t.Errorf("Register() status = %v, want UNKNOWN", rec.Status)
	}
	if rec.CheckedAt != nil {
		t.Error("Register() should leave CheckedAt empty")
	}

	if _, err := s.Register("a", "https://other.example.com"); !errors.Is(err, domain.ErrSiteExists) {
		t.Errorf("Register() duplicate error = %v, want ErrSiteExists", err)
	}
	if _, err := s.Register(" ", "x"); err == nil {
		t.Error("Register() with empty id should fail")
	}

	got, _ := s.Get("a")
	if got.URL != "https://a.example.com" {
		t.Errorf("duplicate Register() overwrote URL: %v", got.URL)
	}
}

func TestUnregister(t *testing.T) {
	s := NewSnapshotStore()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Register(id, "https://"+id+".example.com"); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Unregister("b"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if _, ok := s.Get("b"); ok {
		t.Error("Get() found an unregistered site")
	}
	if got := ids(s.All()); !equalIDs(got, []string{"a", "c"}) {
		t.Errorf("All() = %v, want [a c]", got)
	}
	if err := s.Unregister("b"); !errors.Is(err, domain.ErrSiteNotFound) {
		t.Errorf("Unregister() twice error = %v, want ErrSiteNotFound", err)
	}
}

func TestMergeIsNonDestructive(t *testing.T) {
	s := NewSnapshotStore()
	s.Register("a", "https://a.example.com")
	s.Register("b", "https://b.example.com")

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if _, err := s.Merge([]domain.SiteUpdate{
		{ID: "a", Status: strp("UP"), ResponseTimeMS: floatp(120), StatusCode: intp(200), CheckedAt: timep(t0)},
		{ID: "b", Status: strp("UP"), ResponseTimeMS: floatp(80), StatusCode: intp(200), CheckedAt: timep(t0)},
	}, t0); err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	before, _ := s.Get("b")

	t1 := t0.Add(30 * time.Second)
	snap, err := s.Merge([]domain.SiteUpdate{
		{ID: "a", StatusCode: intp(503), CheckedAt: timep(t1)},
	}, t1)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if snap.Seq != 2 {
		t.Errorf("Seq = %v, want 2", snap.Seq)
	}
	if got := ids(snap.Sites); !equalIDs(got, []string{"a", "b"}) {
		t.Errorf("Merge() sites = %v, want [a b]", got)
	}

	a, _ := s.Get("a")
	if *a.StatusCode != 503 || !a.CheckedAt.Equal(t1) {
		t.Errorf("site a not updated: code=%v checked=%v", *a.StatusCode, a.CheckedAt)
	}
	if a.ResponseTimeMS == nil || *a.ResponseTimeMS != 120 {
		t.Error("absent response_time should keep the stored value")
	}
	if a.Status != domain.StatusUp {
		t.Errorf("absent status should keep the stored value, got %v", a.Status)
	}
	if a.URL != "https://a.example.com" || a.ID != "a" {
		t.Error("identity fields changed on merge")
	}

	b, _ := s.Get("b")
	if !b.CheckedAt.Equal(*before.CheckedAt) || *b.ResponseTimeMS != *before.ResponseTimeMS || b.UpdatedAt != before.UpdatedAt {
		t.Error("site absent from the payload was modified")
	}
}

func TestMergeAllOrNothing(t *testing.T) {
	s := NewSnapshotStore()
	s.Register("a", "https://a.example.com")

	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.Merge([]domain.SiteUpdate{{ID: "a", StatusCode: intp(200), CheckedAt: timep(t0)}}, t0)

	_, err := s.Merge([]domain.SiteUpdate{
		{ID: "a", StatusCode: intp(500), CheckedAt: timep(t0.Add(time.Minute))},
		{ID: "new", Status: strp("bogus")},
	}, t0.Add(time.Minute))

	var fe *domain.FetchError
	if !errors.As(err, &fe) || fe.Kind != domain.ErrMalformedPayload {
		t.Fatalf("Merge() error = %v, want malformed payload", err)
	}

	a, _ := s.Get("a")
	if *a.StatusCode != 200 {
		t.Errorf("rejected payload partially applied: status code = %v", *a.StatusCode)
	}
	if _, ok := s.Get("new"); ok {
		t.Error("rejected payload added a site")
	}
	if s.Seq() != 1 {
		t.Errorf("Seq() = %v, want 1 after a rejected merge", s.Seq())
	}
	if !s.LastMerge().Equal(t0) {
		t.Errorf("LastMerge() = %v, want %v", s.LastMerge(), t0)
	}
}

func TestMergeAppendsUnknownSitesInOrder(t *testing.T) {
	s := NewSnapshotStore()
	s.Register("z", "https://z.example.com")

	at := time.Now()
	snap, err := s.Merge([]domain.SiteUpdate{
		{ID: "m", URL: strp("https://m.example.com"), Status: strp("up")},
		{ID: "b", URL: strp("https://b.example.com"), Status: strp("down")},
	}, at)
	if err != nil {
		t.Fatal(err)
	}
	if got := ids(snap.Sites); !equalIDs(got, []string{"z", "m", "b"}) {
		t.Errorf("Merge() order = %v, want [z m b]", got)
	}

	m, _ := s.Get("m")
	if m.URL != "https://m.example.com" {
		t.Errorf("appended site URL = %q", m.URL)
	}
}

func TestMergeIgnoresUnregisteredSites(t *testing.T) {
	s := NewSnapshotStore()
	s.Register("a", "https://a.example.com")
	s.Register("b", "https://b.example.com")
	if err := s.Unregister("b"); err != nil {
		t.Fatal(err)
	}

	// The backend keeps listing b after the local unregistration.
	snap, err := s.Merge([]domain.SiteUpdate{
		{ID: "a", StatusCode: intp(200)},
		{ID: "b", StatusCode: intp(200)},
	}, time.Now())
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if got := ids(snap.Sites); !equalIDs(got, []string{"a"}) {
		t.Errorf("Merge() sites = %v, want [a]", got)
	}
	if _, ok := s.Get("b"); ok {
		t.Error("Merge() brought an unregistered site back")
	}

	// Registering again lifts the exclusion.
	if _, err := s.Register("b", "https://b.example.com"); err != nil {
		t.Fatalf("Register() after unregister error = %v", err)
	}
	s.Merge([]domain.SiteUpdate{{ID: "b", StatusCode: intp(503)}}, time.Now())
	if b, ok := s.Get("b"); !ok || b.StatusCode == nil || *b.StatusCode != 503 {
		t.Errorf("re-registered site not updated: %+v", b)
	}
}

func TestRegisterClaimsSiteReportedByPoll(t *testing.T) {
	s := NewSnapshotStore()

	// A poll reports the site before the local registration lands.
	s.Merge([]domain.SiteUpdate{{ID: "new", StatusCode: intp(200)}}, time.Now())

	rec, err := s.Register("new", "https://new.example.com")
	if err != nil {
		t.Fatalf("Register() error = %v, want the polled site to be claimed", err)
	}
	if rec.URL != "https://new.example.com" || rec.StatusCode == nil || *rec.StatusCode != 200 {
		t.Errorf("Register() = %+v, want the polled record with its url filled", rec)
	}

	if _, err := s.Register("new", "https://new.example.com"); !errors.Is(err, domain.ErrSiteExists) {
		t.Errorf("second Register() error = %v, want ErrSiteExists", err)
	}
}

func TestMergeConsecutiveFailures(t *testing.T) {
	s := NewSnapshotStore()
	s.Register("a", "https://a.example.com")
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	steps := []struct {
		name    string
		update  domain.SiteUpdate
		wantCnt int
	}{
		{"first failure", domain.SiteUpdate{ID: "a", StatusCode: intp(500), CheckedAt: timep(t0)}, 1},
		{"same check repeated", domain.SiteUpdate{ID: "a", StatusCode: intp(500), CheckedAt: timep(t0)}, 1},
		{"second failure", domain.SiteUpdate{ID: "a", StatusCode: intp(502), CheckedAt: timep(t0.Add(time.Minute))}, 2},
		{"transport failure", domain.SiteUpdate{ID: "a", Status: strp("DOWN"), CheckedAt: timep(t0.Add(2 * time.Minute))}, 3},
		{"recovery", domain.SiteUpdate{ID: "a", StatusCode: intp(200), CheckedAt: timep(t0.Add(3 * time.Minute))}, 0},
	}

	for _, st := range steps {
		if _, err := s.Merge([]domain.SiteUpdate{st.update}, t0); err != nil {
			t.Fatalf("%s: Merge() error = %v", st.name, err)
		}
		a, _ := s.Get("a")
		if a.ConsecutiveFailures != st.wantCnt {
			t.Errorf("%s: ConsecutiveFailures = %v, want %v", st.name, a.ConsecutiveFailures, st.wantCnt)
		}
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewSnapshotStore()
	s.Register("a", "https://a.example.com")
	s.Merge([]domain.SiteUpdate{{ID: "a", StatusCode: intp(200)}}, time.Now())

	got, _ := s.Get("a")
	*got.StatusCode = 500
	got.URL = "mutated"

	again, _ := s.Get("a")
	if *again.StatusCode != 200 || again.URL != "https://a.example.com" {
		t.Error("Get() result aliases store memory")
	}
}

func TestRestore(t *testing.T) {
	s := NewSnapshotStore()
	s.Register("seeded", "https://seeded.example.com")

	checked := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	n := s.Restore(domain.MirrorState{Sites: []domain.SiteRecord{
		{ID: "seeded", URL: "https://ignored.example.com", Status: domain.StatusUp, StatusCode: intp(200), CheckedAt: timep(checked)},
		{ID: "x", URL: "https://x.example.com", Status: domain.StatusDown, CheckedAt: timep(checked)},
		{ID: ""},
	}})
	if n != 2 {
		t.Errorf("Restore() = %v, want 2", n)
	}
	if got := ids(s.All()); !equalIDs(got, []string{"seeded", "x"}) {
		t.Errorf("All() = %v, want [seeded x]", got)
	}

	seeded, _ := s.Get("seeded")
	if seeded.URL != "https://seeded.example.com" {
		t.Error("Restore() replaced the identity of an existing site")
	}
	if seeded.CheckedAt == nil || *seeded.StatusCode != 200 {
		t.Error("Restore() should fill the observation of a never-checked site")
	}
	if s.Seq() != 0 {
		t.Errorf("Restore() should not count as a merge, Seq() = %v", s.Seq())
	}
}

func TestRestoreKeepsSeqMonotonic(t *testing.T) {
	s := NewSnapshotStore()
	taken := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s.Restore(domain.MirrorState{Seq: 41, TakenAt: taken})
	if s.Seq() != 41 || !s.LastMerge().Equal(taken) {
		t.Fatalf("after Restore() Seq = %v LastMerge = %v, want 41 and %v", s.Seq(), s.LastMerge(), taken)
	}

	snap, err := s.Merge(nil, taken.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if snap.Seq != 42 {
		t.Errorf("first merge after restore Seq = %v, want 42", snap.Seq)
	}

	s.Restore(domain.MirrorState{Seq: 3})
	if s.Seq() != 42 {
		t.Errorf("an older mirror moved Seq back to %v", s.Seq())
	}
}

func TestRestoreSkipsRemovedSites(t *testing.T) {
	s := NewSnapshotStore()
	n := s.Restore(domain.MirrorState{
		Sites:   []domain.SiteRecord{{ID: "a"}, {ID: "b"}},
		Removed: []string{"b"},
	})
	if n != 1 {
		t.Errorf("Restore() = %v, want 1", n)
	}

	s.Merge([]domain.SiteUpdate{{ID: "b", StatusCode: intp(200)}}, time.Now())
	if got := ids(s.All()); !equalIDs(got, []string{"a"}) {
		t.Errorf("All() = %v, want [a]: a site removed before the restart came back", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := NewSnapshotStore()
	s.Register("a", "https://a.example.com")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = s.All()
		}()
		go func(i int) {
			defer wg.Done()
			_, _ = s.Merge([]domain.SiteUpdate{{ID: "a", StatusCode: intp(200 + i%2)}}, time.Now())
		}(i)
	}
	wg.Wait()

	if s.Seq() != 100 {
		t.Errorf("Seq() = %v, want 100 after concurrent merges", s.Seq())
	}
}
