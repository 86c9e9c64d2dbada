package rename

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"go.uber.org/zap"

	"qrrename/internal/storage"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(filepath.Base(path)), 0644); err != nil {
		t.Fatal(err)
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func newCoordinator(opts Options) *Coordinator {
	if opts.MaxSuffix == 0 {
		opts.MaxSuffix = 100
	}
	return NewCoordinator(storage.NewLocal(), opts, zap.NewNop())
}

func TestCoordinator_SingleRename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "IMG_0001.jpg")
	touch(t, src)

	c := newCoordinator(Options{})
	c.Expect(dir, 1)
	ops := c.Submit(dir, Intent{Source: src, Payload: "S"})

	if len(ops) != 1 || ops[0].Status != Renamed {
		t.Fatalf("ops = %+v", ops)
	}
	if want := filepath.Join(dir, "S.jpg"); ops[0].Target != want {
		t.Errorf("target = %s, want %s", ops[0].Target, want)
	}
	if names := listDir(t, dir); len(names) != 1 || names[0] != "S.jpg" {
		t.Errorf("dir = %v", names)
	}
}

func TestCoordinator_Collision(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jpg")
	b := filepath.Join(dir, "b.jpg")
	touch(t, a)
	touch(t, b)

	c := newCoordinator(Options{})
	c.Expect(dir, 2)

	// reported out of order; commit order is by source path
	if ops := c.Submit(dir, Intent{Source: b, Payload: "receipt"}); ops != nil {
		t.Fatalf("batch committed early: %+v", ops)
	}
	ops := c.Submit(dir, Intent{Source: a, Payload: "receipt"})

	if len(ops) != 2 {
		t.Fatalf("ops = %+v", ops)
	}
	if ops[0].Source != a || ops[0].Target != filepath.Join(dir, "receipt.jpg") {
		t.Errorf("first op = %+v", ops[0])
	}
	if ops[1].Source != b || ops[1].Target != filepath.Join(dir, "receipt-1.jpg") {
		t.Errorf("second op = %+v", ops[1])
	}

	names := listDir(t, dir)
	if len(names) != 2 || names[0] != "receipt-1.jpg" || names[1] != "receipt.jpg" {
		t.Errorf("dir = %v", names)
	}
}

func TestCoordinator_Idempotent(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.jpg"))
	touch(t, filepath.Join(dir, "b.jpg"))

	run := func() []Operation {
		names := listDir(t, dir)
		c := newCoordinator(Options{})
		c.Expect(dir, len(names))
		var ops []Operation
		for _, n := range names {
			ops = append(ops, c.Submit(dir, Intent{Source: filepath.Join(dir, n), Payload: "receipt"})...)
		}
		return ops
	}

	run()
	first := listDir(t, dir)

	for _, op := range run() {
		if op.Status != Unchanged {
			t.Errorf("second run: %s -> %s is %v", op.Source, op.Target, op.Status)
		}
	}
	second := listDir(t, dir)

	if len(first) != len(second) || first[0] != second[0] || first[1] != second[1] {
		t.Errorf("second run changed names: %v -> %v", first, second)
	}
}

func TestCoordinator_ExistingFileNotOverwritten(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "receipt.jpg")
	src := filepath.Join(dir, "scan.jpg")
	touch(t, existing)
	touch(t, src)

	c := newCoordinator(Options{})
	c.Expect(dir, 1)
	ops := c.Submit(dir, Intent{Source: src, Payload: "receipt"})

	if ops[0].Target != filepath.Join(dir, "receipt-1.jpg") {
		t.Errorf("target = %s", ops[0].Target)
	}
	data, _ := os.ReadFile(existing)
	if string(data) != "receipt.jpg" {
		t.Errorf("existing file was overwritten: %q", data)
	}
}

func TestCoordinator_Conflict(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "receipt.jpg"))
	touch(t, filepath.Join(dir, "receipt-1.jpg"))
	src := filepath.Join(dir, "scan.jpg")
	touch(t, src)

	c := NewCoordinator(storage.NewLocal(), Options{MaxSuffix: 1}, zap.NewNop())
	c.Expect(dir, 1)
	ops := c.Submit(dir, Intent{Source: src, Payload: "receipt"})

	if ops[0].Status != Conflict {
		t.Fatalf("status = %v", ops[0].Status)
	}
	var conflict *ConflictError
	if !errors.As(ops[0].Err, &conflict) {
		t.Errorf("expected ConflictError, got %v", ops[0].Err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("source moved on conflict: %v", err)
	}
}

func TestCoordinator_TraversalStaysInDirectory(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "sub")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "x.png")
	touch(t, src)

	c := newCoordinator(Options{})
	c.Expect(dir, 1)
	ops := c.Submit(dir, Intent{Source: src, Payload: "../../evil"})

	if ops[0].Status != Renamed {
		t.Fatalf("op = %+v", ops[0])
	}
	if filepath.Dir(ops[0].Target) != dir {
		t.Errorf("target %s escaped %s", ops[0].Target, dir)
	}
}

func TestCoordinator_DryRun(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jpg")
	b := filepath.Join(dir, "b.jpg")
	touch(t, a)
	touch(t, b)

	c := newCoordinator(Options{DryRun: true})
	c.Expect(dir, 2)
	c.Submit(dir, Intent{Source: a, Payload: "receipt"})
	ops := c.Submit(dir, Intent{Source: b, Payload: "receipt"})

	if ops[0].Status != Planned || ops[1].Status != Planned {
		t.Fatalf("ops = %+v", ops)
	}
	if ops[1].Target != filepath.Join(dir, "receipt-1.jpg") {
		t.Errorf("second plan = %s", ops[1].Target)
	}
	if names := listDir(t, dir); names[0] != "a.jpg" || names[1] != "b.jpg" {
		t.Errorf("dry run touched files: %v", names)
	}
}

func TestCoordinator_ForfeitAndFlush(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.jpg")
	touch(t, a)

	c := newCoordinator(Options{})
	c.Expect(dir, 3)
	if ops := c.Forfeit(dir); ops != nil {
		t.Fatalf("unexpected ops %+v", ops)
	}
	if ops := c.Submit(dir, Intent{Source: a, Payload: "S"}); ops != nil {
		t.Fatalf("unexpected ops %+v", ops)
	}

	// third task never reports
	ops := c.Flush()
	if len(ops) != 1 || ops[0].Status != Renamed {
		t.Fatalf("flush ops = %+v", ops)
	}
	if ops := c.Flush(); len(ops) != 0 {
		t.Errorf("second flush returned %+v", ops)
	}
}

func TestCoordinator_ConcurrentReportsAreDeterministic(t *testing.T) {
	mapping := func() map[string]string {
		dir := t.TempDir()
		var srcs []string
		for _, n := range []string{"a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg", "f.jpg"} {
			p := filepath.Join(dir, n)
			touch(t, p)
			srcs = append(srcs, p)
		}

		c := newCoordinator(Options{})
		c.Expect(dir, len(srcs))

		var (
			mu  sync.Mutex
			ops []Operation
			wg  sync.WaitGroup
		)
		for i := len(srcs) - 1; i >= 0; i-- {
			wg.Add(1)
			go func(src string) {
				defer wg.Done()
				got := c.Submit(dir, Intent{Source: src, Payload: "same"})
				mu.Lock()
				ops = append(ops, got...)
				mu.Unlock()
			}(srcs[i])
		}
		wg.Wait()

		m := make(map[string]string)
		for _, op := range ops {
			m[filepath.Base(op.Source)] = filepath.Base(op.Target)
		}
		return m
	}

	want := map[string]string{
		"a.jpg": "same.jpg", "b.jpg": "same-1.jpg", "c.jpg": "same-2.jpg",
		"d.jpg": "same-3.jpg", "e.jpg": "same-4.jpg", "f.jpg": "same-5.jpg",
	}
	for i := 0; i < 5; i++ {
		got := mapping()
		for src, target := range want {
			if got[src] != target {
				t.Fatalf("iteration %d: %s -> %s, want %s", i, src, got[src], target)
			}
		}
	}
}

type racingFS struct {
	*storage.Local
	once sync.Once
}

// RenameNoReplace creates the target just before the first rename, as if
// another process won the race.
func (r *racingFS) RenameNoReplace(oldpath, newpath string) error {
	r.once.Do(func() {
		_ = os.WriteFile(newpath, []byte("intruder"), 0644)
	})
	return r.Local.RenameNoReplace(oldpath, newpath)
}

func TestCoordinator_LostRaceTriesNextCandidate(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.jpg")
	touch(t, src)

	c := NewCoordinator(&racingFS{Local: storage.NewLocal()}, Options{MaxSuffix: 5}, zap.NewNop())
	c.Expect(dir, 1)
	ops := c.Submit(dir, Intent{Source: src, Payload: "receipt"})

	if ops[0].Status != Renamed || ops[0].Target != filepath.Join(dir, "receipt-1.jpg") {
		t.Fatalf("op = %+v", ops[0])
	}
	data, _ := os.ReadFile(filepath.Join(dir, "receipt.jpg"))
	if string(data) != "intruder" {
		t.Errorf("intruder file overwritten: %q", data)
	}
}

func TestCoordinator_SwappedNames(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	touch(t, a)
	touch(t, b)

	c := newCoordinator(Options{})
	c.Expect(dir, 2)
	c.Submit(dir, Intent{Source: a, Payload: "b"})
	ops := c.Submit(dir, Intent{Source: b, Payload: "a"})

	if len(ops) != 2 {
		t.Fatalf("ops = %+v", ops)
	}
	if ops[0].Source != a || ops[0].Target != b || ops[0].Status != Renamed {
		t.Errorf("first op = %+v", ops[0])
	}
	if ops[1].Source != b || ops[1].Target != a || ops[1].Status != Renamed {
		t.Errorf("second op = %+v", ops[1])
	}

	if names := listDir(t, dir); len(names) != 2 || names[0] != "a.png" || names[1] != "b.png" {
		t.Fatalf("dir = %v", names)
	}
	if data, _ := os.ReadFile(b); string(data) != "a.png" {
		t.Errorf("b.png holds %q, want the former a.png", data)
	}

	// files now carry their own names
	again := newCoordinator(Options{})
	again.Expect(dir, 2)
	again.Submit(dir, Intent{Source: a, Payload: "a"})
	for _, op := range again.Submit(dir, Intent{Source: b, Payload: "b"}) {
		if op.Status != Unchanged {
			t.Errorf("second run: %s -> %s is %v", op.Source, op.Target, op.Status)
		}
	}
}

func TestCoordinator_ChainWaitsForTargetToMove(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	touch(t, a)
	touch(t, b)

	c := newCoordinator(Options{})
	c.Expect(dir, 2)
	c.Submit(dir, Intent{Source: a, Payload: "b"})
	ops := c.Submit(dir, Intent{Source: b, Payload: "c"})

	if ops[0].Target != b || ops[1].Target != filepath.Join(dir, "c.png") {
		t.Errorf("ops = %+v", ops)
	}
	if names := listDir(t, dir); len(names) != 2 || names[0] != "b.png" || names[1] != "c.png" {
		t.Errorf("dir = %v", names)
	}
}

func TestCoordinator_DryRunSwap(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.png")
	b := filepath.Join(dir, "b.png")
	touch(t, a)
	touch(t, b)

	c := newCoordinator(Options{DryRun: true})
	c.Expect(dir, 2)
	c.Submit(dir, Intent{Source: a, Payload: "b"})
	ops := c.Submit(dir, Intent{Source: b, Payload: "a"})

	if ops[0].Target != b || ops[0].Status != Planned || ops[1].Target != a || ops[1].Status != Planned {
		t.Errorf("ops = %+v", ops)
	}
	if data, _ := os.ReadFile(a); string(data) != "a.png" {
		t.Errorf("dry run moved a.png: %q", data)
	}
}

func TestPlan_BreaksCycles(t *testing.T) {
	dir := "/d"
	intents := []Intent{
		{Source: "/d/a.png", Payload: "b"},
		{Source: "/d/b.png", Payload: "c"},
		{Source: "/d/c.png", Payload: "a"},
		{Source: "/d/x.png", Payload: "a"},
	}

	var got []string
	for _, s := range plan(dir, intents) {
		name := filepath.Base(s.intent.Source)
		if s.park {
			name = "park " + name
		}
		got = append(got, name)
	}

	want := []string{"park a.png", "c.png", "b.png", "a.png", "x.png"}
	if len(got) != len(want) {
		t.Fatalf("plan = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("plan = %v, want %v", got, want)
		}
	}
}
