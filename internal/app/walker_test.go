package app

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"go.uber.org/zap"

	"qrrename/internal/metrics"
	"qrrename/internal/worker"
)

type countingRegistrar map[string]int

func (c countingRegistrar) Expect(dir string, n int) {
	c[dir] += n
}

func mkfile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func walk(t *testing.T, opts WalkerOptions, roots ...string) ([]string, countingRegistrar, []*RootError) {
	t.Helper()
	if opts.Extensions == nil {
		opts.Extensions = []string{".jpg", ".png"}
	}
	reg := countingRegistrar{}
	w := NewDirectoryWalker(opts, reg, metrics.New(), zap.NewNop())

	tasks := make(chan worker.Task, 100)
	rootErrs := w.Walk(context.Background(), roots, tasks)
	close(tasks)

	var paths []string
	for task := range tasks {
		if filepath.Dir(task.Path) != task.Dir {
			t.Errorf("task %s registered under %s", task.Path, task.Dir)
		}
		paths = append(paths, task.Path)
	}
	sort.Strings(paths)
	return paths, reg, rootErrs
}

func TestWalker_ExtensionsAndRecursion(t *testing.T) {
	root := t.TempDir()
	mkfile(t, filepath.Join(root, "a.jpg"))
	mkfile(t, filepath.Join(root, "B.JPG"))
	mkfile(t, filepath.Join(root, "notes.txt"))
	mkfile(t, filepath.Join(root, "sub", "c.png"))
	mkfile(t, filepath.Join(root, "sub", "deeper", "d.jpg"))

	paths, reg, rootErrs := walk(t, WalkerOptions{}, root)

	if len(rootErrs) != 0 {
		t.Fatalf("root errors: %v", rootErrs)
	}
	want := []string{
		filepath.Join(root, "B.JPG"),
		filepath.Join(root, "a.jpg"),
		filepath.Join(root, "sub", "c.png"),
		filepath.Join(root, "sub", "deeper", "d.jpg"),
	}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v", paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %s, want %s", i, paths[i], want[i])
		}
	}
	if reg[root] != 2 || reg[filepath.Join(root, "sub")] != 1 {
		t.Errorf("registered counts = %v", reg)
	}
}

func TestWalker_Exclude(t *testing.T) {
	root := t.TempDir()
	mkfile(t, filepath.Join(root, "UMMZI_1.jpg"))
	mkfile(t, filepath.Join(root, "scan.jpg"))
	mkfile(t, filepath.Join(root, ".thumbs", "t.jpg"))

	paths, _, _ := walk(t, WalkerOptions{Exclude: []string{"UMMZI*", ".*"}}, root)

	if len(paths) != 1 || filepath.Base(paths[0]) != "scan.jpg" {
		t.Errorf("paths = %v", paths)
	}
}

func TestWalker_OverlappingRoots(t *testing.T) {
	root := t.TempDir()
	mkfile(t, filepath.Join(root, "a.jpg"))
	mkfile(t, filepath.Join(root, "sub", "b.jpg"))

	paths, _, _ := walk(t, WalkerOptions{}, root, filepath.Join(root, "sub"), root)

	if len(paths) != 2 {
		t.Errorf("paths = %v, want each file once", paths)
	}
}

func TestWalker_SymlinkCycle(t *testing.T) {
	root := t.TempDir()
	mkfile(t, filepath.Join(root, "sub", "a.jpg"))
	if err := os.Symlink(root, filepath.Join(root, "sub", "loop")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "sub", "a.jpg"), filepath.Join(root, "alias.jpg")); err != nil {
		t.Fatal(err)
	}

	paths, _, _ := walk(t, WalkerOptions{FollowSymlinks: true}, root)
	if len(paths) != 1 {
		t.Errorf("paths = %v, want a single file", paths)
	}

	paths, _, _ = walk(t, WalkerOptions{FollowSymlinks: false}, root)
	if len(paths) != 1 || filepath.Base(paths[0]) != "a.jpg" {
		t.Errorf("without following: paths = %v", paths)
	}
}

func TestWalker_BadRoots(t *testing.T) {
	root := t.TempDir()
	mkfile(t, filepath.Join(root, "a.jpg"))
	file := filepath.Join(root, "a.jpg")
	missing := filepath.Join(root, "missing")

	paths, _, rootErrs := walk(t, WalkerOptions{}, missing, file, root)

	if len(paths) != 1 {
		t.Errorf("paths = %v", paths)
	}
	if len(rootErrs) != 2 {
		t.Fatalf("root errors = %v", rootErrs)
	}
	if !errors.Is(rootErrs[0], fs.ErrNotExist) {
		t.Errorf("missing root error = %v", rootErrs[0])
	}
	if rootErrs[1].Root != file {
		t.Errorf("second root error = %v", rootErrs[1])
	}
}

func TestWalker_StopsOnCancel(t *testing.T) {
	root := t.TempDir()
	for _, n := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		mkfile(t, filepath.Join(root, n))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewDirectoryWalker(WalkerOptions{Extensions: []string{".jpg"}}, countingRegistrar{}, metrics.New(), zap.NewNop())
	tasks := make(chan worker.Task)
	done := make(chan struct{})
	go func() {
		w.Walk(ctx, []string{root}, tasks)
		close(done)
	}()
	<-done
}

func TestWalker_SymlinkYieldsToTarget(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "x.png")
	mkfile(t, target)
	if err := os.Symlink(target, filepath.Join(root, "link.png")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	paths, reg, _ := walk(t, WalkerOptions{FollowSymlinks: true}, root)

	if len(paths) != 1 || paths[0] != target {
		t.Errorf("paths = %v, want only %s", paths, target)
	}
	if reg[root] != 1 {
		t.Errorf("registered counts = %v", reg)
	}
}

func TestWalker_SymlinkOutsideRootsIsScanned(t *testing.T) {
	outside := t.TempDir()
	root := t.TempDir()
	mkfile(t, filepath.Join(outside, "x.png"))
	link := filepath.Join(root, "link.png")
	if err := os.Symlink(filepath.Join(outside, "x.png"), link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	paths, _, _ := walk(t, WalkerOptions{FollowSymlinks: true}, root)

	if len(paths) != 1 || paths[0] != link {
		t.Errorf("paths = %v, want %s", paths, link)
	}
}

func TestWalker_SymlinkToExcludedTargetIsScanned(t *testing.T) {
	root := t.TempDir()
	mkfile(t, filepath.Join(root, ".cache", "x.png"))
	link := filepath.Join(root, "link.png")
	if err := os.Symlink(filepath.Join(root, ".cache", "x.png"), link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	paths, _, _ := walk(t, WalkerOptions{FollowSymlinks: true, Exclude: []string{".*"}}, root)

	if len(paths) != 1 || paths[0] != link {
		t.Errorf("paths = %v, want %s", paths, link)
	}
}
