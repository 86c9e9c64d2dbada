// Package rename resolves decoded payloads into target file names and
// performs the renames, one directory batch at a time.
package rename

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"qrrename/internal/storage"
)

// Status is the result of one rename operation
type Status int

const (
	Renamed Status = iota
	Unchanged
	Planned
	Conflict
	Failed
)

func (s Status) String() string {
	switch s {
	case Renamed:
		return "renamed"
	case Unchanged:
		return "unchanged"
	case Planned:
		return "planned"
	case Conflict:
		return "conflict"
	default:
		return "failed"
	}
}

// Intent is a decoded file waiting for its directory batch to commit
type Intent struct {
	Source  string
	Payload string
}

// Operation is the committed outcome of an Intent
type Operation struct {
	Source  string
	Target  string
	Payload string
	Status  Status
	Err     error
}

// Options configures collision handling
type Options struct {
	MaxSuffix int
	DryRun    bool
}

type dirState struct {
	mu       sync.Mutex
	expected int
	reported int
	intents  []Intent
	// claimed holds targets taken during this run, including dry-run plans
	claimed map[string]bool
	// vacated holds sources a dry run would have moved away
	vacated map[string]bool
}

// Coordinator collects decoded files per directory and commits each
// directory once all of its files have reported. Commits follow the order
// computed by plan, so the outcome does not depend on worker scheduling.
type Coordinator struct {
	fs     storage.FS
	opts   Options
	logger *zap.Logger

	mu   sync.Mutex
	dirs map[string]*dirState
}

// NewCoordinator creates a new rename coordinator
func NewCoordinator(fsys storage.FS, opts Options, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		fs:     fsys,
		opts:   opts,
		logger: logger,
		dirs:   make(map[string]*dirState),
	}
}

func (c *Coordinator) state(dir string) *dirState {
	st, ok := c.dirs[dir]
	if !ok {
		st = &dirState{claimed: make(map[string]bool), vacated: make(map[string]bool)}
		c.dirs[dir] = st
	}
	return st
}

// Expect registers n more tasks for dir. It must be called before any of
// those tasks can report.
func (c *Coordinator) Expect(dir string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state(dir).expected += n
}

// Submit reports a decoded file. When it completes its directory's batch the
// committed operations are returned.
func (c *Coordinator) Submit(dir string, intent Intent) []Operation {
	return c.report(dir, &intent)
}

// Forfeit reports a task of dir that produced nothing to rename.
func (c *Coordinator) Forfeit(dir string) []Operation {
	return c.report(dir, nil)
}

func (c *Coordinator) report(dir string, intent *Intent) []Operation {
	c.mu.Lock()
	st := c.state(dir)
	if intent != nil {
		st.intents = append(st.intents, *intent)
	}
	st.reported++
	if st.reported < st.expected {
		c.mu.Unlock()
		return nil
	}
	intents := st.intents
	st.intents = nil
	c.mu.Unlock()

	return c.commit(dir, st, intents)
}

// Flush commits every batch still waiting for tasks that will never report,
// e.g. after cancellation. Directories are flushed in sorted order.
func (c *Coordinator) Flush() []Operation {
	c.mu.Lock()
	type pending struct {
		dir     string
		st      *dirState
		intents []Intent
	}
	var batches []pending
	for dir, st := range c.dirs {
		if len(st.intents) == 0 {
			continue
		}
		batches = append(batches, pending{dir: dir, st: st, intents: st.intents})
		st.intents = nil
	}
	c.mu.Unlock()

	sort.Slice(batches, func(i, j int) bool { return batches[i].dir < batches[j].dir })

	var ops []Operation
	for _, b := range batches {
		ops = append(ops, c.commit(b.dir, b.st, b.intents)...)
	}
	return ops
}

func (c *Coordinator) commit(dir string, st *dirState, intents []Intent) []Operation {
	if len(intents) == 0 {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	sort.Slice(intents, func(i, j int) bool { return intents[i].Source < intents[j].Source })

	// parked maps a source moved aside to break a cycle to its current path
	parked := make(map[string]string)

	ops := make([]Operation, 0, len(intents))
	for _, s := range plan(dir, intents) {
		if s.park {
			if from, ok := c.park(dir, st, s.intent.Source); ok {
				parked[s.intent.Source] = from
			}
			continue
		}

		from, isParked := parked[s.intent.Source]
		if !isParked {
			from = s.intent.Source
		}
		op := c.resolve(dir, st, s.intent, from, isParked)
		if isParked && !c.opts.DryRun && (op.Status == Conflict || op.Status == Failed) {
			c.unpark(from, &op)
		}
		c.log(op)
		ops = append(ops, op)
	}

	sort.Slice(ops, func(i, j int) bool { return ops[i].Source < ops[j].Source })
	return ops
}

type step struct {
	intent Intent
	// park moves the source aside without resolving it
	park bool
}

// plan orders a batch sorted by source so that a file whose plain target is
// the source of another file in the batch commits after that file. Each
// cycle of such files is broken by parking its first member, which then
// commits last within the cycle.
func plan(dir string, intents []Intent) []step {
	index := make(map[string]int, len(intents))
	for i, in := range intents {
		index[in.Source] = i
	}

	next := make([]int, len(intents))
	for i, in := range intents {
		next[i] = -1
		stem, ext, err := TargetName(in.Payload, filepath.Ext(in.Source))
		if err != nil {
			continue
		}
		if j, ok := index[filepath.Join(dir, Candidate(stem, ext, 0))]; ok && j != i {
			next[i] = j
		}
	}

	const (
		fresh = iota
		onPath
		done
	)
	state := make([]int, len(intents))
	steps := make([]step, 0, len(intents)+1)

	for i := range intents {
		var path []int
		j := i
		for j >= 0 && state[j] == fresh {
			state[j] = onPath
			path = append(path, j)
			j = next[j]
		}
		if j >= 0 && state[j] == onPath {
			steps = append(steps, step{intent: intents[j], park: true})
		}
		for k := len(path) - 1; k >= 0; k-- {
			state[path[k]] = done
			steps = append(steps, step{intent: intents[path[k]]})
		}
	}
	return steps
}

// park moves source to a temporary name in dir and returns the new path.
// A dry run only marks the source as vacated.
func (c *Coordinator) park(dir string, st *dirState, source string) (string, bool) {
	if c.opts.DryRun {
		st.vacated[source] = true
		return source, true
	}

	tmp := filepath.Join(dir, ".qrrename-"+uuid.NewString()+filepath.Ext(source))
	if err := c.fs.RenameNoReplace(source, tmp); err != nil {
		c.logger.Warn("Failed to move file aside", zap.String("source", source), zap.Error(err))
		return "", false
	}
	c.logger.Debug("Moved file aside", zap.String("source", source), zap.String("tmp", tmp))
	return tmp, true
}

// unpark returns a parked file to its original name after its rename failed
func (c *Coordinator) unpark(from string, op *Operation) {
	if err := c.fs.RenameNoReplace(from, op.Source); err != nil {
		c.logger.Error("Parked file left under temporary name",
			zap.String("source", op.Source), zap.String("path", from), zap.Error(err))
		op.Target = from
	}
}

// resolve must be called with st.mu held. from is where the file currently
// is; it differs from in.Source only for a parked file.
func (c *Coordinator) resolve(dir string, st *dirState, in Intent, from string, parked bool) Operation {
	op := Operation{Source: in.Source, Payload: in.Payload}

	stem, ext, err := TargetName(in.Payload, filepath.Ext(in.Source))
	if err != nil {
		op.Status = Failed
		op.Err = &Error{Source: in.Source, Err: err}
		return op
	}

	for n := 0; n <= c.opts.MaxSuffix; n++ {
		target := filepath.Join(dir, Candidate(stem, ext, n))

		if target == in.Source && !parked {
			st.claimed[target] = true
			op.Target = target
			op.Status = Unchanged
			return op
		}
		if st.claimed[target] {
			continue
		}

		exists, err := storage.Exists(c.fs, target)
		if err != nil {
			op.Target = target
			op.Status = Failed
			op.Err = &Error{Source: in.Source, Target: target, Err: err}
			return op
		}
		if exists && !st.vacated[target] {
			continue
		}

		if c.opts.DryRun {
			st.claimed[target] = true
			op.Target = target
			op.Status = Planned
			if target == in.Source {
				op.Status = Unchanged
			} else {
				st.vacated[in.Source] = true
			}
			return op
		}

		err = c.fs.RenameNoReplace(from, target)
		if errors.Is(err, storage.ErrTargetExists) {
			// created by someone else since the existence check
			continue
		}
		if err != nil {
			op.Target = target
			op.Status = Failed
			op.Err = &Error{Source: in.Source, Target: target, Err: err}
			return op
		}

		st.claimed[target] = true
		op.Target = target
		op.Status = Renamed
		if target == in.Source {
			op.Status = Unchanged
		}
		return op
	}

	op.Status = Conflict
	op.Err = &ConflictError{Source: in.Source, Name: Candidate(stem, ext, 0), Tried: c.opts.MaxSuffix + 1}
	return op
}

func (c *Coordinator) log(op Operation) {
	switch op.Status {
	case Renamed:
		c.logger.Info("Renamed", zap.String("source", op.Source), zap.String("target", op.Target))
	case Planned:
		c.logger.Info("Would rename", zap.String("source", op.Source), zap.String("target", op.Target))
	case Unchanged:
		c.logger.Debug("Already named", zap.String("path", op.Source))
	default:
		c.logger.Error("Rename failed", zap.String("source", op.Source), zap.String("payload", op.Payload), zap.Error(op.Err))
	}
}

// ConflictError reports that every collision candidate was taken
type ConflictError struct {
	Source string
	Name   string
	Tried  int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("no free name for %s: %s and %d suffixed variants are taken", e.Source, e.Name, e.Tried-1)
}

// Error reports a rename that was attempted and failed; the file is left at
// its original path.
type Error struct {
	Source string
	Target string
	Err    error
}

func (e *Error) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("rename %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("rename %s to %s: %v", e.Source, e.Target, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
