package history

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/errors"
	"github.com/rohankatakam/suphist/internal/suppression"
)

// Strategy names the traversal that discovered a set of histories.
type Strategy string

const (
	StrategyCommitWalk  Strategy = "commit-walk"
	StrategyLineHistory Strategy = "line-history"
)

// Discovery is the immutable output of one traversal over one repository.
type Discovery struct {
	Strategy  Strategy
	Histories []History
	// Renames are the file renames the traversal crossed.
	Renames []Rename
}

// Rename is a file moved from one path to another at some commit.
type Rename struct {
	From string
	To   string
}

// Position is a line of a file at a commit.
type Position struct {
	Commit string
	Path   string
	Line   int
}

// LineLinker relates lines across commits, typically by diffing the two commits
// and remapping. from must be an ancestor of (or equal to) to.
type LineLinker interface {
	Linked(ctx context.Context, from, to Position, m suppression.Marker) (bool, error)
}

// Conflict is a set of histories that look alike but were not merged with confidence.
type Conflict struct {
	Reason    string
	Histories []History
}

// Invalid is a reconciled history that breaks an invariant.
type Invalid struct {
	History History
	Err     error
}

// Result is the reconciled set of histories for one repository.
type Result struct {
	Histories []History
	Conflicts []Conflict
	Invalid   []Invalid
}

// ReconcileOptions configure Reconcile.
type ReconcileOptions struct {
	// Linker relates lines across commits; nil limits matching to identical positions.
	Linker LineLinker
	// Strict turns an invariant violation into an error for the whole repository.
	Strict bool
	Logger logrus.FieldLogger
}

// Accumulator collects the discoveries of one repository run. It is owned by a
// single orchestration call and never shared between repositories.
type Accumulator struct {
	discoveries []Discovery
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Add records one traversal's output.
func (a *Accumulator) Add(d Discovery) {
	a.discoveries = append(a.discoveries, d)
}

// Discoveries returns what has been recorded so far.
func (a *Accumulator) Discoveries() []Discovery {
	return a.discoveries
}

// Reconcile merges the recorded discoveries.
func (a *Accumulator) Reconcile(ctx context.Context, opts ReconcileOptions) (*Result, error) {
	return Reconcile(ctx, a.discoveries, opts)
}

type candidate struct {
	strategy Strategy
	history  History
}

// Reconcile merges histories discovered by independent traversals into one
// deduplicated set. Two histories are the same suppression when they track the
// same marker in the same file and their positions coincide or are linked across
// commits. Positions in different files are only linked when a rename connects
// the files. A merge placeholder is absorbed by the one precise add whose line
// lands on the placeholder's line in the merge result; each add absorbs at most
// one placeholder. IDs are assigned after sorting by the date of each history's
// first event.
func Reconcile(ctx context.Context, discoveries []Discovery, opts ReconcileOptions) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	var cands []candidate
	for _, d := range discoveries {
		for _, h := range d.Histories {
			if len(h.Events) == 0 {
				continue
			}
			cands = append(cands, candidate{strategy: d.Strategy, history: h})
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return lessHistory(cands[i].history, cands[j].history)
	})

	uf := newUnionFind(len(cands))
	paths := newPathGroups(discoveries)
	result := &Result{}

	// Phase 1: link candidates tracking the same marker
	groups := make(map[groupKey][]int)
	var order []groupKey
	for i, c := range cands {
		k := keyFor(c.history.Marker())
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	for _, k := range order {
		members := groups[k]
		for x := 0; x < len(members); x++ {
			for y := x + 1; y < len(members); y++ {
				i, j := members[x], members[y]
				if uf.find(i) == uf.find(j) {
					continue
				}
				same, err := sameSuppression(ctx, opts.Linker, paths, cands[i].history, cands[j].history)
				if err != nil {
					return nil, err
				}
				if !same {
					continue
				}
				if conflictingDeletes(cands[i].history, cands[j].history) {
					result.Conflicts = append(result.Conflicts, Conflict{
						Reason:    "same position but different deletions",
						Histories: []History{cands[i].history, cands[j].history},
					})
					continue
				}
				uf.union(i, j)
			}
		}
	}

	// Phase 2: let precise adds absorb merge placeholders
	claimed := make(map[int]bool)
	for _, k := range order {
		members := groups[k]
		for _, i := range members {
			add := cands[i].history.Add()
			if add.Op != OpMergeAdd || add.Line != LineMergeUnknown {
				continue
			}
			target, ambiguous, err := placeholderTarget(ctx, opts.Linker, paths, cands, members, uf, claimed, i)
			if err != nil {
				return nil, err
			}
			if ambiguous != nil {
				result.Conflicts = append(result.Conflicts, *ambiguous)
				continue
			}
			if target >= 0 {
				uf.union(target, i)
				claimed[uf.find(target)] = true
			}
		}
	}

	// Phase 3: merge clusters and validate
	clusters := make(map[int][]int)
	var roots []int
	for i := range cands {
		r := uf.find(i)
		if _, ok := clusters[r]; !ok {
			roots = append(roots, r)
		}
		clusters[r] = append(clusters[r], i)
	}

	var merged []History
	for _, r := range roots {
		h, conflict := mergeCluster(cands, clusters[r])
		if conflict != nil {
			result.Conflicts = append(result.Conflicts, *conflict)
		}
		if err := h.Validate(); err != nil {
			if opts.Strict {
				return nil, err
			}
			result.Invalid = append(result.Invalid, Invalid{History: h, Err: err})
			log.WithFields(logrus.Fields{
				"stage": errors.StageReconcile,
				"path":  h.Add().Path,
			}).WithError(err).Warn("Dropping invalid suppression history")
			continue
		}
		merged = append(merged, h)
	}

	for _, c := range result.Conflicts {
		log.WithFields(logrus.Fields{
			"stage":     errors.StageReconcile,
			"histories": len(c.Histories),
		}).Info("Unresolved history conflict: " + c.Reason)
	}

	// Phase 4: number in chronological order
	sort.SliceStable(merged, func(i, j int) bool {
		return lessHistory(merged[i], merged[j])
	})
	for i := range merged {
		merged[i].ID = fmt.Sprintf("# S%d", i+1)
	}
	result.Histories = merged
	return result, nil
}

type groupKey struct {
	suppressor string
	kind       string
	text       string
}

// keyFor groups markers that can be the same suppression: kinded markers by kind,
// bare markers by text.
func keyFor(m suppression.Marker) groupKey {
	if m.Kind != "" {
		return groupKey{suppressor: m.Suppressor, kind: m.Kind}
	}
	return groupKey{suppressor: m.Suppressor, text: m.Text}
}

func sameSuppression(ctx context.Context, linker LineLinker, paths *pathGroups, a, b History) (bool, error) {
	if samePosition(a.Add(), b.Add()) {
		return true, nil
	}
	if da, ok := a.Delete(); ok {
		if db, ok := b.Delete(); ok && samePosition(da, db) {
			return true, nil
		}
	}

	if linker == nil {
		return false, nil
	}
	ea, eb := a.Add(), b.Add()
	if ea.Line <= 0 || eb.Line <= 0 || !paths.related(ea.Path, eb.Path) {
		return false, nil
	}
	if eb.Date.Before(ea.Date) {
		ea, eb = eb, ea
	}
	// a history that ended before the other began cannot be the same suppression
	for _, h := range []History{a, b} {
		if del, ok := h.Delete(); ok && del.Date.Before(eb.Date) {
			return false, nil
		}
	}

	linked, err := linker.Linked(ctx,
		Position{Commit: ea.Commit, Path: ea.Path, Line: ea.Line},
		Position{Commit: eb.Commit, Path: eb.Path, Line: eb.Line},
		ea.Marker())
	if err != nil {
		return false, errors.ExternalErrorf(err, "linking %s to %s", ea, eb).AtStage(errors.StageReconcile)
	}
	return linked, nil
}

func samePosition(a, b ChangeEvent) bool {
	return a.Commit == b.Commit && a.Path == b.Path && a.Line == b.Line && a.Line > 0
}

func conflictingDeletes(a, b History) bool {
	da, okA := a.Delete()
	db, okB := b.Delete()
	return okA && okB && da.Commit != db.Commit
}

// placeholderTarget finds the precise add a merge placeholder stands for among
// the adds of a related path, dated at or before the merge, not deleted before it
// and not already holding a placeholder. With a linker and a known merge line the
// add must link to that line exactly; without them the most recent add wins and a
// tie is ambiguous.
func placeholderTarget(ctx context.Context, linker LineLinker, paths *pathGroups, cands []candidate, members []int,
	uf *unionFind, claimed map[int]bool, placeholder int) (int, *Conflict, error) {
	p := cands[placeholder].history.Add()
	var eligible []int
	for _, j := range members {
		if j == placeholder || uf.find(j) == uf.find(placeholder) || claimed[uf.find(j)] {
			continue
		}
		h := cands[j].history
		add := h.Add()
		if p.MergeLine > 0 && add.Commit == p.Commit && add.Path == p.Path && add.Line == p.MergeLine {
			return j, nil, nil
		}
		if !add.Precise() || !paths.related(add.Path, p.Path) || add.Date.After(p.Date) {
			continue
		}
		if del, ok := h.Delete(); ok && del.Date.Before(p.Date) {
			continue
		}
		eligible = append(eligible, j)
	}

	if linker != nil && p.MergeLine > 0 {
		at := Position{Commit: p.Commit, Path: p.Path, Line: p.MergeLine}
		for _, j := range eligible {
			add := cands[j].history.Add()
			linked, err := linker.Linked(ctx, Position{Commit: add.Commit, Path: add.Path, Line: add.Line}, at, add.Marker())
			if err != nil {
				return -1, nil, errors.ExternalErrorf(err, "linking %s to merge %s", add, p.Commit).AtStage(errors.StageReconcile)
			}
			if linked {
				return j, nil, nil
			}
		}
		return -1, nil, nil
	}

	best := -1
	var tied []History
	for _, j := range eligible {
		add := cands[j].history.Add()
		switch {
		case best < 0 || add.Date.After(cands[best].history.Add().Date):
			best = j
			tied = nil
		case add.Date.Equal(cands[best].history.Add().Date) && uf.find(j) != uf.find(best):
			tied = append(tied, cands[j].history)
		}
	}
	if len(tied) > 0 {
		return -1, &Conflict{
			Reason:    "merge placeholder matches several precise adds",
			Histories: append([]History{cands[placeholder].history, cands[best].history}, tied...),
		}, nil
	}
	return best, nil, nil
}

// pathGroups relates paths connected by renames.
type pathGroups struct {
	parent map[string]string
}

func newPathGroups(discoveries []Discovery) *pathGroups {
	g := &pathGroups{parent: make(map[string]string)}
	for _, d := range discoveries {
		for _, r := range d.Renames {
			g.union(r.From, r.To)
		}
	}
	return g
}

func (g *pathGroups) find(p string) string {
	for {
		next, ok := g.parent[p]
		if !ok {
			return p
		}
		p = next
	}
}

func (g *pathGroups) union(a, b string) {
	ra, rb := g.find(a), g.find(b)
	if ra != rb {
		g.parent[rb] = ra
	}
}

func (g *pathGroups) related(a, b string) bool {
	return a == b || g.find(a) == g.find(b)
}

// mergeCluster folds the histories of one cluster into one. The add prefers a
// precise event over a snapshot or merge placeholder, then the earliest date; the
// delete is the earliest one found.
func mergeCluster(cands []candidate, members []int) (History, *Conflict) {
	var add ChangeEvent
	var del *ChangeEvent
	deletes := make(map[string]bool)

	for n, i := range members {
		h := cands[i].history
		a := h.Add()
		if n == 0 || betterAdd(a, add) {
			add = a
		}
		if d, ok := h.Delete(); ok {
			deletes[d.Commit] = true
			if del == nil || d.Date.Before(del.Date) {
				dd := d
				del = &dd
			}
		}
	}

	merged := New(add, del)
	if len(deletes) > 1 {
		var hs []History
		for _, i := range members {
			hs = append(hs, cands[i].history)
		}
		return merged, &Conflict{Reason: "merged histories disagree on the deleting commit", Histories: hs}
	}
	return merged, nil
}

func betterAdd(a, b ChangeEvent) bool {
	if a.Precise() != b.Precise() {
		return a.Precise()
	}
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	return a.Op == OpAdd && b.Op != OpAdd
}

func lessHistory(a, b History) bool {
	ea, eb := a.Add(), b.Add()
	if !ea.Date.Equal(eb.Date) {
		return ea.Date.Before(eb.Date)
	}
	if ea.Path != eb.Path {
		return ea.Path < eb.Path
	}
	if ea.Line != eb.Line {
		return ea.Line < eb.Line
	}
	if ea.WarningType != eb.WarningType {
		return ea.WarningType < eb.WarningType
	}
	if ea.WarningKind != eb.WarningKind {
		return ea.WarningKind < eb.WarningKind
	}
	return ea.Commit < eb.Commit
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

// union keeps the lower index as root so cluster order follows candidate order.
func (u *unionFind) union(i, j int) {
	ri, rj := u.find(i), u.find(j)
	if ri == rj {
		return
	}
	if rj < ri {
		ri, rj = rj, ri
	}
	u.parent[rj] = ri
}
