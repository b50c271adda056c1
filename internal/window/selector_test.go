package window

import (
	"context"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/suphist/internal/git"
	"github.com/rohankatakam/suphist/internal/history"
)

type fakeChanges map[string][]string

func (f fakeChanges) Numstat(_ context.Context, from, to string) ([]git.ChangeSet, error) {
	paths, ok := f[from+".."+to]
	if !ok {
		return nil, fmt.Errorf("unexpected range %s..%s", from, to)
	}
	set := git.ChangeSet{ID: to}
	for _, p := range paths {
		set.Files = append(set.Files, git.FileChange{Path: p, Additions: 1})
	}
	return []git.ChangeSet{set}, nil
}

func sampleList() List {
	return List{
		{ID: "c000001", Date: day(1)},
		{ID: "c000003", Date: day(3)},
		{ID: "c000005", Date: day(5)},
		{ID: "c000007", Date: day(7)},
		{ID: "c000009", Date: day(9)},
	}
}

func ev(commit string, d int, path string, op history.Operation) history.ChangeEvent {
	return history.ChangeEvent{
		Commit:      commit,
		Date:        day(d),
		Path:        path,
		WarningType: "# type: ignore",
		Suppressor:  "mypy",
		Line:        3,
		Op:          op,
	}
}

func TestSelect(t *testing.T) {
	list := sampleList()

	tests := []struct {
		name string
		h    history.History
		want []string
	}{
		{
			name: "alive runs to newest",
			h:    history.New(ev("c000003", 3, "a.py", history.OpAdd), nil),
			want: []string{"c000003", "c000005", "c000007", "c000009"},
		},
		{
			name: "delete bounds the window inclusively",
			h: history.New(ev("c000003", 3, "a.py", history.OpAdd),
				ptr(ev("c000007", 7, "a.py", history.OpDelete))),
			want: []string{"c000003", "c000005", "c000007"},
		},
		{
			name: "file delete extends one commit",
			h: history.New(ev("c000003", 3, "a.py", history.OpAdd),
				ptr(ev("c000005", 5, "a.py", history.OpFileDelete))),
			want: []string{"c000003", "c000005", "c000007"},
		},
		{
			name: "file delete at newest cannot extend",
			h: history.New(ev("c000003", 3, "a.py", history.OpAdd),
				ptr(ev("c000009", 9, "a.py", history.OpFileDelete))),
			want: []string{"c000003", "c000005", "c000007", "c000009"},
		},
		{
			name: "unsampled events are placed by date",
			h: history.New(ev("d000004", 4, "a.py", history.OpAdd),
				ptr(ev("d000006", 6, "a.py", history.OpDelete))),
			want: []string{"c000005", "c000007"},
		},
		{
			name: "add before the list starts at the oldest",
			h:    history.New(ev("d000000", 0, "a.py", history.OpMergeAdd), nil),
			want: []string{"c000001", "c000003", "c000005", "c000007", "c000009"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Select(list, tt.h)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestSelectEmpty(t *testing.T) {
	got, err := Select(nil, history.New(ev("c000003", 3, "a.py", history.OpAdd), nil))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Select(sampleList(), history.History{ID: "# S1"})
	require.Error(t, err)
}

func TestFilterKeepsCommitsTouchingHistoryPaths(t *testing.T) {
	w := sampleList()[1:]
	changes := fakeChanges{
		"c000003..c000005": {"docs/readme.md"},
		"c000005..c000007": {"a.py", "b.py"},
		"c000007..c000009": {"pkg/a.py"},
	}
	logger, _ := test.NewNullLogger()

	got, err := Filter(context.Background(), changes, w, []string{"a.py", "pkg/a.py"}, logger)
	require.NoError(t, err)
	assert.Equal(t, []string{"c000003", "c000007", "c000009"}, ids(got))
}

func TestFilterPropagatesErrors(t *testing.T) {
	_, err := Filter(context.Background(), fakeChanges{}, sampleList(), []string{"a.py"}, nil)
	require.Error(t, err)
}

func TestRelevant(t *testing.T) {
	changes := fakeChanges{
		"c000005..c000007": {"a.py"},
	}
	h := history.New(ev("c000005", 5, "a.py", history.OpAdd), ptr(ev("c000007", 7, "a.py", history.OpDelete)))

	got, err := Relevant(context.Background(), changes, sampleList(), h, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c000005", "c000007"}, ids(got))
}

func ptr(e history.ChangeEvent) *history.ChangeEvent {
	return &e
}
