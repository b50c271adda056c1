package window

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/suphist/internal/errors"
)

func day(n int) time.Time {
	return time.Date(2021, 1, n, 0, 0, 0, 0, time.UTC)
}

func ids(l List) []string {
	out := make([]string, 0, len(l))
	for _, c := range l {
		out = append(out, c.ID)
	}
	return out
}

func TestReadList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "oldest first with header",
			input: "commit,date\naaaaaaa,2021-01-01T00:00:00Z\nbbbbbbb,2021-01-02T00:00:00Z\n",
			want:  []string{"aaaaaaa", "bbbbbbb"},
		},
		{
			name:  "newest first is reversed",
			input: "bbbbbbb,2021-01-02T00:00:00Z\naaaaaaa,2021-01-01T00:00:00Z\n",
			want:  []string{"aaaaaaa", "bbbbbbb"},
		},
		{
			name:  "full hashes are shortened and deduplicated",
			input: "aaaaaaa0000000000000000000000000000000000,2021-01-01T00:00:00Z\naaaaaaa,2021-01-01T00:00:00Z\n",
			want:  []string{"aaaaaaa"},
		},
		{
			name:  "comments and spaces",
			input: "# sampled\naaaaaaa, 2021-01-01T00:00:00Z\n",
			want:  []string{"aaaaaaa"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := ReadList(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(list))
		})
	}
}

func TestReadListErrors(t *testing.T) {
	_, err := ReadList(strings.NewReader("aaaaaaa,2021-01-01T00:00:00Z\nbbbbbbb,not-a-date\n"))
	require.Error(t, err)
	assert.Equal(t, errors.StageCommitList, errors.GetStage(err))

	_, err = ReadList(strings.NewReader("aaaaaaa\n"))
	require.Error(t, err)
}

func TestWriteListRoundTrip(t *testing.T) {
	list := List{{ID: "aaaaaaa", Date: day(1)}, {ID: "bbbbbbb", Date: day(2)}}
	var buf bytes.Buffer
	require.NoError(t, WriteList(&buf, list))

	path := filepath.Join(t.TempDir(), "commits.csv")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	got, err := LoadList(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "bbbbbbb", got[1].ID)
	assert.True(t, got[1].Date.Equal(day(2)))
}

func TestLoadListMissingFile(t *testing.T) {
	_, err := LoadList(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFileSystem))
}

func TestIndexAndIndexAt(t *testing.T) {
	list := List{{ID: "aaaaaaa", Date: day(1)}, {ID: "bbbbbbb", Date: day(3)}, {ID: "ccccccc", Date: day(5)}}

	assert.Equal(t, 1, list.Index("bbbbbbb"))
	assert.Equal(t, 1, list.Index("bbbbbbb0000000000"))
	assert.Equal(t, -1, list.Index("ddddddd"))

	assert.Equal(t, -1, list.IndexAt(day(1).Add(-time.Hour)))
	assert.Equal(t, 0, list.IndexAt(day(2)))
	assert.Equal(t, 1, list.IndexAt(day(3)))
	assert.Equal(t, 2, list.IndexAt(day(9)))
}

func TestSample(t *testing.T) {
	var list List
	for i := 1; i <= 10; i++ {
		list = append(list, Commit{ID: string(rune('a'+i-1)) + "000000", Date: day(i)})
	}

	got := list.Sample(4)
	require.Len(t, got, 4)
	assert.Equal(t, list[0], got[0])
	assert.Equal(t, list.Newest(), got[3])

	assert.Len(t, list.Sample(0), 10)
	assert.Len(t, list.Sample(20), 10)
	assert.Equal(t, List{list.Newest()}, list.Sample(1))
}
