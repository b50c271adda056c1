package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/suphist/internal/config"
	"github.com/rohankatakam/suphist/internal/git"
)

type countingGit struct {
	calls map[string]int
}

func newCountingGit() *countingGit {
	return &countingGit{calls: make(map[string]int)}
}

func (g *countingGit) Log(_ context.Context, from, to string, _ ...string) (string, error) {
	g.calls["log"]++
	return "log " + from + ".." + to, nil
}

func (g *countingGit) Diff(_ context.Context, from, to string, paths ...string) (string, error) {
	g.calls["diff"]++
	return "diff " + from + ".." + to, nil
}

func (g *countingGit) LineLog(_ context.Context, commit, path string, line int) (string, error) {
	g.calls["linelog"]++
	return "linelog", nil
}

func (g *countingGit) Grep(_ context.Context, commit string, _ []string, _ ...string) (string, error) {
	g.calls["grep"]++
	return "", nil
}

func (g *countingGit) Show(_ context.Context, commit, path string) (string, error) {
	g.calls["show"]++
	return "content of " + path, nil
}

func (g *countingGit) Numstat(_ context.Context, from, to string) ([]git.ChangeSet, error) {
	g.calls["numstat"]++
	return []git.ChangeSet{{ID: to, Files: []git.FileChange{{Path: "a.py", Additions: 2}}}}, nil
}

func TestKey(t *testing.T) {
	assert.Equal(t, "log:django:a..b:", Key("log", "django", "a..b", ""))
	assert.Equal(t, "linelog:r:c:a.py:3", Key("linelog", "r", "c", "a.py", "3"))
}

func TestBoltStore(t *testing.T) {
	logger, _ := test.NewNullLogger()
	dir := t.TempDir()
	ctx := context.Background()

	b, err := OpenBolt(dir, logger)
	require.NoError(t, err)

	_, found, err := b.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, b.Set(ctx, "k", []byte("v")))
	require.NoError(t, b.Close())

	reopened, err := OpenBolt(dir, logger)
	require.NoError(t, err)
	defer reopened.Close()
	got, found, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), got)
}

func TestRepositoryMemoryLayer(t *testing.T) {
	g := newCountingGit()
	r := NewRepository(g, "demo", nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := r.Log(ctx, "a", "b")
		require.NoError(t, err)
		assert.Equal(t, "log a..b", out)
	}
	_, err := r.Log(ctx, "b", "c")
	require.NoError(t, err)

	assert.Equal(t, 2, g.calls["log"])
	hits, misses := r.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(2), misses)
}

func TestRepositoryPersistsAcrossRuns(t *testing.T) {
	logger, _ := test.NewNullLogger()
	store, err := OpenBolt(t.TempDir(), logger)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	first := newCountingGit()
	r1 := NewRepository(first, "demo", store, logger)
	sets, err := r1.Numstat(ctx, "a", "b")
	require.NoError(t, err)
	_, err = r1.Show(ctx, "b", "a.py")
	require.NoError(t, err)

	second := newCountingGit()
	r2 := NewRepository(second, "demo", store, logger)
	cached, err := r2.Numstat(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, sets, cached)
	content, err := r2.Show(ctx, "b", "a.py")
	require.NoError(t, err)
	assert.Equal(t, "content of a.py", content)
	assert.Empty(t, second.calls)

	other := NewRepository(second, "other", store, logger)
	_, err = other.Show(ctx, "b", "a.py")
	require.NoError(t, err)
	assert.Equal(t, 1, second.calls["show"], "keys are namespaced per repository")
}

func TestNewStore(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx := context.Background()

	s, err := NewStore(ctx, config.CacheConfig{Type: "none"}, logger)
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = NewStore(ctx, config.CacheConfig{Type: "bolt", Directory: t.TempDir()}, logger)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = NewStore(ctx, config.CacheConfig{Type: "memcached"}, logger)
	require.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("SUPHIST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SUPHIST_TEST_REDIS_ADDR not set")
	}
	logger, _ := test.NewNullLogger()
	ctx := context.Background()

	r, err := NewRedisStore(ctx, addr, "", time.Minute, logger)
	require.NoError(t, err)
	defer r.Close()

	key := Key("test", "suphist", time.Now().Format(time.RFC3339Nano))
	require.NoError(t, r.Set(ctx, key, []byte("v")))
	got, found, err := r.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), got)

	n, err := r.DeletePattern(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
