package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/suphist/internal/git"
)

// Git is the part of *git.Repo whose output depends only on commit hashes and
// arguments.
type Git interface {
	Log(ctx context.Context, from, to string, paths ...string) (string, error)
	Diff(ctx context.Context, from, to string, paths ...string) (string, error)
	LineLog(ctx context.Context, commit, path string, line int) (string, error)
	Grep(ctx context.Context, commit string, hints []string, pathspecs ...string) (string, error)
	Show(ctx context.Context, commit, path string) (string, error)
	Numstat(ctx context.Context, from, to string) ([]git.ChangeSet, error)
}

// Repository serves git output from memory, then from the persistent store,
// and only then from git. Results are written back to both layers.
type Repository struct {
	git    Git
	name   string
	store  Store
	mem    *gocache.Cache
	logger logrus.FieldLogger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRepository wraps g. name namespaces the keys; store may be nil for a
// memory-only cache.
func NewRepository(g Git, name string, store Store, logger logrus.FieldLogger) *Repository {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Repository{
		git:    g,
		name:   name,
		store:  store,
		mem:    gocache.New(10*time.Minute, 20*time.Minute),
		logger: logger.WithField("repo", name),
	}
}

// Stats returns hit and miss counts.
func (r *Repository) Stats() (hits, misses int64) {
	return r.hits.Load(), r.misses.Load()
}

func (r *Repository) Log(ctx context.Context, from, to string, paths ...string) (string, error) {
	key := Key("log", r.name, from+".."+to, strings.Join(paths, ","))
	return r.text(ctx, key, func() (string, error) { return r.git.Log(ctx, from, to, paths...) })
}

func (r *Repository) Diff(ctx context.Context, from, to string, paths ...string) (string, error) {
	key := Key("diff", r.name, from+".."+to, strings.Join(paths, ","))
	return r.text(ctx, key, func() (string, error) { return r.git.Diff(ctx, from, to, paths...) })
}

func (r *Repository) LineLog(ctx context.Context, commit, path string, line int) (string, error) {
	key := Key("linelog", r.name, commit, path, strconv.Itoa(line))
	return r.text(ctx, key, func() (string, error) { return r.git.LineLog(ctx, commit, path, line) })
}

func (r *Repository) Grep(ctx context.Context, commit string, hints []string, pathspecs ...string) (string, error) {
	key := Key("grep", r.name, commit, strings.Join(hints, ","), strings.Join(pathspecs, ","))
	return r.text(ctx, key, func() (string, error) { return r.git.Grep(ctx, commit, hints, pathspecs...) })
}

func (r *Repository) Show(ctx context.Context, commit, path string) (string, error) {
	key := Key("show", r.name, commit, path)
	return r.text(ctx, key, func() (string, error) { return r.git.Show(ctx, commit, path) })
}

func (r *Repository) Numstat(ctx context.Context, from, to string) ([]git.ChangeSet, error) {
	key := Key("numstat", r.name, from+".."+to)
	raw, err := r.bytes(ctx, key, func() ([]byte, error) {
		sets, err := r.git.Numstat(ctx, from, to)
		if err != nil {
			return nil, err
		}
		return json.Marshal(sets)
	})
	if err != nil {
		return nil, err
	}
	var sets []git.ChangeSet
	if err := json.Unmarshal(raw, &sets); err != nil {
		return nil, err
	}
	return sets, nil
}

func (r *Repository) text(ctx context.Context, key string, load func() (string, error)) (string, error) {
	raw, err := r.bytes(ctx, key, func() ([]byte, error) {
		s, err := load()
		return []byte(s), err
	})
	return string(raw), err
}

// bytes looks key up in memory, then in the store. Store failures degrade to a
// miss.
func (r *Repository) bytes(ctx context.Context, key string, load func() ([]byte, error)) ([]byte, error) {
	// Try memory cache first
	if cached, found := r.mem.Get(key); found {
		r.hits.Add(1)
		return cached.([]byte), nil
	}

	if r.store != nil {
		data, found, err := r.store.Get(ctx, key)
		if err != nil {
			r.logger.WithError(err).WithField("key", key).Warn("Cache read failed")
		} else if found {
			r.hits.Add(1)
			r.mem.Set(key, data, gocache.DefaultExpiration)
			return data, nil
		}
	}

	r.misses.Add(1)
	data, err := load()
	if err != nil {
		return nil, err
	}

	r.mem.Set(key, data, gocache.DefaultExpiration)
	if r.store != nil {
		if err := r.store.Set(ctx, key, data); err != nil {
			r.logger.WithError(err).WithField("key", key).Warn("Cache write failed")
		}
	}
	return data, nil
}
