package listfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "listfile.csv"), []byte(content), 0644))
}

func TestManagerLoadsLazilyOnce(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "5;creature/wolf/wolf.m2\n")

	m := NewManager(nil)
	var loads atomic.Int32
	m.load = func(dir string, log *zap.Logger) (*Storage, error) {
		loads.Add(1)
		return LoadDir(dir, log)
	}

	assert.False(t, m.Loaded(dir))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := m.ResolveByID(context.Background(), dir, 5)
			assert.NoError(t, err)
			if rec != nil {
				assert.Equal(t, "creature/wolf/wolf.m2", rec.Path)
			}
		}()
	}
	wg.Wait()

	assert.True(t, m.Loaded(dir))
	assert.Equal(t, int32(1), loads.Load())

	_, err := m.ResolveByPartialPath(context.Background(), dir, "wolf.m2")
	require.NoError(t, err)
	assert.Equal(t, int32(1), loads.Load())
}

func TestManagerInvalidateReloads(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "5;creature/wolf/wolf.m2\n")

	m := NewManager(nil)
	ctx := context.Background()

	old, err := m.Get(ctx, dir)
	require.NoError(t, err)

	writeManifest(t, dir, "6;creature/bear/bear.m2\n")

	// cached copy is still served until invalidated
	_, err = m.ResolveByID(ctx, dir, 6)
	assert.ErrorIs(t, err, ErrNotFound)

	m.Invalidate(dir)
	assert.False(t, m.Loaded(dir))

	rec, err := m.ResolveByID(ctx, dir, 6)
	require.NoError(t, err)
	assert.Equal(t, "creature/bear/bear.m2", rec.Path)

	// the old storage is untouched
	_, err = old.ByID(5)
	assert.NoError(t, err)
}

func TestManagerClear(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeManifest(t, a, "1;a.m2\n")
	writeManifest(t, b, "2;b.m2\n")

	m := NewManager(nil)
	ctx := context.Background()
	_, err := m.Get(ctx, a)
	require.NoError(t, err)
	_, err = m.Get(ctx, b)
	require.NoError(t, err)

	m.Clear()
	assert.False(t, m.Loaded(a))
	assert.False(t, m.Loaded(b))
}

func TestManagerFailedLoadIsRetried(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mappings")
	m := NewManager(nil)
	ctx := context.Background()

	_, err := m.Get(ctx, dir)
	assert.ErrorIs(t, err, ErrManifestLoad)

	require.NoError(t, os.Mkdir(dir, 0755))
	writeManifest(t, dir, "9;x.m2\n")

	_, err = m.ResolveByID(ctx, dir, 9)
	assert.NoError(t, err)
}

func TestManagerConcurrentReadersDuringInvalidate(t *testing.T) {
	dir := t.TempDir()
	var content string
	for i := 1; i <= 200; i++ {
		content += fmt.Sprintf("%d;models/model_%03d.m2\n", i, i)
	}
	writeManifest(t, dir, content)

	m := NewManager(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s, err := m.Get(ctx, dir)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, 200, s.Len())
			}
		}()
	}
	for i := 0; i < 20; i++ {
		m.Invalidate(dir)
	}
	wg.Wait()
}

// blockingLoad holds the first load until release is closed.
func blockingLoad(m *Manager, started chan<- struct{}, release <-chan struct{}) *atomic.Int32 {
	var loads atomic.Int32
	m.load = func(dir string, log *zap.Logger) (*Storage, error) {
		if loads.Add(1) == 1 {
			close(started)
			<-release
		}
		return LoadDir(dir, log)
	}
	return &loads
}

func TestManagerInvalidateDuringLoad(t *testing.T) {
	for _, tt := range []struct {
		name string
		drop func(m *Manager, dir string)
	}{
		{"invalidate", func(m *Manager, dir string) { m.Invalidate(dir) }},
		{"clear", func(m *Manager, dir string) { m.Clear() }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, "5;creature/wolf/wolf.m2\n")

			m := NewManager(nil)
			started, release := make(chan struct{}), make(chan struct{})
			loads := blockingLoad(m, started, release)
			ctx := context.Background()

			first := make(chan *Storage, 1)
			go func() {
				s, err := m.Get(ctx, dir)
				assert.NoError(t, err)
				first <- s
			}()
			<-started

			// the first load has read nothing yet; swap the manifest under it
			writeManifest(t, dir, "6;creature/bear/bear.m2\n")
			tt.drop(m, dir)
			close(release)
			<-first

			assert.False(t, m.Loaded(dir), "a load that raced with %s must not be cached", tt.name)

			rec, err := m.ResolveByID(ctx, dir, 6)
			require.NoError(t, err)
			assert.Equal(t, "creature/bear/bear.m2", rec.Path)
			assert.Equal(t, int32(2), loads.Load())
		})
	}
}

func TestStorageKeyKeepsCase(t *testing.T) {
	assert.NotEqual(t, storageKey("Maps"), storageKey("maps"))
	assert.Equal(t, storageKey("maps/"), storageKey("./maps"))
	assert.Equal(t, storageKey(""), storageKey(DefaultMappingsDirectory))
}

func TestManagerGetHonoursContext(t *testing.T) {
	m := NewManager(nil)
	release := make(chan struct{})
	m.load = func(dir string, log *zap.Logger) (*Storage, error) {
		<-release
		return newStorage(dir), nil
	}
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Get(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}
