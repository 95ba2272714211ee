package hostproc

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/m2mod/internal/engine"
	"github.com/Faultbox/m2mod/internal/engine/enginetest"
	"github.com/Faultbox/m2mod/pkg/rules"
)

type harness struct {
	fake   *enginetest.Fake
	client *Client
	served chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fake := enginetest.New()

	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()

	h := &harness{fake: fake, served: make(chan error, 1)}
	go func() {
		err := Serve(context.Background(), serverR, serverW, fake, nil)
		serverW.Close()
		h.served <- err
	}()
	h.client = NewClient(clientR, clientW, nil)
	return h
}

// shutdown closes the client side and waits for Serve to return.
func (h *harness) shutdown(t *testing.T) {
	t.Helper()
	require.NoError(t, h.client.Close())
	require.NoError(t, <-h.served)
	<-h.client.Done()
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(name), 0644))
	return p
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	settings := engine.DefaultSettings()
	in := &Frame{Type: TypeCall, ID: 7, Op: OpSave, Handle: 3, Path: "out.m2", Mask: engine.SaveAll, Settings: &settings}
	require.NoError(t, enc.WriteFrame(in))

	dec := NewDecoder(&buf)
	out, err := dec.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = dec.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoderErrors(t *testing.T) {
	t.Run("partial prefix", func(t *testing.T) {
		_, err := NewDecoder(bytes.NewReader([]byte{0, 0})).ReadFrame()
		assert.True(t, IsFatalFrameError(err))
	})

	t.Run("too large", func(t *testing.T) {
		var prefix [4]byte
		binary.BigEndian.PutUint32(prefix[:], MaxPayloadSize+1)
		_, err := NewDecoder(bytes.NewReader(prefix[:])).ReadFrame()
		var fe *FrameError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, FrameErrorTooLarge, fe.Kind)
	})

	t.Run("truncated payload", func(t *testing.T) {
		data := []byte{0, 0, 0, 10, 1, 2}
		_, err := NewDecoder(bytes.NewReader(data)).ReadFrame()
		var fe *FrameError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, FrameErrorPartial, fe.Kind)
	})

	t.Run("garbage payload", func(t *testing.T) {
		data := []byte{0, 0, 0, 1, 0xc1}
		_, err := NewDecoder(bytes.NewReader(data)).ReadFrame()
		var fe *FrameError
		require.True(t, errors.As(err, &fe))
		assert.Equal(t, FrameErrorDecode, fe.Kind)
		assert.False(t, fe.IsFatal())
	})
}

func TestClientSaveWithMappingRequest(t *testing.T) {
	h := newHarness(t)
	h.fake.RequestMapping = true
	dir := t.TempDir()
	model := writeFile(t, dir, "in.m2")
	mapping := filepath.Join(dir, "in.txt")

	handle, err := h.client.Create(context.Background(), engine.DefaultSettings())
	require.NoError(t, err)
	require.Equal(t, engine.CodeOK, handle.Load(model))

	asked := 0
	require.Equal(t, engine.CodeOK, handle.SetMappingCallback(func() string {
		asked++
		return mapping
	}))
	out := filepath.Join(dir, "out.m2")
	require.Equal(t, engine.CodeOK, handle.Save(out, engine.SaveAll))
	handle.Free()

	assert.Equal(t, 1, asked)
	assert.Equal(t, mapping, h.fake.Last().MappingFile())
	assert.FileExists(t, out)
	assert.FileExists(t, mapping)

	h.shutdown(t)
	assert.Equal(t, 1, h.fake.Last().Frees())
}

func TestClientPassesCodesAndRules(t *testing.T) {
	h := newHarness(t)
	defer h.shutdown(t)
	h.fake.Fail[enginetest.OpImport] = engine.CodeImportM2IFileCorrupt

	handle, err := h.client.Create(context.Background(), engine.DefaultSettings())
	require.NoError(t, err)
	defer handle.Free()

	assert.Equal(t, engine.CodeImportM2IFileCorrupt, handle.ImportIntermediate("x.m2i"))

	src, err := rules.EncodeMatchers(rules.ConventionMeshID, []rules.Matcher{rules.Range(1, 4)})
	require.NoError(t, err)
	tgt, err := rules.EncodeMatchers(rules.ConventionMeshID, []rules.Matcher{rules.ID(9)})
	require.NoError(t, err)
	assert.Equal(t, engine.CodeOK, handle.AddNormalizationRule(rules.ConventionMeshID, src, rules.ConventionMeshID, tgt, true))
	assert.Equal(t, engine.CodeRuleInvalidData, handle.AddNormalizationRule(rules.ConventionMeshID, src, rules.ConventionMeshID, []byte("junk"), true))

	got := h.fake.Last().Rules()
	require.Len(t, got, 1)
	assert.True(t, got[0].PreferSource)
}

func TestClientForwardsLogs(t *testing.T) {
	h := newHarness(t)
	defer h.shutdown(t)

	var mu sync.Mutex
	var lines []string
	h.client.SetLogCallback(engine.LevelAll, func(level engine.Level, msg string) {
		mu.Lock()
		lines = append(lines, level.String()+": "+msg)
		mu.Unlock()
	})

	model := writeFile(t, t.TempDir(), "in.m2")
	handle, err := h.client.Create(context.Background(), engine.DefaultSettings())
	require.NoError(t, err)
	defer handle.Free()
	require.Equal(t, engine.CodeOK, handle.Load(model))

	// log frames are written before the result and read in order
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"info: Loaded " + model}, lines)
}

func TestServeFreesHandlesOnDisconnect(t *testing.T) {
	h := newHarness(t)
	_, err := h.client.Create(context.Background(), engine.DefaultSettings())
	require.NoError(t, err)
	_, err = h.client.Create(context.Background(), engine.DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 2, h.fake.Live())

	h.shutdown(t)
	assert.Equal(t, 0, h.fake.Live())
}

func TestClientReportsHostFailure(t *testing.T) {
	clientR, serverW := io.Pipe()
	_, clientW := io.Pipe()
	c := NewClient(clientR, clientW, nil)

	serverW.Close()
	<-c.Done()
	assert.ErrorIs(t, c.Err(), ErrClosed)

	_, err := c.Create(context.Background(), engine.DefaultSettings())
	assert.ErrorIs(t, err, ErrClosed)

	h := &remoteHandle{client: c, id: 1}
	assert.Equal(t, engine.CodeHostFailure, h.Load("x.m2"))
}

func TestCreateHonoursContext(t *testing.T) {
	clientR, _ := io.Pipe()
	serverR, clientW := io.Pipe()
	go io.Copy(io.Discard, serverR)
	c := NewClient(clientR, clientW, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Create(ctx, engine.DefaultSettings())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStartRequiresPath(t *testing.T) {
	_, err := Start(context.Background(), Options{})
	assert.Error(t, err)
}
