package hostproc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Faultbox/m2mod/internal/engine"
	"github.com/Faultbox/m2mod/pkg/rules"
)

// ErrClosed is returned once the host connection is gone.
var ErrClosed = errors.New("engine host closed")

// Options configures Start.
type Options struct {
	Path   string
	Args   []string
	Logger *zap.Logger
}

// Client is an engine.Engine backed by a host process.
type Client struct {
	log *zap.Logger
	enc *Encoder
	dec *Decoder

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan *Frame
	handles map[uint64]*remoteHandle
	logFn   engine.LogFunc

	done    chan struct{}
	readErr error

	closer io.Closer
	cmd    *exec.Cmd
}

var _ engine.Engine = (*Client)(nil)
var _ engine.LogSource = (*Client)(nil)

// NewClient speaks the frame protocol over r and w. The caller owns both
// streams; Close closes w when it is an io.Closer.
func NewClient(r io.Reader, w io.Writer, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		log:     log,
		enc:     NewEncoder(w),
		dec:     NewDecoder(r),
		pending: make(map[uint64]chan *Frame),
		handles: make(map[uint64]*remoteHandle),
		done:    make(chan struct{}),
	}
	if wc, ok := w.(io.Closer); ok {
		c.closer = wc
	}
	go c.readLoop()
	return c
}

// Start launches the host binary and connects to its stdin and stdout.
// Host stderr is forwarded to the logger line by line.
func Start(ctx context.Context, opts Options) (*Client, error) {
	if opts.Path == "" {
		return nil, errors.New("engine host path is not configured")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	cmd := exec.CommandContext(ctx, opts.Path, opts.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("host stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("host stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("host stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start engine host %s: %w", opts.Path, err)
	}
	log.Info("Engine host started", zap.String("path", opts.Path), zap.Int("pid", cmd.Process.Pid))

	go func() {
		sc := bufio.NewScanner(stderr)
		for sc.Scan() {
			log.Warn("engine host", zap.String("stderr", sc.Text()))
		}
	}()

	c := NewClient(stdout, stdin, log)
	c.cmd = cmd
	return c, nil
}

// Close shuts the connection down and waits for a started host to exit.
func (c *Client) Close() error {
	var err error
	if c.closer != nil {
		err = c.closer.Close()
	}
	if c.cmd != nil {
		if werr := c.cmd.Wait(); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// Done is closed when the frame reader stops.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that stopped the frame reader, if any.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.pending = make(map[uint64]chan *Frame)
		c.mu.Unlock()
		close(c.done)
	}()

	for {
		f, err := c.dec.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.readErr = ErrClosed
			} else {
				c.readErr = err
				c.log.Error("Engine host stream failed", zap.Error(err))
			}
			return
		}

		switch f.Type {
		case TypeResult:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			} else {
				c.log.Warn("Result for unknown call", zap.Uint64("id", f.ID))
			}

		case TypeMappingRequest:
			c.mu.Lock()
			h := c.handles[f.Handle]
			c.mu.Unlock()
			// The callback may block on the user; keep reading meanwhile.
			go c.answerMapping(f.ID, h)

		case TypeLog:
			c.mu.Lock()
			fn := c.logFn
			c.mu.Unlock()
			if fn != nil {
				fn(f.Level, f.Message)
			}

		default:
			c.log.Warn("Unexpected frame from host", zap.String("type", string(f.Type)))
		}
	}
}

func (c *Client) answerMapping(id uint64, h *remoteHandle) {
	path := ""
	if h != nil {
		if fn := h.mappingFunc(); fn != nil {
			path = fn()
		}
	}
	if err := c.enc.WriteFrame(&Frame{Type: TypeMappingReply, ID: id, Path: path}); err != nil {
		c.log.Error("Failed to send mapping reply", zap.Error(err))
	}
}

func (c *Client) call(ctx context.Context, f *Frame) (*Frame, error) {
	f.Type = TypeCall
	f.ID = c.nextID.Add(1)
	ch := make(chan *Frame, 1)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	c.pending[f.ID] = ch
	c.mu.Unlock()

	if err := c.enc.WriteFrame(f); err != nil {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
		return nil, fmt.Errorf("send %s: %w", f.Op, err)
	}

	select {
	case r := <-ch:
		return r, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// code runs a handle call. Transport faults surface as CodeHostFailure.
func (c *Client) code(f *Frame) engine.Code {
	r, err := c.call(context.Background(), f)
	if err != nil {
		c.log.Error("Engine call failed", zap.String("op", string(f.Op)), zap.Error(err))
		return engine.CodeHostFailure
	}
	return r.Code
}

// Create allocates a handle in the host.
func (c *Client) Create(ctx context.Context, settings engine.Settings) (engine.Handle, error) {
	r, err := c.call(ctx, &Frame{Op: OpCreate, Settings: &settings})
	if err != nil {
		return nil, fmt.Errorf("create handle: %w", err)
	}
	if !r.Code.OK() {
		return nil, fmt.Errorf("create handle: %s", r.Code.Text())
	}

	h := &remoteHandle{client: c, id: r.Handle}
	c.mu.Lock()
	c.handles[h.id] = h
	c.mu.Unlock()
	return h, nil
}

// SetLogCallback asks the host to forward log lines at the given levels.
func (c *Client) SetLogCallback(levels engine.Level, fn engine.LogFunc) {
	c.mu.Lock()
	c.logFn = fn
	c.mu.Unlock()
	if code := c.code(&Frame{Op: OpSetLogCallback, Level: levels, Enabled: fn != nil}); !code.OK() {
		c.log.Warn("Host refused log callback", zap.String("error", code.Text()))
	}
}

type remoteHandle struct {
	client *Client
	id     uint64

	mu      sync.Mutex
	mapping engine.MappingFunc
}

func (h *remoteHandle) mappingFunc() engine.MappingFunc {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mapping
}

func (h *remoteHandle) Load(path string) engine.Code {
	return h.client.code(&Frame{Op: OpLoad, Handle: h.id, Path: path})
}

func (h *remoteHandle) SetReplacement(path string) engine.Code {
	return h.client.code(&Frame{Op: OpSetReplacement, Handle: h.id, Path: path})
}

func (h *remoteHandle) AddNormalizationRule(source rules.Convention, sourceData []byte, target rules.Convention, targetData []byte, preferSource bool) engine.Code {
	p := rules.Pair{Source: source, SourceData: sourceData, Target: target, TargetData: targetData, PreferSource: preferSource}
	return h.client.code(&Frame{Op: OpAddRule, Handle: h.id, Rule: &p})
}

func (h *remoteHandle) ImportIntermediate(path string) engine.Code {
	return h.client.code(&Frame{Op: OpImport, Handle: h.id, Path: path})
}

func (h *remoteHandle) ExportIntermediate(path string) engine.Code {
	return h.client.code(&Frame{Op: OpExport, Handle: h.id, Path: path})
}

func (h *remoteHandle) Save(path string, mask engine.SaveMask) engine.Code {
	return h.client.code(&Frame{Op: OpSave, Handle: h.id, Path: path, Mask: mask})
}

func (h *remoteHandle) SetMappingCallback(fn engine.MappingFunc) engine.Code {
	h.mu.Lock()
	h.mapping = fn
	h.mu.Unlock()
	return h.client.code(&Frame{Op: OpSetMapping, Handle: h.id, Enabled: fn != nil})
}

func (h *remoteHandle) Free() {
	if code := h.client.code(&Frame{Op: OpFree, Handle: h.id}); !code.OK() {
		h.client.log.Warn("Host failed to free handle", zap.Uint64("handle", h.id), zap.String("error", code.Text()))
	}
	h.client.mu.Lock()
	delete(h.client.handles, h.id)
	h.client.mu.Unlock()
}
