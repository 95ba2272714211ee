package hostproc

import (
	"context"
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/m2mod/internal/engine"
)

// Serve is the host side of the protocol: it reads call frames from r,
// runs them against eng and writes results to w. It returns when r reaches
// EOF or ctx is cancelled, after freeing every handle the client left open.
func Serve(ctx context.Context, r io.Reader, w io.Writer, eng engine.Engine, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s := &server{
		ctx:      ctx,
		log:      log,
		eng:      eng,
		enc:      NewEncoder(w),
		handles:  make(map[uint64]engine.Handle),
		mappings: make(map[uint64]chan string),
	}

	frames := make(chan *Frame)
	errc := make(chan error, 1)
	dec := NewDecoder(r)
	go func() {
		for {
			f, err := dec.ReadFrame()
			if err != nil {
				errc <- err
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break loop
		case err = <-errc:
			if errors.Is(err, io.EOF) {
				err = nil
			}
			break loop
		case f := <-frames:
			s.dispatch(f)
		}
	}

	cancel()
	s.cancelMappings()
	s.wg.Wait()
	s.freeAll()
	return err
}

type server struct {
	ctx context.Context
	log *zap.Logger
	eng engine.Engine
	enc *Encoder
	wg  sync.WaitGroup

	mu         sync.Mutex
	nextHandle uint64
	nextReq    uint64
	handles    map[uint64]engine.Handle
	mappings   map[uint64]chan string
}

func (s *server) dispatch(f *Frame) {
	switch f.Type {
	case TypeCall:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.reply(f, s.run(f))
		}()

	case TypeMappingReply:
		s.mu.Lock()
		ch, ok := s.mappings[f.ID]
		delete(s.mappings, f.ID)
		s.mu.Unlock()
		if ok {
			ch <- f.Path
		}

	default:
		s.log.Warn("Unexpected frame from client", zap.String("type", string(f.Type)))
	}
}

func (s *server) reply(call *Frame, r *Frame) {
	r.Type = TypeResult
	r.ID = call.ID
	if err := s.enc.WriteFrame(r); err != nil {
		s.log.Error("Failed to write result", zap.String("op", string(call.Op)), zap.Error(err))
	}
}

func (s *server) handle(id uint64) (engine.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	return h, ok
}

func (s *server) run(f *Frame) *Frame {
	switch f.Op {
	case OpCreate:
		settings := engine.DefaultSettings()
		if f.Settings != nil {
			settings = *f.Settings
		}
		h, err := s.eng.Create(s.ctx, settings)
		if err != nil {
			s.log.Error("Create failed", zap.Error(err))
			return &Frame{Code: engine.CodeFail}
		}
		s.mu.Lock()
		s.nextHandle++
		id := s.nextHandle
		s.handles[id] = h
		s.mu.Unlock()
		return &Frame{Code: engine.CodeOK, Handle: id}

	case OpSetLogCallback:
		src, ok := s.eng.(engine.LogSource)
		if !ok {
			return &Frame{Code: engine.CodeOK}
		}
		if !f.Enabled {
			src.SetLogCallback(0, nil)
			return &Frame{Code: engine.CodeOK}
		}
		src.SetLogCallback(f.Level, func(level engine.Level, msg string) {
			if err := s.enc.WriteFrame(&Frame{Type: TypeLog, Level: level, Message: msg}); err != nil {
				s.log.Debug("Dropped engine log line", zap.Error(err))
			}
		})
		return &Frame{Code: engine.CodeOK}
	}

	h, ok := s.handle(f.Handle)
	if !ok {
		return &Frame{Code: engine.CodeFail, Message: "unknown handle"}
	}

	var code engine.Code
	switch f.Op {
	case OpLoad:
		code = h.Load(f.Path)
	case OpSetReplacement:
		code = h.SetReplacement(f.Path)
	case OpAddRule:
		if f.Rule == nil {
			code = engine.CodeRuleInvalidData
			break
		}
		code = h.AddNormalizationRule(f.Rule.Source, f.Rule.SourceData, f.Rule.Target, f.Rule.TargetData, f.Rule.PreferSource)
	case OpImport:
		code = h.ImportIntermediate(f.Path)
	case OpExport:
		code = h.ExportIntermediate(f.Path)
	case OpSave:
		code = h.Save(f.Path, f.Mask)
	case OpSetMapping:
		if f.Enabled {
			code = h.SetMappingCallback(s.mappingProxy(f.Handle))
		} else {
			code = h.SetMappingCallback(nil)
		}
	case OpFree:
		s.mu.Lock()
		delete(s.handles, f.Handle)
		s.mu.Unlock()
		h.Free()
		code = engine.CodeOK
	default:
		s.log.Warn("Unknown op", zap.String("op", string(f.Op)))
		code = engine.CodeFail
	}
	return &Frame{Code: code}
}

// mappingProxy returns a callback that asks the client for a mapping file
// and blocks until it answers.
func (s *server) mappingProxy(handle uint64) engine.MappingFunc {
	return func() string {
		ch := make(chan string, 1)
		s.mu.Lock()
		s.nextReq++
		id := s.nextReq
		s.mappings[id] = ch
		s.mu.Unlock()

		if err := s.enc.WriteFrame(&Frame{Type: TypeMappingRequest, ID: id, Handle: handle}); err != nil {
			s.log.Error("Failed to request mapping file", zap.Error(err))
			s.mu.Lock()
			delete(s.mappings, id)
			s.mu.Unlock()
			return ""
		}

		select {
		case path, ok := <-ch:
			if !ok {
				return ""
			}
			return path
		case <-s.ctx.Done():
			return ""
		}
	}
}

func (s *server) cancelMappings() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.mappings {
		close(ch)
		delete(s.mappings, id)
	}
}

func (s *server) freeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.handles {
		s.log.Warn("Freeing handle left open by client", zap.Uint64("handle", id))
		h.Free()
		delete(s.handles, id)
	}
}
