// Package interact runs blocking work on a worker pool while a single
// interactive goroutine owns all user-facing output and input.
package interact

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/m2mod/internal/engine"
	"github.com/Faultbox/m2mod/internal/pipeline"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("interactive loop closed")

// Task is blocking work run on a worker.
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	fn   Task
	done chan error
}

type mappingRequest struct {
	hint  pipeline.MappingHint
	reply chan string
}

type event struct {
	notice bool
	level  engine.Level
	msg    string
}

// Loop pairs the interactive goroutine with a fixed pool of workers.
// Run, and every Prompter method, execute on the interactive goroutine.
// RequestMapping, Status and Notice are called from tasks.
type Loop struct {
	prompter Prompter
	notifier *Notifier
	log      *zap.Logger

	jobs    chan job
	mapping chan mappingRequest
	events  chan event
	quit    chan struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewLoop starts workers goroutines. workers below 1 is treated as 1.
func NewLoop(workers int, p Prompter, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	l := &Loop{
		prompter: p,
		notifier: NewNotifier(p, log),
		log:      log,
		jobs:     make(chan job),
		mapping:  make(chan mappingRequest),
		events:   make(chan event, 64),
		quit:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		l.wg.Add(1)
		go l.worker(i)
	}
	return l
}

func (l *Loop) worker(id int) {
	defer l.wg.Done()
	for {
		select {
		case j := <-l.jobs:
			j.done <- l.runJob(id, j)
		case <-l.quit:
			return
		}
	}
}

func (l *Loop) runJob(id int, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("Task panicked", zap.Int("worker", id), zap.Any("panic", r))
			err = errors.New("internal error")
		}
	}()
	return j.fn(j.ctx)
}

// Notifier returns the loop's error and warning latch.
func (l *Loop) Notifier() *Notifier {
	return l.notifier
}

// Run hands fn to a worker and services mapping requests, status lines and
// notices until it returns. It must be called from the interactive
// goroutine, never from a task.
func (l *Loop) Run(ctx context.Context, fn Task) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case l.jobs <- j:
	case <-l.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		select {
		case req := <-l.mapping:
			l.drain()
			req.reply <- l.prompter.MappingFile(req.hint)
		case ev := <-l.events:
			l.handle(ev)
		case err := <-j.done:
			l.drain()
			return err
		}
	}
}

func (l *Loop) drain() {
	for {
		select {
		case ev := <-l.events:
			l.handle(ev)
		default:
			return
		}
	}
}

func (l *Loop) handle(ev event) {
	if ev.notice {
		l.notifier.Notify(ev.level, ev.msg)
		return
	}
	l.prompter.Status(ev.msg)
}

func (l *Loop) send(ev event) {
	select {
	case l.events <- ev:
	case <-l.quit:
	}
}

// Status reports a status line from a task.
func (l *Loop) Status(msg string) {
	l.send(event{msg: msg})
}

// Notice reports an error or warning from a task. The notifier decides
// whether the user is asked to acknowledge it.
func (l *Loop) Notice(level engine.Level, msg string) {
	l.send(event{notice: true, level: level, msg: msg})
}

// EngineLog is an engine.LogFunc that logs every line and raises errors
// and warnings as notices.
func (l *Loop) EngineLog(level engine.Level, msg string) {
	switch {
	case level.Has(engine.LevelError):
		l.log.Error("engine", zap.String("message", msg))
		l.Notice(engine.LevelError, msg)
	case level.Has(engine.LevelWarning):
		l.log.Warn("engine", zap.String("message", msg))
		l.Notice(engine.LevelWarning, msg)
	default:
		l.log.Debug("engine", zap.String("level", level.String()), zap.String("message", msg))
	}
}

// RequestMapping asks the interactive goroutine for a mapping file and
// blocks until it answers. It returns "" if ctx ends or the loop closes.
func (l *Loop) RequestMapping(ctx context.Context, hint pipeline.MappingHint) string {
	req := mappingRequest{hint: hint, reply: make(chan string, 1)}
	select {
	case l.mapping <- req:
	case <-ctx.Done():
		return ""
	case <-l.quit:
		return ""
	}
	select {
	case path := <-req.reply:
		return path
	case <-ctx.Done():
		return ""
	case <-l.quit:
		return ""
	}
}

// Close stops the workers after their current tasks finish.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		close(l.quit)
	})
	l.wg.Wait()
}
