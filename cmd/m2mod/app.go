package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Faultbox/m2mod/internal/config"
	"github.com/Faultbox/m2mod/internal/engine"
	"github.com/Faultbox/m2mod/internal/engine/hostproc"
	"github.com/Faultbox/m2mod/internal/interact"
	"github.com/Faultbox/m2mod/internal/pipeline"
	"github.com/Faultbox/m2mod/pkg/listfile"
)

var errNoHost = errors.New("engine host is not configured: set engine.host_path in the config file or pass --host")

// app is the wired set of components one command runs against.
type app struct {
	opts *rootOptions
	cfg  *config.Config
	log  *zap.Logger

	prompter interact.Prompter
	terminal *interact.TerminalPrompter // nil unless prompting on the terminal

	client  *hostproc.Client // nil for commands that never touch the engine
	manager *listfile.Manager
	loop    *interact.Loop
	ctl     *interact.Controller
}

// newApp wires the engine, listfile manager and interactive loop. The
// engine host is only started when withEngine is set.
func newApp(cmd *cobra.Command, opts *rootOptions, withEngine bool) (*app, error) {
	a := &app{opts: opts, cfg: opts.cfg, log: opts.log}
	a.prompter, a.terminal = newPrompter(a.cfg.UI.Prompt, cmd.InOrStdin(), cmd.OutOrStdout())

	var eng engine.Engine
	if withEngine {
		if a.cfg.Engine.HostPath == "" {
			return nil, errNoHost
		}
		client, err := hostproc.Start(cmd.Context(), hostproc.Options{
			Path:   a.cfg.Engine.HostPath,
			Args:   a.cfg.Engine.HostArgs,
			Logger: a.log.Named("host"),
		})
		if err != nil {
			return nil, err
		}
		a.client = client
		eng = client
	}

	a.manager = listfile.NewManager(a.log)
	a.loop = interact.NewLoop(a.cfg.UI.Workers, a.prompter, a.log)
	if a.client != nil {
		a.client.SetLogCallback(engine.LevelAll, a.loop.EngineLog)
	}
	orch := pipeline.New(eng, a.manager, a.log)
	a.ctl = interact.NewController(a.loop, orch, a.manager, a.log)
	return a, nil
}

// Close releases any preload, stops the workers and shuts the host down.
func (a *app) Close(ctx context.Context) {
	a.ctl.Close(context.WithoutCancel(ctx))
	a.loop.Close()
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.log.Warn("Engine host exited with error", zap.Error(err))
		}
	}
}

// ensureListfile downloads the community listfile when the cached copy is
// missing or stale, or always when force is set. The download runs on a
// worker.
func (a *app) ensureListfile(ctx context.Context, force bool) error {
	return a.loop.Run(ctx, func(ctx context.Context) error {
		return a.fetchListfile(ctx, force)
	})
}

func (a *app) fetchListfile(ctx context.Context, force bool) error {
	cache := a.cfg.ListfileCache(a.log)
	if !force {
		stale, err := cache.Stale()
		if err != nil {
			return err
		}
		if _, err := os.Stat(cache.Path); err == nil && !stale {
			return nil
		}
	}

	src, err := a.cfg.ListfileSource(ctx)
	if err != nil {
		return err
	}
	a.loop.Status(pipeline.StatusLoadingListfile)
	if force {
		err = cache.Fetch(ctx, src)
	} else {
		_, err = cache.Ensure(ctx, src)
	}
	if err != nil {
		return err
	}
	a.manager.Invalidate(a.cfg.Paths.MappingsDirectory)
	return nil
}

// prepareListfile runs ensureListfile and only warns on failure: other
// manifests in the mappings directory may still resolve the asset.
func (a *app) prepareListfile(ctx context.Context) {
	if err := a.ensureListfile(ctx, false); err != nil {
		a.log.Warn("Listfile download failed", zap.Error(err))
		a.prompter.Status(fmt.Sprintf("Warning: %v", err))
	}
}

// storage loads the manifests of the mappings directory on a worker.
func (a *app) storage(ctx context.Context) (*listfile.Storage, error) {
	var s *listfile.Storage
	err := a.loop.Run(ctx, func(ctx context.Context) error {
		var err error
		s, err = a.manager.Get(ctx, a.cfg.Paths.MappingsDirectory)
		return err
	})
	return s, err
}

// adoptWorkingDirectory keeps a working directory detected by a commit
// when none is configured.
func (a *app) adoptWorkingDirectory(res *pipeline.Result) {
	if res == nil || res.WorkingDirectory == "" || a.cfg.Paths.WorkingDirectory != "" {
		return
	}
	a.cfg.Paths.WorkingDirectory = res.WorkingDirectory
	a.prompter.Status("Working directory: " + res.WorkingDirectory)
}

func newPrompter(kind string, in io.Reader, out io.Writer) (interact.Prompter, *interact.TerminalPrompter) {
	switch kind {
	case config.PromptDialog:
		return &dialogPrompter{out: out}, nil
	case config.PromptAuto:
		return &interact.AutoPrompter{Out: out, AcceptMapping: true}, nil
	default:
		t := interact.NewTerminalPrompter(in, out)
		return t, t
	}
}
