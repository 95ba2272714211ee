package main

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Faultbox/m2mod/internal/interact"
)

const shellHelp = `Commands:
  export [in.m2] [out.m2i]           Convert M2 to M2I
  preload [in.m2] [in.m2i] [repl.m2] Load the model and the edited M2I
  commit                             Save the preloaded model
  cancel                             Discard the preload
  lookup <id|fragment>               Resolve against the listfile
  clear                              Drop loaded listfiles
  set <output|mappings|working> <dir>
  set replace <on|off>
  status                             Show what is preloaded
  quit                               Save inputs and exit
`

func newShellCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session holding a preload between commands",
		Long: `Start an interactive prompt. A preload stays loaded until it is
committed, cancelled or replaced by another preload. The last used inputs
are written back to the config file on exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, opts, true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			defer a.Close(ctx)

			term := a.terminal
			if term == nil {
				term = interact.NewTerminalPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			}

			sh := &shell{app: a, term: term}
			err = sh.run(ctx)
			opts.remember()
			return err
		},
	}
}

type shell struct {
	app  *app
	term *interact.TerminalPrompter
}

func (s *shell) run(ctx context.Context) error {
	s.term.Printf("m2mod shell. Type help for commands.\n")
	for ctx.Err() == nil {
		s.term.Printf("m2mod> ")
		line, err := s.term.ReadLine()
		if errors.Is(err, io.EOF) {
			s.term.Printf("\n")
			return nil
		}
		if err != nil {
			return err
		}
		if quit := s.exec(ctx, strings.Fields(line)); quit {
			return nil
		}
	}
	return nil
}

// exec runs one command line. Failures are already shown by the
// controller, so they are only logged here.
func (s *shell) exec(ctx context.Context, fields []string) (quit bool) {
	if len(fields) == 0 {
		return false
	}
	cfg := s.app.cfg
	ctl := s.app.ctl
	arg := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	var err error
	switch strings.ToLower(fields[0]) {
	case "export":
		if v := arg(1); v != "" {
			cfg.Export.InputM2 = v
		}
		if v := arg(2); v != "" {
			cfg.Export.OutputM2I = v
		}
		err = ctl.Export(ctx, cfg.ExportRequest())

	case "preload":
		if v := arg(1); v != "" {
			cfg.Import.InputM2 = v
		}
		if v := arg(2); v != "" {
			cfg.Import.InputM2I = v
		}
		if v := arg(3); v != "" {
			cfg.Import.ReplaceM2 = v
			cfg.Import.ReplaceEnabled = true
		}
		req, rerr := cfg.ImportRequest()
		if rerr != nil {
			s.term.Status("Error: " + rerr.Error())
			return false
		}
		err = ctl.Preload(ctx, req)

	case "commit":
		if cur := ctl.Current(); cur != nil && cur.Request().OutputDirectory != "" {
			s.app.prepareListfile(ctx)
		}
		res, cerr := ctl.Commit(ctx)
		s.app.adoptWorkingDirectory(res)
		err = cerr

	case "cancel":
		err = ctl.Cancel(ctx)

	case "lookup":
		s.app.prepareListfile(ctx)
		_, err = ctl.Lookup(ctx, cfg.Paths.MappingsDirectory, strings.Join(fields[1:], " "))

	case "clear":
		ctl.ClearManifests()

	case "set":
		s.set(arg(1), arg(2))

	case "status":
		s.status()

	case "help", "?":
		s.term.Printf("%s", shellHelp)

	case "quit", "exit":
		return true

	default:
		s.term.Status("Unknown command: " + fields[0])
	}

	if err != nil {
		s.app.log.Debug("Shell command failed", zap.String("command", fields[0]), zap.Error(err))
	}
	return false
}

func (s *shell) set(key, value string) {
	cfg := s.app.cfg
	switch key {
	case "output":
		cfg.Paths.OutputDirectory = value
	case "mappings":
		cfg.Paths.MappingsDirectory = value
	case "working":
		cfg.Paths.WorkingDirectory = value
	case "replace":
		cfg.Import.ReplaceEnabled = value == "on"
	default:
		s.term.Status("Unknown setting: " + key)
		return
	}
	s.term.Status("ok")
}

func (s *shell) status() {
	cur := s.app.ctl.Current()
	if !s.app.ctl.Preloaded() {
		s.term.Status("Nothing preloaded.")
		return
	}
	req := cur.Request()
	s.term.Printf("Preloaded %s with %s (session %s)\n", req.InputM2, req.InputM2I, cur.SessionID())
	if req.ReplaceEnabled {
		s.term.Printf("  replacement: %s\n", req.ReplaceM2)
	}
	s.term.Printf("  rules: %d\n", req.Rules.Len())
}
