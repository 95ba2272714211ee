package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sqweek/dialog"

	"github.com/Faultbox/m2mod/internal/engine"
	"github.com/Faultbox/m2mod/internal/pipeline"
)

// dialogPrompter asks through native dialogs. Status lines still go to out.
type dialogPrompter struct {
	out io.Writer
}

func (p *dialogPrompter) Status(msg string) {
	fmt.Fprintln(p.out, msg)
}

func (p *dialogPrompter) Acknowledge(level engine.Level, msg string) bool {
	title := "Error"
	if level.Has(engine.LevelWarning) {
		title = "Warning"
	}
	return dialog.Message("%s\n\nIgnore further %ss for this operation?", msg, level).
		Title(title).
		YesNo()
}

func (p *dialogPrompter) MappingFile(hint pipeline.MappingHint) string {
	dir, name := dialogStart(hint)
	filename, err := dialog.File().
		Filter("Text files", "txt").
		Filter("All Files", "*").
		Title("Select mappings file to append entries to").
		SetStartDir(dir).
		SetStartFile(name).
		Save()
	if err != nil {
		if !errors.Is(err, dialog.ErrCancelled) {
			fmt.Fprintf(p.out, "File dialog error: %v\n", err)
		}
		return ""
	}
	return filename
}

// dialogStart returns the directory and file name the save dialog opens
// with. A mappings directory that does not exist yet is left to the
// dialog's default.
func dialogStart(hint pipeline.MappingHint) (dir, name string) {
	dir = hint.InitialDir
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		dir = ""
	}
	return dir, hint.SuggestedName
}
