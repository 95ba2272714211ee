package interact

import (
	"go.uber.org/zap"

	"github.com/Faultbox/m2mod/internal/engine"
)

// Notifier asks the user to acknowledge the first error and the first
// warning of an operation. Answering "ignore" latches that class until the
// next Reset; latched notices are only logged.
type Notifier struct {
	prompter       Prompter
	log            *zap.Logger
	ignoreErrors   bool
	ignoreWarnings bool
}

// NewNotifier creates a notifier with both latches clear.
func NewNotifier(p Prompter, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{prompter: p, log: log}
}

// Reset clears both latches. Call it at the start of each top-level
// operation.
func (n *Notifier) Reset() {
	n.ignoreErrors = false
	n.ignoreWarnings = false
}

// Ignoring reports whether notices of level are latched.
func (n *Notifier) Ignoring(level engine.Level) bool {
	switch {
	case level.Has(engine.LevelError):
		return n.ignoreErrors
	case level.Has(engine.LevelWarning):
		return n.ignoreWarnings
	default:
		return true
	}
}

// Notify shows or logs msg.
func (n *Notifier) Notify(level engine.Level, msg string) {
	if n.Ignoring(level) {
		n.log.Info("Notice suppressed", zap.String("level", level.String()), zap.String("message", msg))
		return
	}

	ignore := n.prompter.Acknowledge(level, msg)
	if !ignore {
		return
	}
	if level.Has(engine.LevelError) {
		n.ignoreErrors = true
	} else {
		n.ignoreWarnings = true
	}
}
