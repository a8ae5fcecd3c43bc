package taskscmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/yosuke0517/dev-assistant-agent/internal/runledger"
)

type Dependencies struct {
	LoggerFromViper   func() (*slog.Logger, error)
	StateDirFromViper func() (string, error)
	LedgerFromViper   func(ctx context.Context, stateDir string) (*runledger.Ledger, error)
}

var deps Dependencies

func NewCommand(d Dependencies) *cobra.Command {
	deps = d
	return newTasksCmd()
}

func loggerFromViper() (*slog.Logger, error) {
	if deps.LoggerFromViper == nil {
		return nil, fmt.Errorf("LoggerFromViper dependency missing")
	}
	return deps.LoggerFromViper()
}

func stateDirFromViper() (string, error) {
	if deps.StateDirFromViper == nil {
		return "", fmt.Errorf("StateDirFromViper dependency missing")
	}
	return deps.StateDirFromViper()
}

func ledgerFromViper(ctx context.Context, stateDir string) (*runledger.Ledger, error) {
	if deps.LedgerFromViper == nil {
		return nil, fmt.Errorf("LedgerFromViper dependency missing")
	}
	return deps.LedgerFromViper(ctx, stateDir)
}
