package slackcmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/yosuke0517/dev-assistant-agent/internal/command"
	"github.com/yosuke0517/dev-assistant-agent/internal/orchestrator"
	"github.com/yosuke0517/dev-assistant-agent/internal/runledger"
	"github.com/yosuke0517/dev-assistant-agent/internal/slackgw"
	"github.com/yosuke0517/dev-assistant-agent/internal/worker"
)

type Dependencies struct {
	LoggerFromViper              func() (*slog.Logger, error)
	StateDirFromViper            func() (string, error)
	CatalogFromViper             func() (*command.Catalog, error)
	SlackFromViper               func() slackgw.Config
	WorkerConfigFromViper        func() worker.Config
	OrchestratorOptionsFromViper func() orchestrator.Options
	LedgerFromViper              func(ctx context.Context, stateDir string) (*runledger.Ledger, error)
}

var deps Dependencies

func NewCommand(d Dependencies) *cobra.Command {
	deps = d
	return newServeCmd()
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

func catalogFromViper() (*command.Catalog, error) {
	if deps.CatalogFromViper == nil {
		return command.DefaultCatalog(), nil
	}
	return deps.CatalogFromViper()
}

func slackFromViper() slackgw.Config {
	if deps.SlackFromViper == nil {
		return slackgw.Config{}
	}
	return deps.SlackFromViper()
}

func workerConfigFromViper() worker.Config {
	if deps.WorkerConfigFromViper == nil {
		return worker.Config{}
	}
	return deps.WorkerConfigFromViper()
}

func orchestratorOptionsFromViper() orchestrator.Options {
	if deps.OrchestratorOptionsFromViper == nil {
		return orchestrator.Options{}
	}
	return deps.OrchestratorOptionsFromViper()
}

func ledgerFromViper(ctx context.Context, stateDir string) (*runledger.Ledger, error) {
	if deps.LedgerFromViper == nil {
		return nil, nil
	}
	return deps.LedgerFromViper(ctx, stateDir)
}
