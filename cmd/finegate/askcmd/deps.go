package askcmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/yosuke0517/dev-assistant-agent/internal/slackgw"
)

type Dependencies struct {
	LoggerFromViper func() (*slog.Logger, error)
	SlackFromViper  func() slackgw.Config
}

var deps Dependencies

func NewCommand(d Dependencies) *cobra.Command {
	deps = d
	return newAskCmd()
}

func loggerFromViper() (*slog.Logger, error) {
	if deps.LoggerFromViper == nil {
		return nil, fmt.Errorf("LoggerFromViper dependency missing")
	}
	return deps.LoggerFromViper()
}

func slackFromViper() slackgw.Config {
	if deps.SlackFromViper == nil {
		return slackgw.Config{}
	}
	return deps.SlackFromViper()
}
