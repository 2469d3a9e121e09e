package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	cfg "github.com/intermap/intermap/config"
	"github.com/intermap/intermap/libs/log"
	imos "github.com/intermap/intermap/libs/os"
	nm "github.com/intermap/intermap/node"
)

// NodeProvider takes a config and a logger and returns a ready to go Node.
type NodeProvider func(*cfg.Config, log.Logger) (*nm.Node, error)

// DefaultNodeProvider builds a node with the default production components:
// Kubo transport, ICMP prober, STUN detector.
func DefaultNodeProvider(config *cfg.Config, logger log.Logger) (*nm.Node, error) {
	return nm.New(config, logger)
}

// NewStartCmd returns the command that runs the node until it receives
// SIGTERM or Ctrl-C.
func NewStartCmd(nodeProvider NodeProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the Intermap node",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := nodeProvider(config, logger)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			if err := n.Start(); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}
			logger.Info("started node", "node_id", n.Identity().NodeID, "moniker", config.Moniker)

			// Stop upon receiving SIGTERM or CTRL-C.
			imos.TrapSignal(logger, func() {
				if n.IsRunning() {
					if err := n.Stop(); err != nil {
						logger.Error("unable to stop the node", "error", err)
					}
				}
			})

			// Run forever.
			select {}
		},
	}
	return cmd
}
