package tablerag

import (
	"fmt"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/tablerag/tablerag/internal/mcp"
)

// version is reported to MCP clients.
var version = "dev"

func (c *cli) mcpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the data assistant as MCP tools over stdio",
		Long: `Serve the data assistant to LLM agents over the Model Context Protocol on
stdin/stdout. Tools: ask_data answers a question, describe_schema lists the
loaded tables.`,
		Example: `  # claude_desktop_config.json
  # {
  #   "mcpServers": {
  #     "tablerag": {"command": "tablerag", "args": ["mcp"]}
  #   }
  # }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			application, err := c.open(ctx)
			if err != nil {
				return err
			}

			var conversation mcp.Conversation
			loaded, err := application.LoadIndex(ctx)
			if err != nil {
				return err
			}
			if loaded {
				orchestrator, err := application.Orchestrator()
				if err != nil {
					return err
				}
				conversation = orchestrator
			} else {
				c.logger.WarnContext(ctx, "serving describe_schema only until the knowledge base is built")
			}

			handlers, err := mcp.NewHandlers(conversation, application.Data, application.Sessions, c.logger)
			if err != nil {
				return err
			}
			server := mcp.NewServer(serviceName, version, handlers)

			stdio := mcpserver.NewStdioServer(server)
			if err := stdio.Listen(ctx, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil && ctx.Err() == nil {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		},
	}
}
