package tablerag

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tablerag/tablerag/internal/rag"
)

func (c *cli) askCommand() *cobra.Command {
	var showSQL bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			application, err := c.openLoaded(ctx)
			if err != nil {
				return err
			}
			orchestrator, err := application.Orchestrator()
			if err != nil {
				return err
			}

			answer, err := orchestrator.Turn(ctx, application.Sessions.Create(), strings.Join(args, " "))
			if err != nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), rag.UserMessage(err))
				return errReported
			}
			printAnswer(cmd.OutOrStdout(), answer, showSQL)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showSQL, "show-sql", false, "print the SQL that was run")
	return cmd
}

func (c *cli) chatCommand() *cobra.Command {
	var showSQL bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long: `Start an interactive conversation. Earlier questions and answers are kept as
context for follow-ups. Type "exit" or "quit", or send EOF, to leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			application, err := c.openLoaded(ctx)
			if err != nil {
				return err
			}
			orchestrator, err := application.Orchestrator()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			session := application.Sessions.Create()
			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for {
				_, _ = fmt.Fprint(out, "> ")
				if !scanner.Scan() {
					_, _ = fmt.Fprintln(out)
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch strings.ToLower(line) {
				case "exit", "quit":
					return nil
				case "":
					_, _ = fmt.Fprintln(out, rag.UserMessage(rag.ErrEmptyUtterance))
					continue
				}

				answer, err := orchestrator.Turn(ctx, session, line)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					_, _ = fmt.Fprintln(out, rag.UserMessage(err))
					continue
				}
				printAnswer(out, answer, showSQL)
			}
		},
	}
	cmd.Flags().BoolVar(&showSQL, "show-sql", false, "print the SQL that was run for each answer")
	return cmd
}

func printAnswer(w io.Writer, answer rag.Answer, showSQL bool) {
	if showSQL && answer.SQL != "" {
		_, _ = fmt.Fprintf(w, "SQL: %s\n", answer.SQL)
	}
	_, _ = fmt.Fprintln(w, answer.Text)
	if len(answer.FollowUps) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "\nYou could also ask:")
	for i, question := range answer.FollowUps {
		_, _ = fmt.Fprintf(w, "  %d. %s\n", i+1, question)
	}
}
