package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/embernet/sidekick-sub000/pkg/events"
	"github.com/embernet/sidekick-sub000/pkg/helpers"
	"github.com/embernet/sidekick-sub000/pkg/inference/session"
	"github.com/embernet/sidekick-sub000/pkg/surfaces"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const askTemplateName = "ask"

func NewAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [PROMPT...]",
		Short: "Send one prompt and print the answer",
		Long: "Send one prompt and print the answer. The prompt is either the arguments, " +
			"a template file rendered with --var assignments, or standard input.",
		RunE: runAsk,
	}
	cmd.Flags().String("template", "", "Prompt template file")
	cmd.Flags().StringArray("var", nil, "Template variable as key=value, may be repeated")
	cmd.Flags().Bool("save", false, "Store the exchange as a conversation")
	return cmd
}

func askPromptText(cmd *cobra.Command, args []string) (string, error) {
	templatePath, _ := cmd.Flags().GetString("template")
	if templatePath != "" {
		if len(args) > 0 {
			return "", errors.New("a prompt and --template cannot be used together")
		}
		b, err := os.ReadFile(templatePath)
		if err != nil {
			return "", errors.Wrapf(err, "could not read template %s", templatePath)
		}
		return string(b), nil
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if isTerminal(os.Stdin) {
		return "", errors.New("no prompt given")
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", errors.Wrap(err, "could not read prompt from stdin")
	}
	return string(b), nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	text, err := askPromptText(cmd, args)
	if err != nil {
		return err
	}
	assignments, _ := cmd.Flags().GetStringArray("var")
	vars, err := helpers.ParseAssignments(assignments)
	if err != nil {
		return err
	}
	save, _ := cmd.Flags().GetBool("save")

	env, err := newEnvironment(true)
	if err != nil {
		return err
	}
	defer env.close()

	if !isTerminal(os.Stdout) && !cmd.Flags().Changed("stream") {
		env.chat.Stream = false
	}

	var extra []session.Option
	if save {
		extra = append(extra, session.WithGateway(env.deps.Gateway))
	}
	cell, err := surfaces.NewPromptCell(env.deps, env.chat, askTemplateName, text, extra...)
	if err != nil {
		return err
	}
	defer flushAndClose(cell.Controller)

	env.router.AddHandler("printer", events.DefaultTopic, events.NewPrinterFunc(events.PrinterOptions{}, cmd.OutOrStdout()))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var result session.Result
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return env.router.Run(ctx)
	})
	eg.Go(func() error {
		return env.serveMetrics(ctx, viper.GetString("metrics-addr"))
	})
	eg.Go(func() error {
		defer cancel()
		<-env.router.Running()

		h, err := cell.Run(ctx, vars)
		if err != nil {
			return err
		}
		// failures are reported after the exchange is saved
		result, _ = h.Wait()
		return nil
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	if save {
		if err := cell.Flush(cmd.Context()); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "saved as %s\n", cell.SessionID())
	}
	if result.Outcome == session.OutcomeFailed {
		return result.Err
	}
	return nil
}
