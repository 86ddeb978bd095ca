package cmds

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/embernet/sidekick-sub000/pkg/conversation"
	"github.com/embernet/sidekick-sub000/pkg/persistence"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
	"gopkg.in/yaml.v3"
)

func NewConversationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Manage stored conversations",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored conversations, newest first",
		Args:  cobra.NoArgs,
		RunE:  runListConversations,
	}
	list.Flags().String("output", "table", "Output format (table, yaml)")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Print a stored conversation",
		Args:  cobra.ExactArgs(1),
		RunE:  runShowConversation,
	}
	show.Flags().Bool("json", false, "Print the messages as JSON")
	show.Flags().Bool("prompt", false, "Print the conversation as a single role-tagged prompt")

	rename := &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a stored conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runRenameConversation,
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a stored conversation",
		Args:  cobra.ExactArgs(1),
		RunE:  runDeleteConversation,
	}
	del.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	cmd.AddCommand(list, show, rename, del)
	return cmd
}

func runListConversations(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("output")

	env, err := newEnvironment(false)
	if err != nil {
		return err
	}
	defer env.close()

	lister, ok := env.deps.Gateway.(persistence.Lister)
	if !ok {
		return errors.New("the configured store cannot list conversations")
	}
	summaries, err := lister.List(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(summaries)
	case "table":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "ID\tNAME\tMESSAGES\tUPDATED")
		for _, s := range summaries {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Name, s.MessageCount, s.UpdatedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}

func runShowConversation(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	asPrompt, _ := cmd.Flags().GetBool("prompt")

	env, err := newEnvironment(false)
	if err != nil {
		return err
	}
	defer env.close()

	doc, err := env.deps.Gateway.Load(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	return writeDocument(cmd.OutOrStdout(), doc, asJSON, asPrompt)
}

func writeDocument(w io.Writer, doc *persistence.Document, asJSON, asPrompt bool) error {
	switch {
	case asJSON:
		return conversation.NewHistory(doc.Messages...).WriteJSON(w)
	case asPrompt:
		_, err := fmt.Fprintln(w, strings.TrimRight(doc.Messages.GetSinglePrompt(), "\n"))
		return err
	}
	_, _ = fmt.Fprintf(w, "# %s (%s)\n\n", doc.Name, doc.ID)
	for _, m := range doc.Messages {
		if _, err := fmt.Fprintf(w, "%s\n", m.View()); err != nil {
			return err
		}
	}
	return nil
}

func runRenameConversation(cmd *cobra.Command, args []string) error {
	env, err := newEnvironment(false)
	if err != nil {
		return err
	}
	defer env.close()

	return env.deps.Gateway.Rename(cmd.Context(), args[0], strings.Join(args[1:], " "))
}

// confirm asks a yes/no question on the terminal, or on the command's streams
// when there is no terminal.
func confirm(cmd *cobra.Command, query string) (bool, error) {
	ui := &input.UI{
		Writer: cmd.ErrOrStderr(),
		Reader: cmd.InOrStdin(),
	}
	if tty, err := openTTY(); err == nil {
		defer func() {
			if err := tty.Close(); err != nil {
				log.Debug().Err(err).Msg("failed to close tty")
			}
		}()
		ui.Writer = tty
		ui.Reader = tty
	} else if !isTerminal(os.Stdin) {
		return false, errors.New("refusing to delete without confirmation, use --yes")
	}

	answer, err := ui.Ask(query+" [y/n]", &input.Options{
		Default:  "n",
		Required: true,
		Loop:     true,
		ValidateFunc: func(answer string) error {
			switch answer {
			case "y", "Y", "n", "N":
				return nil
			default:
				return errors.New("please enter 'y' or 'n'")
			}
		},
	})
	if err != nil {
		return false, err
	}
	return answer == "y" || answer == "Y", nil
}

func runDeleteConversation(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")

	env, err := newEnvironment(false)
	if err != nil {
		return err
	}
	defer env.close()

	id := args[0]
	doc, err := env.deps.Gateway.Load(cmd.Context(), id)
	if err != nil {
		return err
	}

	if !yes {
		ok, err := confirm(cmd, fmt.Sprintf("Delete %q with %d messages?", doc.Name, len(doc.Messages)))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	return env.deps.Gateway.Delete(cmd.Context(), id)
}
