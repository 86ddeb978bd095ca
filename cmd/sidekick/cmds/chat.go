package cmds

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/embernet/sidekick-sub000/pkg/events"
	"github.com/embernet/sidekick-sub000/pkg/helpers"
	"github.com/embernet/sidekick-sub000/pkg/inference/session"
	"github.com/embernet/sidekick-sub000/pkg/surfaces"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Args:  cobra.NoArgs,
		RunE:  runChat,
	}
	cmd.Flags().String("conversation", "", "Resume the stored conversation with this id")
	cmd.Flags().String("surface", surfaces.KindChat, "Conversation surface (chat, help, notes)")
	cmd.Flags().StringSlice("note", nil, "Note file to chat about, with --surface notes")
	cmd.Flags().Bool("show-states", false, "Print session state changes to stderr")
	cmd.Flags().Bool("show-appended", false, "Print every message added to the history as YAML")
	cmd.Flags().Bool("raw-events", false, "Print session events as JSON instead of the transcript")
	return cmd
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// readNote loads a note file. A leading block of "key: value" lines ended by
// a "---" line may set the title, the file name is used otherwise.
func readNote(path string) (surfaces.Note, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return surfaces.Note{}, errors.Wrapf(err, "could not read note %s", path)
	}
	note := surfaces.Note{
		Title:   strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Content: string(b),
	}
	if header, body, ok := strings.Cut(string(b), "\n---\n"); ok {
		kv := helpers.ParseKV(header)
		if title, ok := kv["title"]; ok && title != "" {
			note.Title = title
			note.Content = body
		}
	}
	return note, nil
}

func runChat(cmd *cobra.Command, _ []string) error {
	conversationID, _ := cmd.Flags().GetString("conversation")
	kind, _ := cmd.Flags().GetString("surface")
	notePaths, _ := cmd.Flags().GetStringSlice("note")
	showStates, _ := cmd.Flags().GetBool("show-states")
	showAppended, _ := cmd.Flags().GetBool("show-appended")
	rawEvents, _ := cmd.Flags().GetBool("raw-events")

	env, err := newEnvironment(true)
	if err != nil {
		return err
	}
	defer env.close()

	if !isTerminal(os.Stdout) && !cmd.Flags().Changed("stream") {
		env.chat.Stream = false
	}

	var notes []surfaces.Note
	for _, p := range notePaths {
		n, err := readNote(p)
		if err != nil {
			return err
		}
		notes = append(notes, n)
	}

	controller, err := surfaces.New(kind, env.deps, env.chat, env.catalog, notes)
	if err != nil {
		return err
	}
	defer flushAndClose(controller)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if conversationID != "" {
		if err := controller.Load(ctx, conversationID); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "resumed %q (%d messages)\n", controller.Name(), len(controller.History()))
	}

	if rawEvents {
		env.router.AddHandler("raw-events", events.DefaultTopic, env.router.DumpRawEvents)
	} else {
		env.router.AddHandler("printer", events.DefaultTopic, events.NewPrinterFunc(events.PrinterOptions{
			ShowAppended: showAppended,
		}, os.Stdout))
	}
	if showStates {
		env.router.AddHandler("states", events.DefaultTopic, events.DispatchTo(&stateReporter{w: os.Stderr}))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return env.router.Run(ctx)
	})
	eg.Go(func() error {
		return env.serveMetrics(ctx, viper.GetString("metrics-addr"))
	})
	eg.Go(func() error {
		// Ctrl-C stops a streaming answer, and leaves when nothing is running
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigCh:
				if controller.State() != session.StateWaiting {
					cancel()
					return nil
				}
				if err := controller.Cancel(); err != nil {
					log.Debug().Err(err).Msg("could not cancel")
					if errors.Is(err, session.ErrNotCancellable) {
						_, _ = fmt.Fprintln(os.Stdout, "\n[this answer cannot be stopped, waiting for it]")
					}
				}
			}
		}
	})
	eg.Go(func() error {
		defer cancel()
		<-env.router.Running()
		r := &repl{controller: controller, catalog: env.catalog, out: os.Stdout}
		return r.run(ctx, os.Stdin)
	})

	return eg.Wait()
}
