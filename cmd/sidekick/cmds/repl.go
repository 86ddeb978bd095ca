package cmds

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/embernet/sidekick-sub000/pkg/inference/session"
	"github.com/embernet/sidekick-sub000/pkg/settings"
	"github.com/pkg/errors"
)

const replHelp = `commands:
  /again [PERSONA]       ask the last prompt again, optionally with another persona
  /edit                  show the last prompt
  /persona NAME          use a persona for the next prompts
  /rename NAME           rename the conversation
  /history               show the conversation
  /delete N              delete message N
  /delete-exchange N     delete message N and the one before it
  /quit                  leave
`

// repl reads prompts and commands line by line and drives one controller.
// Answers are printed by the event printer, the repl only prints command
// output.
type repl struct {
	controller *session.Controller
	catalog    *settings.Catalog
	out        io.Writer
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		_, _ = fmt.Fprint(r.out, "> ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		quit, err := r.handle(ctx, line)
		if err != nil {
			_, _ = fmt.Fprintf(r.out, "error: %s\n", err)
		}
		if quit {
			return nil
		}
	}
}

// handle processes one line and reports whether the repl should stop.
func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		h, err := r.controller.Submit(ctx, line)
		if err != nil {
			return false, err
		}
		return false, r.wait(ctx, h)
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch command {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		if _, err := fmt.Fprint(r.out, replHelp); err != nil {
			return false, err
		}
		if r.catalog != nil {
			_, err := fmt.Fprintf(r.out, "personas: %s\n", strings.Join(r.catalog.PersonaNames(), ", "))
			return false, err
		}
		return false, nil

	case "/again":
		var opts []session.AskOption
		if arg != "" {
			p, err := r.persona(arg)
			if err != nil {
				return false, err
			}
			opts = append(opts, session.WithPersona(p))
		}
		h, err := r.controller.AskAgain(ctx, opts...)
		if err != nil {
			return false, err
		}
		return false, r.wait(ctx, h)

	case "/edit":
		prompt := r.controller.ReloadForEdit()
		if prompt == "" {
			return false, session.ErrNoPendingPrompt
		}
		_, err := fmt.Fprintf(r.out, "%s\n", prompt)
		return false, err

	case "/persona":
		p, err := r.persona(arg)
		if err != nil {
			return false, err
		}
		r.controller.SetPersona(p)
		return false, nil

	case "/rename":
		if arg == "" {
			return false, errors.New("usage: /rename NAME")
		}
		return false, r.controller.Rename(ctx, arg)

	case "/history":
		for i, m := range r.controller.History() {
			if _, err := fmt.Fprintf(r.out, "%d %s\n", i, m.View()); err != nil {
				return false, err
			}
		}
		return false, nil

	case "/delete", "/delete-exchange":
		i, err := strconv.Atoi(arg)
		if err != nil {
			return false, errors.Errorf("usage: %s N", command)
		}
		if command == "/delete" {
			return false, r.controller.DeleteMessage(i)
		}
		return false, r.controller.DeleteExchange(i)

	default:
		return false, errors.Errorf("unknown command %s, try /help", command)
	}
}

func (r *repl) persona(name string) (string, error) {
	if r.catalog == nil {
		return "", errors.New("no persona catalog")
	}
	p, err := r.catalog.Persona(name)
	if err != nil {
		return "", err
	}
	return p.SystemPrompt, nil
}

func (r *repl) wait(ctx context.Context, h *session.ExecutionHandle) error {
	select {
	case <-h.Done():
	case <-ctx.Done():
		return nil
	}
	// failures are already in the transcript
	_, _ = h.Wait()
	return nil
}
