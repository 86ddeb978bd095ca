package events

import (
	"fmt"
	"io"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"gopkg.in/yaml.v3"
)

type PrinterOptions struct {
	// Name is printed once before the first delta of each response.
	Name string
	// ShowAppended dumps appended messages as YAML.
	ShowAppended bool
}

// PrinterFunc renders session events as plain text: deltas are written as
// they arrive and every finished response ends with a newline.
func PrinterFunc(name string, w io.Writer) func(msg *message.Message) error {
	return NewPrinterFunc(PrinterOptions{Name: name}, w)
}

func NewPrinterFunc(options PrinterOptions, w io.Writer) func(msg *message.Message) error {
	isFirst := true
	// buffered holds what has been written for the current response
	buffered := ""

	return func(msg *message.Message) error {
		defer msg.Ack()

		e, err := NewEventFromJson(msg.Payload)
		if err != nil {
			return err
		}

		switch p_ := e.(type) {
		case *EventPartialCompletionStart:
			isFirst = true
			buffered = ""

		case *EventPartialCompletion:
			if isFirst && options.Name != "" {
				isFirst = false
				if _, err := fmt.Fprintf(w, "\n%s: \n", options.Name); err != nil {
					return err
				}
			}
			buffered = p_.Completion
			if _, err := fmt.Fprintf(w, "%s", p_.Delta); err != nil {
				return err
			}

		case *EventFinal:
			// non-streaming responses never produced deltas
			if buffered == "" && p_.Text != "" {
				if _, err := fmt.Fprintf(w, "%s", p_.Text); err != nil {
					return err
				}
			}
			if !strings.HasSuffix(p_.Text, "\n") {
				if _, err := fmt.Fprintf(w, "\n"); err != nil {
					return err
				}
			}
			buffered = ""

		case *EventInterrupt:
			suffix := strings.TrimPrefix(p_.Text, buffered)
			if _, err := fmt.Fprintf(w, "%s\n", suffix); err != nil {
				return err
			}
			buffered = ""

		case *EventError:
			if _, err := fmt.Fprintf(w, "\n[error] %s\n", p_.ErrorString); err != nil {
				return err
			}
			buffered = ""

		case *EventPersistenceError:
			if _, err := fmt.Fprintf(w, "\n[warning] could not %s conversation: %s\n", p_.Op, p_.ErrorString); err != nil {
				return err
			}

		case *EventMessageAppended:
			if options.ShowAppended {
				v_, err := yaml.Marshal(p_.Message)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(w, "%s\n", v_); err != nil {
					return err
				}
			}
		}

		return nil
	}
}
