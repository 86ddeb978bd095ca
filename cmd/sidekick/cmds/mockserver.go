package cmds

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/embernet/sidekick-sub000/pkg/mockserver"
	"github.com/spf13/cobra"
)

func NewMockServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Serve a local completion service that echoes prompts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			apiKey, _ := cmd.Flags().GetString("server-api-key")
			delay, _ := cmd.Flags().GetDuration("chunk-delay")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var opts []mockserver.Option
			if apiKey != "" {
				opts = append(opts, mockserver.WithAPIKey(apiKey))
			}
			opts = append(opts, mockserver.WithChunkDelay(delay))
			return mockserver.New(opts...).ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8765", "Listen address")
	cmd.Flags().String("server-api-key", "", "Require this bearer token")
	cmd.Flags().Duration("chunk-delay", 50*time.Millisecond, "Delay between streamed chunks")
	return cmd
}
