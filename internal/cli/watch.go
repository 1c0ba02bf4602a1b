package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpapi "github.com/saltfish/freqsweep/internal/api/http"
	"github.com/saltfish/freqsweep/internal/events"
)

func newWatchCmd(st *state) *cobra.Command {
	var (
		queue string
		relay string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow batch events published to RabbitMQ",
		RunE: func(cmd *cobra.Command, args []string) error {
			if st.cfg.RabbitMQ.URL == "" {
				return errors.New("rabbitmq.url is not set")
			}

			ctx, stop := signalContext(cmd.Context(), st.logger)
			defer stop()

			sub, err := events.NewRabbitMQSubscriber(&st.cfg.RabbitMQ, queue, st.logger)
			if err != nil {
				return err
			}
			defer sub.Close()

			var hub *httpapi.Hub
			if relay != "" {
				hub = httpapi.NewHub(st.logger)
				go hub.Run()
				defer hub.Shutdown()

				httpapi.Version = Version
				server := httpapi.NewServer(relay, httpapi.Deps{Hub: hub}, st.logger)
				go func() {
					if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						st.logger.Error("HTTP server error", zap.Error(err))
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					server.Stop(shutdownCtx)
				}()
			}

			handler := func(routingKey string, body []byte) error {
				line, err := events.Describe(routingKey, body)
				if err != nil {
					return err
				}
				fmt.Fprintf(st.out, "%s  %s\n", time.Now().Format(time.TimeOnly), line)
				if hub != nil {
					return hub.Relay(routingKey, body)
				}
				return nil
			}

			if err := sub.Subscribe(ctx, []string{events.RoutingKeyAll}, handler); err != nil {
				return err
			}

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&queue, "queue", "freqsweep.watch", "queue name, deleted when the last watcher leaves")
	cmd.Flags().StringVar(&relay, "relay", "", "also serve received events on ws://<addr>/ws")
	return cmd
}
