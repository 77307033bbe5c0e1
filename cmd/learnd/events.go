package main

import (
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/learnhub/courses/internal/config"
	"github.com/learnhub/courses/internal/logger"
	"github.com/learnhub/courses/internal/messaging"
)

// newWatchEventsCmd prints every progress and session event as one JSON
// line per event until interrupted.
func newWatchEventsCmd(v *viper.Viper) *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "watch-events",
		Short: "Stream learning activity events from NATS to stdout",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return v.BindPFlag(config.KeyNATSURL, cmd.Flags().Lookup("nats-url"))
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			url := v.GetString(config.KeyNATSURL)
			if url == "" {
				return errors.New("watch-events: NATS URL is empty")
			}
			natsCfg := messaging.DefaultNATSConfig()
			natsCfg.URL = url
			natsCfg.Name = "learnhub-watch"
			nc, err := messaging.NewNATSClient(natsCfg)
			if err != nil {
				return err
			}
			defer nc.Close()

			enc := json.NewEncoder(os.Stdout)
			out := make(chan map[string]any, 64)
			handler := func(subject string, ev messaging.Event) {
				select {
				case out <- map[string]any{"subject": subject, "event": ev}:
				default:
					logger.Warnf("[watch] dropping event on %s: output is behind", subject)
				}
			}
			subjects := []string{subject}
			if subject == messaging.SubjectAllProgress {
				subjects = append(subjects, messaging.SubjectSessionRevoked)
			}
			for _, s := range subjects {
				if err := nc.SubscribeEvents(s, handler); err != nil {
					return err
				}
			}
			logger.Infof("[watch] listening on %v", subjects)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case line := <-out:
					if err := enc.Encode(line); err != nil {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().String("nats-url", "nats://localhost:4222", "NATS URL")
	cmd.Flags().StringVar(&subject, "subject", messaging.SubjectAllProgress, "Subject to subscribe to")
	return cmd
}
