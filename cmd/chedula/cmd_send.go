package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jasrulete/AI-Scheduler/internal/realtime"
	"github.com/spf13/cobra"
)

var sendTimeout time.Duration

func init() {
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 60*time.Second, "how long to wait for the reply")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send one message to the assistant and print the reply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
		defer cancel()

		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		authed := make(chan struct{}, 1)
		replies := make(chan realtime.Event, 1)
		notify := func(ch chan<- realtime.Event) realtime.Handler {
			return func(ev realtime.Event) {
				select {
				case ch <- ev:
				default:
				}
			}
		}
		subs := a.session.Router().Bind(map[string]realtime.Handler{
			realtime.EventAuthSuccess: func(realtime.Event) {
				select {
				case authed <- struct{}{}:
				default:
				}
			},
			realtime.EventChatResponse: notify(replies),
			realtime.EventError:        notify(replies),
			realtime.EventAuthFailed:   notify(replies),
		})
		defer a.session.Router().Unbind(subs)

		if err := a.session.Start(ctx); err != nil {
			return err
		}

		select {
		case <-authed:
		case ev := <-replies:
			return replyError(ev)
		case <-ctx.Done():
			return errors.New("timed out waiting for authentication")
		}

		if _, err := a.session.Send(args[0]); err != nil {
			return err
		}

		select {
		case ev := <-replies:
			if ev.Type != realtime.EventChatResponse {
				return replyError(ev)
			}
			var resp realtime.ChatResponse
			if err := ev.Decode(&resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			a.sync.Wait()
			return nil
		case <-ctx.Done():
			return errors.New("timed out waiting for the assistant")
		}
	},
}

func replyError(ev realtime.Event) error {
	var p realtime.ErrorPayload
	_ = ev.Decode(&p)
	return fmt.Errorf("%s: %s", ev.Type, p.Error)
}
