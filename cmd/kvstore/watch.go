package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nerrad567/kvstore/internal/infrastructure/mqtt"
)

func newWatchCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print committed changes from the MQTT change feed until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return watch(cmd.Context(), a, cmd.OutOrStdout(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON messages")
	return cmd
}

// watch subscribes to every database's change topic and prints each
// message until ctx is cancelled.
func watch(ctx context.Context, a *app, out io.Writer, asJSON bool) error {
	cfg := a.cfg.MQTT
	// A distinct client ID keeps the watcher from kicking the server off the broker.
	cfg.Broker.ClientID = fmt.Sprintf("%s-watch-%s", cfg.Broker.ClientID, uuid.NewString()[:8])

	client, err := mqtt.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer client.Close() //nolint:errcheck // Best-effort disconnect on exit
	client.SetLogger(a.log.Component("mqtt"))

	topic := client.Topics().AllChanges()
	err = client.Subscribe(topic, byte(cfg.QoS), func(_ string, payload []byte) error { // #nosec G115 -- validated 0-2
		msg, err := mqtt.DecodeChangeMessage(payload)
		if err != nil {
			return err
		}
		return printChange(out, msg, asJSON)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	a.log.Info("watching change feed", "topic", topic)

	<-ctx.Done()
	return nil
}

// printChange writes one line per changed key:
//
//	2026-01-02T15:04:05Z kvstore.db put user/1 (owner cli-put-...)
func printChange(out io.Writer, msg mqtt.ChangeMessage, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(out).Encode(msg)
	}
	var b strings.Builder
	for _, ch := range msg.Changes {
		fmt.Fprintf(&b, "%s %s %s %s (owner %s)\n",
			msg.At.Format(time.RFC3339), msg.Database, ch.Op, ch.Key, msg.Owner)
	}
	_, err := io.WriteString(out, b.String())
	return err
}
