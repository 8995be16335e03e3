package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"go.pilab.hu/oidcstore/client"
)

func newClientCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage registered clients",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "import FILE",
			Short: "Import clients from a JSON file holding one client or an array",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()

				return withClients(cmd.Context(), opts, func(src *clientSource) error {
					n, err := importClients(cmd.Context(), src, f)
					if err != nil {
						return err
					}
					zlog.Info().Int("count", n).Msg("clients imported")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "show CLIENT_ID",
			Short: "Print the metadata served for a client",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withClients(cmd.Context(), opts, func(src *clientSource) error {
					return showClient(cmd.Context(), src, args[0], cmd.OutOrStdout())
				})
			},
		},
	)

	return cmd
}

func withClients(ctx context.Context, opts *rootOptions, fn func(*clientSource) error) error {
	src, err := openClients(ctx, opts.cfg, zlog.Logger)
	if err != nil {
		return err
	}
	defer shutdownWith(zlog.Logger, "client database", src.close)

	return fn(src)
}

// importClients decodes one client or an array of clients from r and
// stores them in order. It stops at the first failure.
func importClients(ctx context.Context, store client.Store, r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}

	var clients []*client.Client
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &clients)
	} else {
		var c client.Client
		err = json.Unmarshal(data, &c)
		clients = append(clients, &c)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid client file: %w", err)
	}

	for i, c := range clients {
		if c.ID == "" {
			return i, fmt.Errorf("client #%d has no client_id", i+1)
		}
		if err := store.CreateClient(ctx, c); err != nil {
			return i, fmt.Errorf("failed to import client %q: %w", c.ID, err)
		}
	}

	return len(clients), nil
}

func showClient(ctx context.Context, src client.Source, clientID string, w io.Writer) error {
	projector, err := client.NewProjector(src)
	if err != nil {
		return err
	}

	m, err := projector.Find(ctx, clientID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("client %q: %w", clientID, client.ErrClientNotFound)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
