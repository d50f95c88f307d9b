package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"norelock.dev/rpcdispatch/internal/server"
	"norelock.dev/rpcdispatch/internal/utils"
	"norelock.dev/rpcdispatch/pkg/jsonrpc"
)

func newServeCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve JSON-RPC over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			logger, err := newLogger(cfg, false)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			defer logger.Sync()

			srv, err := server.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return srv.Run(ctx)
		},
	}
}

func newStdioCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve line-delimited JSON-RPC on stdin and stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			logger, err := newLogger(cfg, true)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			defer logger.Sync()

			srv, err := server.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return srv.ServeStdio(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newCallCommand(load configLoader) *cobra.Command {
	var (
		pretty bool
		url    string
		token  string
	)

	cmd := &cobra.Command{
		Use:   "call [payload|-]",
		Short: "Dispatch one payload against the built-in methods and print the reply",
		Long: "Dispatch one payload against the built-in methods and print the reply.\n" +
			"The payload is read from stdin when omitted or given as \"-\". Nothing is\n" +
			"printed when the payload produces no reply. With --url the payload is\n" +
			"posted to a running server instead.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}

			var payload []byte
			if len(args) == 0 || args[0] == "-" {
				payload, err = utils.ReadBody(cmd.InOrStdin(), cfg.Server.MaxBodyBytes)
				if err != nil {
					return fmt.Errorf("read payload: %w", err)
				}
			} else {
				payload = []byte(args[0])
			}

			var (
				out         []byte
				contentType = "application/json"
			)
			if url != "" {
				var opts []jsonrpc.ClientOption
				if token != "" {
					opts = append(opts, jsonrpc.WithBearerToken(token))
				}
				client := jsonrpc.NewClient(url, opts...)
				defer client.Close()

				out, err = client.Send(cmd.Context(), payload)
			} else {
				var d *jsonrpc.Dispatcher
				d, err = server.NewDispatcher(cfg, nil)
				if err != nil {
					return err
				}
				contentType = d.Codec().ContentType()
				out, err = d.Call(cmd.Context(), payload)
			}
			if err != nil {
				return err
			}
			if out == nil {
				return nil
			}

			if pretty && contentType == "application/json" {
				var buf bytes.Buffer
				if err := json.Indent(&buf, out, "", "  "); err == nil {
					out = buf.Bytes()
				}
			}
			return writeLine(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVarP(&pretty, "pretty", "p", false, "indent JSON replies")
	cmd.Flags().StringVarP(&url, "url", "u", "", "endpoint of a running server, e.g. http://localhost:8080/rpc")
	cmd.Flags().StringVarP(&token, "token", "t", "", "bearer token sent with --url")
	return cmd
}

func newMethodsCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List the built-in methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			d, err := server.NewDispatcher(cfg, nil)
			if err != nil {
				return err
			}

			table := tablewriter.NewTable(cmd.OutOrStdout())
			table.Header("Method", "Parameters")

			var rows [][]string
			for _, name := range d.Table().Methods() {
				h, _ := d.Table().Lookup(name)
				signature := "(any)"
				if desc, ok := h.(jsonrpc.Describer); ok {
					signature = desc.Signature()
				}
				rows = append(rows, []string{name, signature})
			}

			if err := table.Bulk(rows); err != nil {
				return fmt.Errorf("build table: %w", err)
			}
			return table.Render()
		},
	}
}

func newTokenCommand(load configLoader) *cobra.Command {
	var (
		subject string
		scopes  []string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			if !cfg.AuthEnabled() {
				return errors.New("auth.jwt_secret is not configured")
			}
			if strings.TrimSpace(subject) == "" {
				return errors.New("--subject must not be empty")
			}

			issuer, err := server.NewJWT(cfg)
			if err != nil {
				return err
			}
			token, err := issuer.Issue(subject, scopes...)
			if err != nil {
				return err
			}
			return writeLine(cmd.OutOrStdout(), []byte(token))
		},
	}
	cmd.Flags().StringVarP(&subject, "subject", "s", "", "token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "permitted methods, e.g. \"system.*\" (repeatable)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func writeLine(w io.Writer, b []byte) error {
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
