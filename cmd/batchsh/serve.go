// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/invowk/batchsh/internal/issue"
	"github.com/invowk/batchsh/internal/sshserver"
)

type serveOptions struct {
	listen string
	token  string
}

func newServeCommand(app *App) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a loopback SSH endpoint",
		Long: `Run an SSH endpoint that executes commands with the local shell and
serves files over SFTP.

It lets the remote code paths of batchsh be exercised without a cluster:
point --target at the printed location and log in with the printed token.
Without --token a random token valid for one hour is issued.`,
		Example: `  batchsh serve --listen 127.0.0.1:2222
  batchsh exec --target ssh://127.0.0.1:2222 --user batchsh --password-env TOKEN -- hostname`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.serve(cmd, opts); err != nil {
				return app.fail(cmd, "serve SSH", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.listen, "listen", "l", "", "address to listen on (default from config, 127.0.0.1:2222)")
	cmd.Flags().StringVar(&opts.token, "token", "", "static password accepted for the lifetime of the server")
	return cmd
}

func (a *App) serve(cmd *cobra.Command, opts serveOptions) error {
	ctx := cmd.Context()
	s, err := a.session(ctx)
	if err != nil {
		return err
	}

	listen := opts.listen
	if listen == "" {
		listen = s.Config.Server.Listen
	}
	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid listen port %q: %w", portStr, err)
	}

	cfg := sshserver.DefaultConfig()
	cfg.Host = sshserver.HostAddress(host)
	cfg.Port = port
	cfg.Token = sshserver.TokenValue(opts.token)
	cfg.DefaultShell = s.Config.Server.Shell

	srv, err := sshserver.New(cfg, sshserver.WithLogger(s.Logger))
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return issue.NewErrorContext().
			WithOperation("start SSH server").
			WithResource(listen).
			WithSuggestion("Pick a free port with --listen").
			WithIssue(issue.ServerStartFailedId).
			Wrap(err).
			BuildError()
	}
	defer func() {
		if err := srv.Stop(); err != nil {
			s.Logger.Warn("failed to stop SSH server", "error", err)
		}
	}()

	fmt.Fprintf(a.stdout, "%s %s\n", TitleStyle.Render("Listening on"), CmdStyle.Render(string(srv.Location())))
	fmt.Fprintf(a.stdout, "%s %s\n", SubtitleStyle.Render("user: "), cfg.User)
	if opts.token != "" {
		fmt.Fprintf(a.stdout, "%s %s\n", SubtitleStyle.Render("token:"), SubtitleStyle.Render("(as given by --token)"))
	} else {
		info, err := srv.ConnectionInfo("cli")
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "%s %s %s\n", SubtitleStyle.Render("token:"), info.Token,
			SubtitleStyle.Render("(expires "+info.ExpireAt.Format("15:04:05")+")"))
	}

	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-srv.Err():
		if !ok {
			return nil
		}
		return err
	}
}
