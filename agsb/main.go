package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"agsb/internal/config"
	"agsb/internal/logging"
	"agsb/internal/provision"
	"agsb/internal/system"
)

var (
	opts      = config.DefaultOptions(os.Getenv)
	input     config.Input
	nginxMode string
	verbose   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "agsb",
		Short: "VMess-over-WebSocket sing-box node behind a Cloudflare tunnel",
		Long: `agsb installs sing-box and cloudflared into ~/.agsb, starts them in the
background, registers them for restart at boot and prints the VMess links.

Without a subcommand agsb shows the status of a healthy install and
installs otherwise.

Environment: uuid, vmpt, agk and agn stand in for --uuid, --port, --agk
and --domain; AGSB_* variables override the option defaults.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvisioner(cmd, true, func(ctx context.Context, p *provision.Provisioner) error {
				return p.Auto(ctx, input, explicitInput(cmd))
			})
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&input.Domain, "domain", "d", "", "domain bound to the tunnel (agn)")
	pf.StringVarP(&input.UUID, "uuid", "u", "", "VMess user id (uuid)")
	pf.IntVarP(&input.Port, "port", "p", 0, "local VMess port, 10000-65535 (vmpt)")
	pf.StringVar(&input.Token, "agk", "", "Cloudflare tunnel token or credentials JSON (agk)")
	pf.StringVar(&input.Token, "token", "", "alias of --agk")
	pf.StringVar(&opts.Home, "home", opts.Home, "install directory")
	pf.StringVar(&opts.Registry, "registry", opts.Registry, "shared Nginx service registry")
	pf.StringVar(&nginxMode, "nginx", string(opts.Nginx), "Nginx handling: off, auto or managed")
	pf.StringVar(&opts.Catalog, "catalog", opts.Catalog, "link catalog: classic or extended")
	pf.StringVar(&opts.UploadURL, "upload-url", opts.UploadURL, "upload the subscription to this API")
	pf.StringVar(&opts.Mirror, "mirror", opts.Mirror, "download mirror prefix, empty to disable")
	pf.BoolVarP(&opts.Yes, "yes", "y", false, "never prompt")
	pf.BoolVarP(&verbose, "verbose", "v", false, "mirror the debug log to stderr")

	rootCmd.AddCommand(
		createInstallCommand(),
		createStatusCommand(),
		createUpdateCommand(),
		createUninstallCommand(),
		createCatCommand(),
		createLogsCommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError: %v\033[0m\n", err)
		os.Exit(1)
	}
}

func createInstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install or reinstall and start both services",
		Example: `  agsb install
  agsb install --port 20000 --uuid 25bd7521-eed2-45a1-a50a-97e432552aca
  agsb install --agk <token> --domain vpn.example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvisioner(cmd, true, func(ctx context.Context, p *provision.Provisioner) error {
				return p.Install(ctx, input)
			})
		},
	}
}

func createStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show process state, domain and links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvisioner(cmd, false, func(ctx context.Context, p *provision.Provisioner) error {
				_, err := p.Status(ctx)
				return err
			})
		},
	}
}

func createUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Download the latest binaries and restart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvisioner(cmd, false, func(ctx context.Context, p *provision.Provisioner) error {
				return p.Update(ctx)
			})
		},
	}
}

func createUninstallCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "del",
		Aliases: []string{"uninstall"},
		Short:   "Stop everything and remove the install directory",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvisioner(cmd, false, func(ctx context.Context, p *provision.Provisioner) error {
				return p.Uninstall(ctx)
			})
		},
	}
}

func createCatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cat",
		Short: "Print every link, one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProvisioner(cmd, false, func(ctx context.Context, p *provision.Provisioner) error {
				return p.Cat()
			})
		},
	}
}

func createLogsCommand() *cobra.Command {
	var (
		lines  int
		follow bool
	)
	cmd := &cobra.Command{
		Use:       "logs [argo|sb]",
		Short:     "Print the cloudflared (default) or sing-box log",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"argo", "sb"},
		RunE: func(cmd *cobra.Command, args []string) error {
			which := "argo"
			if len(args) == 1 {
				which = args[0]
			}
			return withProvisioner(cmd, false, func(ctx context.Context, p *provision.Provisioner) error {
				return p.Logs(ctx, which, lines, follow, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new lines")
	return cmd
}

// explicitInput reports whether any install parameter was given on the
// command line.
func explicitInput(cmd *cobra.Command) bool {
	for _, name := range []string{"domain", "uuid", "port", "agk", "token"} {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

// withProvisioner validates the options, opens the debug log and runs fn.
// The debug log lives in the install directory, so commands that must not
// create it only log there when it already exists.
func withProvisioner(cmd *cobra.Command, creates bool, fn func(context.Context, *provision.Provisioner) error) error {
	opts.Nginx = config.NginxMode(nginxMode)
	if err := opts.Validate(); err != nil {
		return err
	}
	opts.Verbose = verbose

	log, closer, err := openLog(opts, creates)
	if err != nil {
		return err
	}
	defer closer.Close()
	log.WithField("command", cmd.Name()).Debug("agsb started")

	var prompt config.Prompter
	if !opts.Yes {
		if tp := config.NewTermPrompter(os.Stdin, os.Stdout); tp != nil {
			prompt = tp
		}
	}
	p := provision.New(opts, system.Host{}, prompt, cmd.OutOrStdout(), log)
	if err := fn(cmd.Context(), p); err != nil {
		log.WithError(err).WithField("command", cmd.Name()).Error("command failed")
		return err
	}
	return nil
}

func openLog(o config.Options, creates bool) (logrus.FieldLogger, io.Closer, error) {
	layout := o.Layout()
	if creates || layout.Exists() {
		return logging.New(layout.DebugLog(), o.Verbose)
	}
	l := logging.Discard()
	if o.Verbose {
		l.SetOutput(os.Stderr)
		l.SetLevel(logrus.DebugLevel)
	}
	return l, io.NopCloser(nil), nil
}
