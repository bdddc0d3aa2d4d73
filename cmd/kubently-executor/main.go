// Command kubently-executor runs the in-cluster executor agent (C9): it
// connects to the control plane's SSE stream, runs each Command through a
// kubectl-compatible binary, and posts Results back. Grounded on the
// teacher's cmd/devopsclaw cobra-based entrypoint for command structure, and
// on pkg/executor.Agent.Run for the reconnect loop itself.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kubently/kubently/pkg/config"
	"github.com/kubently/kubently/pkg/executor"
	"github.com/kubently/kubently/pkg/kerrors"
	"github.com/kubently/kubently/pkg/logging"
)

var (
	version   = "dev"
	gitCommit string
)

// Exit codes per spec.md §6: 0 normal shutdown, 1 fatal configuration
// error (never connected), 2 unrecoverable transport error.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitTransportError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		return exitCodeFor(err)
	}
	return exitOK
}

func exitCodeFor(err error) int {
	switch kerrors.KindOf(err) {
	case kerrors.InvalidArgument, kerrors.Internal:
		return exitConfigError
	default:
		return exitTransportError
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kubently-executor",
		Short:         "Kubently executor agent: runs read-only kubectl commands on behalf of the control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			v := version
			if gitCommit != "" {
				v += fmt.Sprintf(" (%s)", gitCommit)
			}
			fmt.Println("kubently-executor", v)
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the control plane and start executing commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context())
		},
	}
}

func runAgent(ctx context.Context) error {
	cfg, err := config.LoadExecutor()
	if err != nil {
		return kerrors.Wrap(kerrors.InvalidArgument, "load executor config", err)
	}

	logger := logging.New(cfg.LogLevel, "json")

	tlsConfig, err := executor.BuildTLSConfig(cfg.APIURL, executor.TLSPolicy{
		AllowInsecureHTTP: !cfg.SSLVerify,
		CABundlePath:      cfg.CACert,
	}, logger)
	if err != nil {
		return kerrors.Wrap(kerrors.InvalidArgument, "build tls config", err)
	}

	kubectlExec := executor.NewKubectlExecutor(cfg.KubectlBin)
	kubectlExec.Timeout = cfg.CommandTimeout

	agent := executor.NewAgent(executor.Config{
		APIURL:            cfg.APIURL,
		ClusterID:         cfg.ClusterID,
		Token:             cfg.Token,
		ReconnectInterval: cfg.ReconnectInterval,
		PostRetryMax:      cfg.PostRetryMax,
		PostRetryCap:      cfg.PostRetryCap,
		TLSConfig:         tlsConfig,
	}, kubectlExec, logger, nil)

	stopCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("executor agent starting", "cluster_id", cfg.ClusterID, "api_url", cfg.APIURL)
	err = agent.Run(stopCtx)
	if err == context.Canceled {
		logger.Info("executor agent shut down")
		return nil
	}
	if err != nil {
		return kerrors.Wrap(kerrors.Unavailable, "executor agent run", err)
	}
	return nil
}
