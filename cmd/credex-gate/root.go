package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	credex "github.com/kailas-cloud/credex"
	"github.com/kailas-cloud/credex/internal/version"
)

type gateOptions struct {
	addr       string
	password   string
	keyPrefix  string
	dailyLimit int64
	asJSON     bool
}

func newRootCmd() *cobra.Command {
	opts := &gateOptions{}

	rootCmd := &cobra.Command{
		Use:           "credex-gate",
		Short:         "Budget gate for agents sharing a credex ledger",
		Long:          "credex-gate reserves credit units before an action runs and settles them afterwards. Use it from shell hooks: exit code 0 means approved, 2 means insufficient balance, 1 means operational error.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.addr, "addr", envOr("CREDEX_DB_ADDR", "localhost:6379"), "redis/valkey address")
	flags.StringVar(&opts.password, "password", os.Getenv("CREDEX_DB_PASSWORD"), "database password")
	flags.StringVar(&opts.keyPrefix, "prefix", "credex:", "storage key prefix")
	flags.Int64Var(&opts.dailyLimit, "daily-limit", 300000, "per-agent daily budget in units")
	flags.BoolVar(&opts.asJSON, "json", false, "emit JSON instead of text")

	rootCmd.AddCommand(
		newVersionCmd(),
		newGateCmd(opts),
		newSettleCmd(opts),
		newStatusCmd(opts),
		newResetCmd(opts),
		newManifestCmd(opts),
		newSendCmd(opts),
		newPollCmd(opts),
		newAckCmd(opts),
	)

	return rootCmd
}

// connect builds a client from the persistent flags. The caller must Close it.
func connect(opts *gateOptions) (*credex.Client, error) {
	return credex.New(
		credex.WithRedis(opts.addr, opts.password),
		credex.WithKeyPrefix(opts.keyPrefix),
		credex.WithDailyLimit(opts.dailyLimit),
	)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "credex-gate %s (commit %s, built %s)\n",
				version.Version, version.Commit, version.Date)
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
