// Command paymentctl is the operator CLI for the payments service.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var Version = "dev"

type globalOpts struct {
	baseURL string
	token   string
	timeout time.Duration
}

func main() {
	opts := &globalOpts{}
	rootCmd := &cobra.Command{
		Use:          "paymentctl",
		Short:        "Operator tooling for the order payments service",
		Version:      Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "url", envOr("PAYMENTCTL_URL", "http://localhost:8080"), "service base URL")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("PAYMENTCTL_TOKEN"), "operator bearer token")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(signCmd(opts))
	rootCmd.AddCommand(syncCmd(opts))
	rootCmd.AddCommand(recomputeCmd(opts))
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
