package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"order-payments/internal/infra/api"
)

func syncCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <paymentId>",
		Short: "Pull the gateway state of a payment and reconcile it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return operatorPost(cmd, opts, "/api/v1/payments/"+url.PathEscape(args[0])+"/sync")
		},
	}
}

func recomputeCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "recompute <orderRef>",
		Short: "Recompute an order's paid amount and balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return operatorPost(cmd, opts, "/api/v1/orders/"+url.PathEscape(args[0])+"/totals/recompute")
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		secret  string
		issuer  string
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--jwt-secret or JWT_SECRET is required")
			}
			tok, err := api.NewAuthenticator(secret, issuer).Mint(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "jwt-secret", envOr("JWT_SECRET", ""), "HS256 signing secret")
	cmd.Flags().StringVar(&issuer, "issuer", "order-payments", "token issuer")
	cmd.Flags().StringVar(&subject, "subject", "paymentctl", "operator identity")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}

func operatorPost(cmd *cobra.Command, opts *globalOpts, path string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(opts.baseURL, "/")+path, nil)
	if err != nil {
		return err
	}
	if opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.token)
	}
	return doRequest(req, cmd.OutOrStdout())
}

// doRequest prints the response body and fails on a non-2xx status.
func doRequest(req *http.Request, out io.Writer) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n", strings.TrimSpace(string(body)))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, resp.Status)
	}
	return nil
}
