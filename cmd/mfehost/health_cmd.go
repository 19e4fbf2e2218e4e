package main

import (
	"context"
	"fmt"
	"time"

	"mfehost/pkg/federation"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func healthCmd() *cobra.Command {
	var (
		address string
		service string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the gRPC health service of a running host",
		Long: `Check the host (empty --service) or one remote container by name through
the standard gRPC health protocol. Exits non-zero unless SERVING.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := federation.CheckHealth(context.Background(), address, service, timeout)
			if err != nil {
				if status.Code(err) == codes.NotFound {
					return fmt.Errorf("unknown service %q", service)
				}
				return err
			}

			name := service
			if name == "" {
				name = "host"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, st)

			if st != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("%s is %s", name, st)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "localhost:5050", "gRPC health address of the host")
	cmd.Flags().StringVar(&service, "service", "", "remote name to check (empty for the host)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}
