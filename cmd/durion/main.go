// Package main provides the Durion command-line client.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/durion/pkg/controlplane"
)

func main() {
	endpointFlag := &cli.StringFlag{
		Name:    "endpoint",
		Aliases: []string{"e"},
		Usage:   "Control-plane base URL",
		Value:   "http://localhost:9091",
		Sources: cli.EnvVars("DURION_ENDPOINT"),
	}

	command := &cli.Command{
		Name:                  "durion",
		Usage:                 "Start and inspect durable executions",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			{
				Name:      "start",
				Usage:     "Start a durable execution",
				ArgsUsage: "<function-name> [input-json]",
				Flags:     []cli.Flag{endpointFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					functionName := cmd.Args().Get(0)
					if functionName == "" {
						return fmt.Errorf("function name is required")
					}

					arn, err := client(cmd).StartDurableExecution(ctx, functionName, []byte(cmd.Args().Get(1)))
					if err != nil {
						return err
					}

					fmt.Println(arn)

					return nil
				},
			},
			{
				Name:      "describe",
				Usage:     "Show an execution snapshot",
				ArgsUsage: "<execution-arn>",
				Flags:     []cli.Flag{endpointFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					arn := cmd.Args().Get(0)
					if arn == "" {
						return fmt.Errorf("execution ARN is required")
					}

					execution, err := client(cmd).DescribeExecution(ctx, arn)
					if err != nil {
						return err
					}

					out, err := json.MarshalIndent(execution, "", "  ")
					if err != nil {
						return err
					}

					fmt.Println(string(out))

					return nil
				},
			},
			{
				Name:      "callback-success",
				Usage:     "Deliver a result to a pending callback",
				ArgsUsage: "<callback-token> [payload]",
				Flags:     []cli.Flag{endpointFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					token := cmd.Args().Get(0)
					if token == "" {
						return fmt.Errorf("callback token is required")
					}

					return client(cmd).SendCallbackSuccess(ctx, token, []byte(cmd.Args().Get(1)))
				},
			},
			{
				Name:      "callback-failure",
				Usage:     "Deliver a rejection to a pending callback",
				ArgsUsage: "<callback-token> [payload]",
				Flags:     []cli.Flag{endpointFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					token := cmd.Args().Get(0)
					if token == "" {
						return fmt.Errorf("callback token is required")
					}

					return client(cmd).SendCallbackFailure(ctx, token, []byte(cmd.Args().Get(1)))
				},
			},
			{
				Name:  "health",
				Usage: "Check control-plane liveness",
				Flags: []cli.Flag{endpointFlag},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if err := client(cmd).Health(ctx); err != nil {
						return err
					}

					fmt.Println("healthy")

					return nil
				},
			},
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func client(cmd *cli.Command) *controlplane.HTTPClient {
	return controlplane.NewHTTPClient(cmd.String("endpoint"), controlplane.HTTPConfig{})
}
