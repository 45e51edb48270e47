// @title llmgateway - Multi-Tenant LLM Reverse Proxy
// @version 1.0
// @description Credential-authenticated, rate/cost-limited reverse proxy in front of OpenAI, Anthropic, and Google provider APIs.

// @contact.name Platform Team
// @contact.email platform@llmgateway.internal

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	version = "dev"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "llmgateway operational CLI",
		Long:  "Starts and inspects the multi-tenant LLM reverse proxy. Tenant and credential administration lives in a separate backend service.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the gateway version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}
