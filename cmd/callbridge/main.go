package main

// @title           Callbridge API
// @version         1.0
// @description     GoTo Connect OAuth connection management and call-data proxy.

// @contact.name   Custodia Labs
// @contact.url    https://github.com/custodia-labs/callbridge/issues

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token. Format: "Bearer {token}"

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "callbridge",
		Short:         "GoTo Connect token lifecycle service",
		Long:          `Callbridge connects users to GoTo Connect over OAuth2, keeps their tokens fresh, and proxies call-data reads.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newServeCommand("api", "Run the HTTP API only"),
		newServeCommand("worker", "Run the background state reaper only"),
		newServeCommand("all", "Run the HTTP API and the state reaper"),
		newMigrateCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
