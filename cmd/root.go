package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/mgoffinet/linktrack/internal/config"
	"github.com/spf13/cobra"
)

// Cfg holds the loaded configuration, accessible to every subcommand.
var Cfg *config.Config

// RootCmd is the base command. Subcommands (run-server, migrate, create,
// stats, token) register themselves via their own init() functions, which
// keeps the packages decoupled and avoids import cycles.
var RootCmd = &cobra.Command{
	Use:   "linktrack",
	Short: "A short-link redirection and visitor-tracking service",
	Long: `linktrack maps short codes to destinations: redirect links answer
with a 302, pixel links serve hosted image bytes. Every public resolution
records a visitor event which is asynchronously enriched with geolocation
data.`,
}

// Execute is the entry point called from main.go.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

// initConfig runs before any command thanks to cobra.OnInitialize.
func initConfig() {
	var err error
	Cfg, err = config.LoadConfig()
	if err != nil {
		log.Printf("Warning: problem loading configuration: %v. Using default values.", err)
	}
}
