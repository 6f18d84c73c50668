package cli

import (
	"fmt"
	"log"

	"github.com/mgoffinet/linktrack/cmd"
	"github.com/mgoffinet/linktrack/internal/config"
	"github.com/mgoffinet/linktrack/internal/models"
	"github.com/mgoffinet/linktrack/internal/repository"
	"github.com/spf13/cobra"
)

// MigrateCmd creates or updates the 'links' and 'visits' tables from the Go
// models.
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Executes database migrations to create or update tables.",
	Long: `This command connects to the configured SQLite database and runs
GORM automatic migrations for the 'links' and 'visits' tables.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.LoadConfig()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}

		db, err := repository.OpenDatabase(cfg.Database.Name)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			log.Fatalf("Failed to get underlying SQL database: %v", err)
		}
		defer sqlDB.Close()

		if err := db.AutoMigrate(&models.Link{}, &models.Visit{}); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}

		fmt.Println("Database migrations executed successfully.")
	},
}

func init() {
	cmd.RootCmd.AddCommand(MigrateCmd)
}
