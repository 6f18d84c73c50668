package cli

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/mgoffinet/linktrack/cmd"
	"github.com/mgoffinet/linktrack/internal/config"
	apperrors "github.com/mgoffinet/linktrack/internal/errors"
	"github.com/mgoffinet/linktrack/internal/models"
	"github.com/mgoffinet/linktrack/internal/repository"
	"github.com/mgoffinet/linktrack/internal/services"
	"github.com/spf13/cobra"
)

var statsOwnerFlag string

// StatsCmd prints the counters and the latest visitors of a short code.
var StatsCmd = &cobra.Command{
	Use:   "stats [short-code]",
	Short: "Get visit statistics for a short code",
	Long:  `Prints click/visitor counts and the most recent visitor events for the provided short code.`,
	Args:  cobra.ExactArgs(1),
	Run:   runStats,
}

func init() {
	StatsCmd.Flags().StringVar(&statsOwnerFlag, "owner", "", "Owner identifier the link belongs to")
	StatsCmd.MarkFlagRequired("owner")
	cmd.RootCmd.AddCommand(StatsCmd)
}

func runStats(cobraCmd *cobra.Command, args []string) {
	code := args[0]

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

	linkRepo := repository.NewLinkRepository(db)
	visitRepo := repository.NewVisitRepository(db)
	linkService := services.NewLinkService(linkRepo, visitRepo, nil)

	link, visitors, err := linkService.GetLinkStats(code, statsOwnerFlag)
	if err != nil {
		if errors.Is(err, apperrors.ErrLinkNotFound) {
			fmt.Printf("Error: short code '%s' not found\n", code)
		} else if errors.Is(err, apperrors.ErrForbidden) {
			fmt.Printf("Error: short code '%s' does not belong to owner '%s'\n", code, statsOwnerFlag)
		} else {
			fmt.Printf("Error retrieving statistics: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Printf("Statistics for short code: %s\n", code)
	fmt.Printf("Kind: %s\n", link.Kind)
	if link.Kind == models.KindRedirect {
		fmt.Printf("Destination: %s\n", link.DestinationURL)
		fmt.Printf("Total clicks: %d\n", link.ClickCount)
	}
	fmt.Printf("Total visitors: %d\n", visitors)
	fmt.Printf("Created at: %s\n", link.CreatedAt.Format("2006-01-02 15:04:05"))

	visits, _, err := linkService.GetVisitors(code, statsOwnerFlag, 1, 10)
	if err != nil {
		log.Fatalf("Failed to list visitors: %v", err)
	}
	if len(visits) > 0 {
		fmt.Println("Latest visitors:")
		for _, v := range visits {
			line := fmt.Sprintf("  %s  %s", v.Timestamp.Format("2006-01-02 15:04:05"), v.IPAddress)
			if v.Enriched() {
				line += fmt.Sprintf("  %s, %s (%s)", v.City, v.Country, v.ISP)
			}
			fmt.Println(line)
		}
	}
}
