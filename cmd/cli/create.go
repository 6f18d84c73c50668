package cli

import (
	"fmt"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/mgoffinet/linktrack/cmd"
	"github.com/mgoffinet/linktrack/internal/config"
	"github.com/mgoffinet/linktrack/internal/models"
	"github.com/mgoffinet/linktrack/internal/repository"
	"github.com/mgoffinet/linktrack/internal/services"
	"github.com/spf13/cobra"
)

var (
	kindFlag        string
	destinationFlag string
	ownerFlag       string
	contentFileFlag string
)

// CreateCmd creates a link directly against the store, without going through
// the HTTP API. Useful for provisioning and for local testing.
var CreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Creates a short link (redirect or pixel) for an owner.",
	Long: `Creates a link and prints its short code.

Examples:
  linktrack create --owner alice --url "https://example.com/page"
  linktrack create --owner alice --kind pixel --content-file ./pixel.png
  linktrack create --owner alice --kind pixel --url "https://cdn.example.com/logo.png"`,
	Run: func(cobraCmd *cobra.Command, args []string) {
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

		var link *models.Link
		switch kindFlag {
		case models.KindRedirect:
			link, err = linkService.CreateRedirectLink(ownerFlag, destinationFlag)
		case models.KindPixel:
			if contentFileFlag != "" {
				var content []byte
				content, err = os.ReadFile(contentFileFlag)
				if err != nil {
					log.Fatalf("Failed to read content file: %v", err)
				}
				link, err = linkService.CreatePixelLink(ownerFlag, detectContentType(contentFileFlag, content), content)
			} else {
				link, err = linkService.CreateProxyPixelLink(ownerFlag, destinationFlag)
			}
		default:
			fmt.Printf("Error: unknown kind %q (want redirect or pixel)\n", kindFlag)
			os.Exit(1)
		}
		if err != nil {
			log.Fatalf("Failed to create link: %v", err)
		}

		prefix := "s"
		if link.Kind == models.KindPixel {
			prefix = "img"
		}
		fmt.Printf("Link created successfully:\n")
		fmt.Printf("Code: %s\n", link.Code)
		fmt.Printf("URL:  %s/%s/%s\n", cfg.Server.BaseURL, prefix, link.Code)
	},
}

func init() {
	CreateCmd.Flags().StringVar(&kindFlag, "kind", models.KindRedirect, "Link kind: redirect or pixel")
	CreateCmd.Flags().StringVar(&destinationFlag, "url", "", "Destination URL (redirect) or external image URL (proxy pixel)")
	CreateCmd.Flags().StringVar(&ownerFlag, "owner", "", "Owner identifier the link belongs to")
	CreateCmd.Flags().StringVar(&contentFileFlag, "content-file", "", "Path to an image file to host for a pixel link")
	CreateCmd.MarkFlagRequired("owner")

	cmd.RootCmd.AddCommand(CreateCmd)
}

// detectContentType prefers the file extension and falls back to sniffing the
// first bytes.
func detectContentType(path string, content []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return http.DetectContentType(content)
}
