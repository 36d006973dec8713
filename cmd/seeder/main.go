// Command seeder populates a desup database with completed scans for local
// development. In production the external scan worker writes these records
// back; the seeder stands in for it so the API and CLI have data to serve.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mescon/desup/internal/db"
	"github.com/mescon/desup/internal/domain"
)

func main() {
	dbPath := flag.String("db", "./config/desup.db", "Database file path")
	userID := flag.String("user", "dev-user", "User id to seed scans for")
	tenantID := flag.String("tenant", "dev-tenant", "Tenant id")
	flag.Parse()

	repo, err := db.NewRepository(*dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer repo.Close()

	store := db.NewScanStore(repo.DB)

	fmt.Printf("Seeding %s for user %s...\n", *dbPath, *userID)

	scans := []domain.Scan{
		{
			ID:       uuid.New().String(),
			User:     *userID,
			Tenant:   *tenantID,
			Status:   domain.ScanComplete,
			ScanDate: time.Now().Add(-48 * time.Hour).UTC(),
			Duplicates: []domain.Duplicate{
				{
					FileName: "quarterly-report.docx",
					FileExt:  ".docx",
					Size:     482133,
					Locations: []domain.FileLocation{
						{ID: uuid.New().String(), Path: "/Documents/quarterly-report.docx"},
						{ID: uuid.New().String(), Path: "/Archive/2024/quarterly-report.docx"},
					},
				},
				{
					FileName: "team-photo.jpg",
					FileExt:  ".jpg",
					Size:     3901225,
					Locations: []domain.FileLocation{
						{ID: uuid.New().String(), Path: "/Pictures/team-photo.jpg"},
						{ID: uuid.New().String(), Path: "/Shared/events/team-photo.jpg"},
						{ID: uuid.New().String(), Path: "/Backup/team-photo.jpg"},
					},
				},
			},
		},
		{
			ID:         uuid.New().String(),
			User:       *userID,
			Tenant:     *tenantID,
			Status:     domain.ScanComplete,
			ScanDate:   time.Now().Add(-14 * 24 * time.Hour).UTC(),
			Duplicates: []domain.Duplicate{},
		},
	}

	for i := range scans {
		if err := store.Create(&scans[i]); err != nil {
			log.Fatalf("create scan %s: %v", scans[i].ID, err)
		}
		fmt.Printf("  scan %s (%d duplicate groups)\n", scans[i].ID, len(scans[i].Duplicates))
	}

	fmt.Println("Done.")
}
