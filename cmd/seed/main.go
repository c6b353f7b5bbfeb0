// seed writes the initial allowed list and device entries to Postgres.
// Idempotent: skips when an allowed list already exists.
package main

import (
	"context"
	"log"
	"time"

	"ied-sentinel/internal/authority"
	"ied-sentinel/internal/authority/repository"
	"ied-sentinel/internal/config"
	"ied-sentinel/internal/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	seeded, err := authority.Seed(ctx, repository.NewPostgresRepository(conn), cfg.AuthorityIDList(), time.Now().UTC())
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	if !seeded {
		log.Println("Seed already applied (allowed list exists). Skipping.")
		return
	}
	log.Printf("Seeded allowed ids %v", cfg.AuthorityIDList())
}
