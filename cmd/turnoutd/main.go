package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"turnoutd/internal/config"
	"turnoutd/internal/notify"
	"turnoutd/internal/server"
	"turnoutd/internal/store"
	"turnoutd/internal/suggest"
)

func main() {
	// Optional .env for local development.
	_ = godotenv.Load()

	cfg := config.LoadConfig()

	db, err := store.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	os.MkdirAll(cfg.UploadDir, 0755)
	os.MkdirAll(cfg.ReportOutputDir, 0755)

	sweeper := server.StartRetentionSweeper(db, cfg.Retention())
	defer sweeper.Stop()

	srv := server.New(cfg, db, suggest.NewClient(cfg), notify.New(cfg))

	log.Printf("Starting turnout analysis server addr=%s retention=%s", cfg.ListenAddr, cfg.Retention())
	if err := srv.App().Listen(cfg.ListenAddr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
