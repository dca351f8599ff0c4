package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"billing-service/internal/config"
	"billing-service/internal/db"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
)

const usage = `usage: migrate [-steps N] <up|down|version>`

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("[MIGRATE] No .env file found, relying on system env vars")
	}

	steps := flag.Int("steps", 0, "number of migrations to apply; 0 means all (down defaults to 1)")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	m, err := db.NewMigrator(cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("[MIGRATE] %v", err)
	}
	defer m.Close()

	switch flag.Arg(0) {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = m.Up()
		}
	case "down":
		n := *steps
		if n <= 0 {
			n = 1
		}
		err = m.Steps(-n)
	case "version":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			log.Println("[MIGRATE] no migrations applied")
			return
		}
		if verr != nil {
			log.Fatalf("[MIGRATE] %v", verr)
		}
		log.Printf("[MIGRATE] version=%d dirty=%t", version, dirty)
		return
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err := db.IgnoreNoChange(err); err != nil {
		log.Fatalf("[MIGRATE] %s failed: %v", flag.Arg(0), err)
	}
	log.Printf("[MIGRATE] %s complete", flag.Arg(0))
}
