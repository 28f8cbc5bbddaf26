package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"invoice-extraction-pipeline/internal/config"
	pg "invoice-extraction-pipeline/internal/infra/db/postgres"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, false)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	for _, stmt := range pg.Schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			log.Fatalf("apply schema: %v\nstatement:\n%s", err, stmt)
		}
	}

	fmt.Println("schema ready: processing_jobs, invoices, audit_log")
}
