package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"rps_duel/internal/db"
)

func main() {
	apply := flag.Bool("apply", false, "apply migrations")
	flag.Parse()

	names, err := db.Migrations()
	if err != nil {
		log.Fatalf("list migrations: %v", err)
	}
	if !*apply {
		for _, name := range names {
			fmt.Println(name)
		}
		return
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL not set")
	}

	pool := db.Connect(dsn)
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	fmt.Printf("applied %d migrations\n", len(names))
}
