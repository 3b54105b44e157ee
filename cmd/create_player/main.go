// Command create_player seeds a participant row in the redis store, for
// local testing against a shared deployment.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strconv"

	"rps_duel/internal/domain"
	"rps_duel/internal/store"

	redis "github.com/redis/go-redis/v9"
)

func main() {
	name := flag.String("name", "testplayer", "participant name")
	score := flag.Int64("score", 0, "score to add")
	flag.Parse()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		log.Fatal("REDIS_ADDR not set")
	}
	dbIndex, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
	prefix := os.Getenv("STORE_PREFIX")
	if prefix == "" {
		prefix = "rps"
	}

	if err := domain.ValidateIdentity(*name); err != nil {
		log.Fatalf("invalid name %q: %v", *name, err)
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD"), DB: dbIndex})
	defer client.Close()

	st, err := store.NewRedis(ctx, client, prefix, nil)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	path := domain.PlayerPath(*name)
	if err := st.Update(ctx, path, store.Record{domain.FieldUsername: *name}); err != nil {
		log.Fatalf("write participant: %v", err)
	}
	total, err := st.Increment(ctx, path, domain.FieldScore, *score)
	if err != nil {
		log.Fatalf("set score: %v", err)
	}

	snap, err := st.Get(ctx, path)
	if err != nil {
		log.Fatalf("read back: %v", err)
	}
	rec, _ := snap.Value()
	log.Printf("participant %s score=%d active=%v", *name, total, rec.Bool(domain.FieldActive))
}
