package db

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"storefront/pkg/config"
)

func TestRuntimeConnString_PrefersDatabaseURL(t *testing.T) {
	cfg := config.Config{
		DatabaseURL: "postgres://pooler/db?pgbouncer=true",
		DB:          config.DBConfig{User: "u", Password: "p", Host: "h", Port: "5432", Name: "n"},
	}
	if got := runtimeConnString(cfg); got != cfg.DatabaseURL {
		t.Fatalf("expected DATABASE_URL, got %q", got)
	}

	cfg.DatabaseURL = ""
	want := "postgres://u:p@h:5432/n?sslmode=disable"
	if got := runtimeConnString(cfg); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestMigrationConnString_PrefersDirectURL(t *testing.T) {
	cfg := config.Config{DatabaseURL: "postgres://pooler/db", DirectURL: "postgres://direct/db"}
	if got := migrationConnString(cfg); got != "postgres://direct/db" {
		t.Fatalf("expected DIRECT_URL, got %q", got)
	}
}

func TestOpenRedis(t *testing.T) {
	client, err := OpenRedis(context.Background(), config.Config{})
	if err != nil || client != nil {
		t.Fatalf("expected nil client without REDIS_ADDR, got %v %v", client, err)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	defer mr.Close()

	client, err = OpenRedis(context.Background(), config.Config{RedisAddr: mr.Addr()})
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	defer client.Close()
}
