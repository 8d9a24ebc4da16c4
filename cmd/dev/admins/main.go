package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"storefront/internal/admins"
	"storefront/internal/users"
	"storefront/pkg/config"
	"storefront/pkg/db"
)

// admins manages the admin lists from a shell, through the same code path the
// back office uses, so the file and the database stay in step.
//
//	go run ./cmd/dev/admins list
//	go run ./cmd/dev/admins grant -id 12345 -note "support lead"
//	go run ./cmd/dev/admins revoke -id 12345
//	go run ./cmd/dev/admins revoke-all
//	go run ./cmd/dev/admins check -id 12345
func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	id := fs.String("id", "", "telegram user id")
	username := fs.String("username", "", "telegram username (grant)")
	note := fs.String("note", "", "free-form note (grant)")
	inactive := fs.Bool("inactive", false, "record the grant without activating it")
	actor := fs.String("actor", "cli", "recorded as the acting admin")
	_ = fs.Parse(os.Args[2:])

	cfg := config.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "db open: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	opts := admins.Options{Roles: users.NewRepository(pool), LookupTimeout: cfg.Admins.LookupTimeout}
	// Tell running servers to drop their cached answers after a change.
	if rdb, err := db.OpenRedis(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "redis unavailable, servers keep cached denials until they expire: %v\n", err)
	} else if rdb != nil {
		defer rdb.Close()
		opts.Notifier = admins.NewRedisNotifier(rdb)
	}

	authority := admins.NewAuthority(
		admins.NewCachedFileSet(cfg.Admins.IDsFile),
		admins.NewRepository(pool),
		opts,
	)

	var out any
	switch cmd {
	case "list":
		out, err = authority.ListAll(ctx)
	case "grant":
		out, err = authority.Grant(ctx, admins.GrantInput{
			ExternalID: *id,
			Username:   *username,
			AddedBy:    *actor,
			Notes:      *note,
			Active:     !*inactive,
		})
	case "revoke":
		out, err = authority.Revoke(ctx, *id, *actor)
	case "revoke-all":
		out, err = authority.RevokeAll(ctx, *actor)
	case "check":
		out = map[string]any{"id": *id, "isAdmin": authority.IsAdmin(ctx, *id)}
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: admins <list|grant|revoke|revoke-all|check> [-id N] [-username U] [-note TEXT] [-inactive] [-actor NAME]")
	os.Exit(2)
}
