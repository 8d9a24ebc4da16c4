package admins_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"storefront/internal/admins"
	"storefront/internal/admins/adminstest"
)

func TestRedisNotifier_ClearsDenialOnOtherReplica(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	store := adminstest.NewMemStore()

	newReplica := func(name string) (*admins.Authority, *admins.RedisNotifier) {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		n := admins.NewRedisNotifier(client)
		a := admins.NewAuthority(admins.NewCachedFileSet(filepath.Join(t.TempDir(), name+".json")), store, admins.Options{
			CacheTTL: 30 * time.Second,
			Notifier: n,
		})
		return a, n
	}
	replicaA, notifierA := newReplica("a")
	replicaB, _ := newReplica("b")

	stop, err := notifierA.Listen(ctx, replicaA)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer stop()

	if replicaA.IsAdmin(ctx, "7") {
		t.Fatalf("expected 7 denied before the grant")
	}
	if _, err := replicaB.Grant(ctx, admins.GrantInput{ExternalID: "7", Active: true}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !replicaA.IsAdmin(ctx, "7") {
		if time.Now().After(deadline) {
			t.Fatalf("replica A kept its cached denial after a grant elsewhere")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAuthority_PublishFailureDoesNotFailMutation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	a := admins.NewAuthority(admins.NewCachedFileSet(filepath.Join(t.TempDir(), "admins.json")), adminstest.NewMemStore(), admins.Options{
		Notifier: admins.NewRedisNotifier(client),
	})
	if _, err := a.Grant(context.Background(), admins.GrantInput{ExternalID: "8", Active: true}); err != nil {
		t.Fatalf("grant must not depend on the notifier: %v", err)
	}
	if !a.IsAdmin(context.Background(), "8") {
		t.Fatalf("expected admin after grant")
	}
}
