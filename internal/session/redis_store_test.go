package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })
	return rs, mr
}

func TestNewRedisStoreErrors(t *testing.T) {
	if _, err := NewRedisStore("http://not-redis"); err == nil {
		t.Fatal("expected a parse error for a non-redis URL")
	}

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := NewRedisStore("redis://" + addr); err == nil {
		t.Fatal("expected a connection error when redis is down")
	}
}

func TestPingTracksServer(t *testing.T) {
	mr := miniredis.RunT(t)
	rs := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	defer rs.Close()

	ctx := context.Background()
	if err := rs.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	mr.Close()
	if err := rs.Ping(ctx); err == nil {
		t.Fatal("Ping should fail once redis is gone")
	}
}

func TestRefreshSessionLayout(t *testing.T) {
	rs, mr := newTestStore(t)
	ctx := context.Background()

	if err := rs.SaveRefreshSession(ctx, "3f9a", "u-ada", time.Now().Add(30*time.Minute)); err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}

	raw, err := mr.Get("hubo:refresh:3f9a")
	if err != nil {
		t.Fatalf("refresh key missing: %v", err)
	}
	var data TokenData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		t.Fatalf("stored value is not TokenData JSON: %v", err)
	}
	if data.UserID != "u-ada" || data.CreatedAt.IsZero() {
		t.Fatalf("unexpected token data: %+v", data)
	}
	if ttl := mr.TTL("hubo:refresh:3f9a"); ttl <= 29*time.Minute || ttl > 30*time.Minute {
		t.Fatalf("refresh TTL should follow the expiry, got %v", ttl)
	}

	user, err := rs.LookupRefreshSession(ctx, "3f9a")
	if err != nil {
		t.Fatalf("LookupRefreshSession: %v", err)
	}
	if user.ID != "u-ada" || user.Role != "" || user.Email != "" {
		t.Fatalf("lookup should return only the user id, got %+v", user)
	}
}

func TestRefreshSessionLifecycle(t *testing.T) {
	rs, mr := newTestStore(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)

	for hash, userID := range map[string]string{"h-ada": "u-ada", "h-lin": "u-lin"} {
		if err := rs.SaveRefreshSession(ctx, hash, userID, expiresAt); err != nil {
			t.Fatalf("save %s: %v", hash, err)
		}
	}

	if err := rs.RevokeRefreshSession(ctx, "h-ada"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := rs.LookupRefreshSession(ctx, "h-ada"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("revoked session: expected ErrSessionNotFound, got %v", err)
	}
	if user, err := rs.LookupRefreshSession(ctx, "h-lin"); err != nil || user.ID != "u-lin" {
		t.Fatalf("other session affected by revoke: %+v %v", user, err)
	}
	if err := rs.RevokeRefreshSession(ctx, "h-unknown"); err != nil {
		t.Fatalf("revoking an unknown session should succeed: %v", err)
	}

	mr.FastForward(time.Hour + time.Second)
	if _, err := rs.LookupRefreshSession(ctx, "h-lin"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expired session: expected ErrSessionNotFound, got %v", err)
	}
}

func TestSaveExpiredRefreshSessionIsNoop(t *testing.T) {
	rs, mr := newTestStore(t)
	if err := rs.SaveRefreshSession(context.Background(), "stale", "u-ada", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("SaveRefreshSession: %v", err)
	}
	if mr.Exists("hubo:refresh:stale") {
		t.Fatal("expired session should not be stored")
	}
}

func TestCorruptRefreshSession(t *testing.T) {
	rs, mr := newTestStore(t)
	if err := mr.Set("hubo:refresh:bad", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := rs.LookupRefreshSession(context.Background(), "bad")
	if err == nil || errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("corrupt data should surface as a decode error, got %v", err)
	}
}

func TestRevokedAccessTokens(t *testing.T) {
	rs, mr := newTestStore(t)
	ctx := context.Background()

	revoked, err := rs.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("fresh jti: revoked=%v err=%v", revoked, err)
	}

	if err := rs.RevokeAccessToken(ctx, "jti-1", time.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("RevokeAccessToken: %v", err)
	}
	if ttl := mr.TTL("hubo:revoked:jti-1"); ttl <= 9*time.Minute || ttl > 10*time.Minute {
		t.Fatalf("revocation TTL should match the token expiry, got %v", ttl)
	}
	revoked, err = rs.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("after revoke: revoked=%v err=%v", revoked, err)
	}

	if err := rs.RevokeAccessToken(ctx, "jti-old", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("revoking an expired token: %v", err)
	}
	if mr.Exists("hubo:revoked:jti-old") {
		t.Fatal("an already expired token needs no revocation entry")
	}

	mr.FastForward(11 * time.Minute)
	revoked, err = rs.IsAccessTokenRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("revocation should lapse with the token: revoked=%v err=%v", revoked, err)
	}
}
