package session

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storehub/internal/database"
	apperrors "storehub/internal/errors"
)

// storeFactory builds a fresh store plus a function that advances its notion of time
type storeFactory func(t *testing.T, ttl time.Duration) (Store, func(time.Duration))

func memoryFactory(t *testing.T, ttl time.Duration) (Store, func(time.Duration)) {
	store := NewMemoryStore(ttl)
	now := time.Now()
	store.now = func() time.Time { return now }
	return store, func(d time.Duration) { now = now.Add(d) }
}

func redisFactory(t *testing.T, ttl time.Duration) (Store, func(time.Duration)) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "sess:", ttl), mr.FastForward
}

func TestStores(t *testing.T) {
	factories := map[string]storeFactory{
		"memory": memoryFactory,
		"redis":  redisFactory,
	}

	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			t.Run("create and get", func(t *testing.T) {
				store, _ := factory(t, time.Minute)
				ctx := context.Background()

				rec, err := NewRecord("user-1", time.Minute)
				require.NoError(t, err)
				require.NoError(t, store.Create(ctx, rec))

				got, err := store.Get(ctx, rec.SessionID)
				require.NoError(t, err)
				assert.Equal(t, "user-1", got.UserID)
				assert.Equal(t, rec.SessionID, got.SessionID)
			})

			t.Run("missing record", func(t *testing.T) {
				store, _ := factory(t, time.Minute)
				_, err := store.Get(context.Background(), "nope")
				assert.ErrorIs(t, err, ErrNotFound)
				assert.ErrorIs(t, store.Touch(context.Background(), "nope"), ErrNotFound)
			})

			t.Run("expired record is never returned", func(t *testing.T) {
				store, advance := factory(t, time.Minute)
				ctx := context.Background()

				rec, err := NewRecord("user-1", time.Minute)
				require.NoError(t, err)
				require.NoError(t, store.Create(ctx, rec))

				advance(2 * time.Minute)
				_, err = store.Get(ctx, rec.SessionID)
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("touch slides expiry", func(t *testing.T) {
				store, _ := factory(t, time.Hour)
				ctx := context.Background()

				rec, err := NewRecord("user-1", time.Minute)
				require.NoError(t, err)
				require.NoError(t, store.Create(ctx, rec))
				require.NoError(t, store.Touch(ctx, rec.SessionID))

				got, err := store.Get(ctx, rec.SessionID)
				require.NoError(t, err)
				assert.True(t, got.ExpiresAt.After(rec.ExpiresAt))
			})

			t.Run("delete", func(t *testing.T) {
				store, _ := factory(t, time.Minute)
				ctx := context.Background()

				rec, err := NewRecord("user-1", time.Minute)
				require.NoError(t, err)
				require.NoError(t, store.Create(ctx, rec))
				require.NoError(t, store.Delete(ctx, rec.SessionID))
				require.NoError(t, store.Delete(ctx, rec.SessionID))

				_, err = store.Get(ctx, rec.SessionID)
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("create rejects invalid records", func(t *testing.T) {
				store, _ := factory(t, time.Minute)
				ctx := context.Background()

				assert.Error(t, store.Create(ctx, Record{UserID: "u"}))
				assert.Error(t, store.Create(ctx, Record{SessionID: "s", UserID: "u", ExpiresAt: time.Now().Add(-time.Second)}))
			})

			t.Run("ping", func(t *testing.T) {
				store, _ := factory(t, time.Minute)
				assert.NoError(t, store.Ping(context.Background()))
			})
		})
	}
}

func TestRedisStore_KeyLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "", 200*time.Second)
	rec := Record{SessionID: "abc", UserID: "u1", ExpiresAt: time.Now().Add(200 * time.Second)}
	require.NoError(t, store.Create(context.Background(), rec))

	assert.True(t, mr.Exists("sess:abc"))
	ttl := mr.TTL("sess:abc")
	assert.Greater(t, ttl, 190*time.Second)
	assert.LessOrEqual(t, ttl, 200*time.Second)
}

// deleteAfterGet removes key from mr right after the first GET on it, the way a
// logout from the HTTP layer can land between Touch's read and write.
type deleteAfterGet struct {
	mr   *miniredis.Miniredis
	key  string
	done bool
}

func (h *deleteAfterGet) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *deleteAfterGet) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		if !h.done && cmd.Name() == "get" {
			h.done = true
			h.mr.Del(h.key)
		}
		return err
	}
}

func (h *deleteAfterGet) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisStore_TouchDoesNotResurrectDeleted(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	store := NewRedisStore(client, "sess:", time.Minute)
	require.NoError(t, store.Create(ctx, Record{SessionID: "abc", UserID: "u1", ExpiresAt: time.Now().Add(time.Minute)}))

	client.AddHook(&deleteAfterGet{mr: mr, key: "sess:abc"})

	assert.ErrorIs(t, store.Touch(ctx, "abc"), ErrNotFound)
	assert.False(t, mr.Exists("sess:abc"))

	_, err := store.Get(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	store := NewRedisStore(client, "sess:", time.Minute)

	mr.Close()

	_, err := store.Get(context.Background(), "abc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeStorage))
	assert.True(t, apperrors.IsType(store.Touch(context.Background(), "abc"), apperrors.ErrTypeStorage))
	assert.Error(t, store.Ping(context.Background()))
}

func TestRecord_Expired(t *testing.T) {
	now := time.Now()
	assert.True(t, Record{ExpiresAt: now}.Expired(now))
	assert.False(t, Record{ExpiresAt: now.Add(time.Second)}.Expired(now))
}

func TestGenerateID_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id, err := GenerateID()
		require.NoError(t, err)
		assert.Len(t, id, 43)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 100)
}

// TestPostgresStore runs against a real database when STOREHUB_TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("STOREHUB_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("STOREHUB_TEST_DATABASE_URL not set")
	}

	require.NoError(t, database.RunMigrations(url))
	db, err := database.Open(url)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	store := NewPostgresStore(db, time.Hour)
	require.NoError(t, store.Ping(ctx))

	rec, err := NewRecord("user-pg", time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Create(ctx, rec))
	defer store.Delete(ctx, rec.SessionID)

	got, err := store.Get(ctx, rec.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "user-pg", got.UserID)

	require.NoError(t, store.Touch(ctx, rec.SessionID))
	got, err = store.Get(ctx, rec.SessionID)
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.After(rec.ExpiresAt))

	_, err = db.ExecContext(ctx, `UPDATE sessions SET expires_at = now() - interval '1 second' WHERE id = $1`, rec.SessionID)
	require.NoError(t, err)
	_, err = store.Get(ctx, rec.SessionID)
	assert.ErrorIs(t, err, ErrNotFound)

	purged, err := store.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, purged, int64(1))
}
