package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken_MissTriggersSingleFetch(t *testing.T) {
	var fetches atomic.Int32
	c := NewCache(func(ctx context.Context) (string, error) {
		fetches.Add(1)
		time.Sleep(20 * time.Millisecond) // hold the fetch window open
		return "tok-1", nil
	}, time.Hour, zerolog.Nop())

	var wg sync.WaitGroup
	tokens := make([]string, 8)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := c.Token(context.Background())
			require.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load(), "concurrent misses must coalesce into one fetch")
	for _, tok := range tokens {
		assert.Equal(t, "tok-1", tok)
	}
}

func TestToken_CachedHitSkipsFetch(t *testing.T) {
	var fetches atomic.Int32
	c := NewCache(func(ctx context.Context) (string, error) {
		fetches.Add(1)
		return "tok-1", nil
	}, time.Hour, zerolog.Nop())

	for i := 0; i < 3; i++ {
		_, err := c.Token(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), fetches.Load())
}

func TestToken_MissFailurePropagates(t *testing.T) {
	boom := errors.New("token endpoint down")
	c := NewCache(func(ctx context.Context) (string, error) {
		return "", boom
	}, time.Hour, zerolog.Nop())

	_, err := c.Token(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRun_RefreshFailureKeepsStaleToken(t *testing.T) {
	var calls atomic.Int32
	c := NewCache(func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "tok-1", nil
		}
		return "", errors.New("down")
	}, 10*time.Millisecond, zerolog.Nop())

	tok, err := c.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "tok-1", tok)

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()

	tok, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok, "failed refresh must leave the previous token in place")
	assert.Greater(t, calls.Load(), int32(1), "scheduled refresh should have run")
}

func TestRun_RefreshOverwritesToken(t *testing.T) {
	var calls atomic.Int32
	c := NewCache(func(ctx context.Context) (string, error) {
		n := calls.Add(1)
		if n == 1 {
			return "tok-1", nil
		}
		return "tok-2", nil
	}, 10*time.Millisecond, zerolog.Nop())

	_, err := c.Token(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)

	require.Eventually(t, func() bool {
		tok, err := c.Token(context.Background())
		return err == nil && tok == "tok-2"
	}, time.Second, 5*time.Millisecond)
	cancel()
}

func TestPasswordGrantFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "svc-user", r.PostForm.Get("username"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		json.NewEncoder(w).Encode(map[string]string{"access_token": "bearer-xyz"})
	}))
	defer srv.Close()

	fetch := NewPasswordGrantFetcher(OAuthConfig{
		TokenURL: srv.URL,
		ClientID: "client-1",
		Username: "svc-user",
		Password: "hunter2",
	})

	tok, err := fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bearer-xyz", tok)
}

func TestPasswordGrantFetcher_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	fetch := NewPasswordGrantFetcher(OAuthConfig{TokenURL: srv.URL})
	_, err := fetch(context.Background())
	assert.Error(t, err)
}
