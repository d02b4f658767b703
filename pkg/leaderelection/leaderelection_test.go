package leaderelection_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/navikt/bq-remote-functions/pkg/leaderelection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestElector_IsLeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"name": "bqrf-5d8f7c-abcde", "last_update": "2024-01-01T00:00:00Z"}`))
	}))
	defer server.Close()

	path := strings.TrimPrefix(server.URL, "http://")

	testCases := []struct {
		name     string
		path     string
		hostname string
		expect   bool
	}{
		{
			name:     "leader",
			path:     path,
			hostname: "bqrf-5d8f7c-abcde",
			expect:   true,
		},
		{
			name:     "follower",
			path:     path,
			hostname: "bqrf-5d8f7c-fghij",
			expect:   false,
		},
		{
			name:     "no elector",
			hostname: "anything",
			expect:   true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := leaderelection.NewWithHostname(tc.path, tc.hostname).IsLeader(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.expect, got)
		})
	}
}

func TestElector_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := leaderelection.NewWithHostname(strings.TrimPrefix(server.URL, "http://"), "h").IsLeader(context.Background())
	assert.Error(t, err)
}

func TestElector_CancelledWhileRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Nothing listens on port 1, so every attempt fails and the cancelled
	// context ends the backoff.
	_, err := leaderelection.NewWithHostname("127.0.0.1:1", "h").IsLeader(ctx)
	assert.Error(t, err)
}
