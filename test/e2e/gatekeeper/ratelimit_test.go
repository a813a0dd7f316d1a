//go:build e2e

package gatekeeper_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/aussiebroadwan/gatekeeper/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestLoginRateLimit hammers login with the production limits in place.
func TestLoginRateLimit(t *testing.T) {
	client := setupContainerWithDefaultRateLimits(t)

	limited := false
	for i := 0; i < 50 && !limited; i++ {
		_, err := client.Login(t.Context(), "ghost", "wrong secret value")
		var apiErr *authsdk.APIError
		require.True(t, errors.As(err, &apiErr), "unexpected error: %v", err)
		if apiErr.StatusCode == http.StatusTooManyRequests {
			limited = true
			require.Equal(t, authsdk.ErrorCodeRateLimitExceeded, apiErr.Code)
		}
	}
	require.True(t, limited, "expected login to be rate limited")
}
