//go:build integration

// Package containers starts throwaway backing services for integration tests.
// Every container and client is released through t.Cleanup.
package containers

import (
	"os"
	"strings"
)

// image returns the image named by envKey, or def. CI pins mirrors through
// PHIGATE_TEST_POSTGRES_IMAGE and PHIGATE_TEST_REDIS_IMAGE.
func image(envKey, def string) string {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v
	}
	return def
}
