// Package mongo starts disposable MongoDB containers for integration tests.
package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

// DefaultImage is the MongoDB image used when none is given.
const DefaultImage = "mongo:7"

// StartMongoContainer starts a MongoDB container and returns its connection URI. The test
// is skipped when no container runtime is available; the container is terminated on cleanup.
func StartMongoContainer(t *testing.T, image string) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	if image == "" {
		image = DefaultImage
	}

	ctx := context.Background()
	container, err := mongodb.Run(ctx, image)
	require.NoError(t, err, "start mongodb container")

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("terminate mongodb container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err, "build mongodb connection string")
	return uri
}
