package matrix

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// DefaultImage is the Synapse image used when none is given.
	DefaultImage = "matrixdotorg/synapse:latest"

	synapsePort     = 8008
	synapsePortSpec = "8008/tcp"
)

// SynapseContainer is a running homeserver.
type SynapseContainer struct {
	Container testcontainers.Container
	ServerURL string
	Config    SynapseConfig
}

// StartSynapseContainer starts Synapse with cfg's appservice registered and terminates it
// when the test ends. The test is skipped when no container provider is available.
func StartSynapseContainer(t *testing.T, image string, cfg SynapseConfig) *SynapseContainer {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	if image == "" {
		image = DefaultImage
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{synapsePortSpec},
		Env: map[string]string{
			"SYNAPSE_SERVER_NAME":  cfg.ServerName,
			"SYNAPSE_REPORT_STATS": "no",
		},
		Files: []testcontainers.ContainerFile{
			{ContainerFilePath: "/data/homeserver.yaml", FileMode: 0644, Reader: strings.NewReader(cfg.homeserverYAML())},
			{ContainerFilePath: "/data/appservice.yaml", FileMode: 0644, Reader: strings.NewReader(cfg.RegistrationYAML())},
			{ContainerFilePath: "/data/log.config", FileMode: 0644, Reader: strings.NewReader(synapseLogConfig)},
		},
		Entrypoint: []string{
			"sh", "-c",
			"python -m synapse.app.homeserver --config-path=/data/homeserver.yaml --generate-keys && python -m synapse.app.homeserver --config-path=/data/homeserver.yaml",
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(synapsePortSpec),
			wait.ForHTTP("/_matrix/client/versions").WithPort(synapsePortSpec).
				WithStatusCodeMatcher(func(status int) bool { return status == http.StatusOK }),
		).WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate synapse container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mappedPort, err := container.MappedPort(ctx, synapsePortSpec)
	require.NoError(t, err)

	return &SynapseContainer{
		Container: container,
		ServerURL: fmt.Sprintf("http://%s:%s", host, mappedPort.Port()),
		Config:    cfg,
	}
}

// UserID is the full id of a localpart on this server.
func (c *SynapseContainer) UserID(localpart string) string {
	return "@" + localpart + ":" + c.Config.ServerName
}

// Alias is the full alias of a localpart on this server.
func (c *SynapseContainer) Alias(localpart string) string {
	return "#" + localpart + ":" + c.Config.ServerName
}
