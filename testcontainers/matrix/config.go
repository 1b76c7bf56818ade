// Package matrix runs a disposable Synapse homeserver with an appservice registration for
// integration tests.
package matrix

import "fmt"

// SynapseConfig describes the homeserver and the appservice registered with it.
type SynapseConfig struct {
	ServerName      string
	ASToken         string
	HSToken         string
	SenderLocalpart string
	// UserPrefix and AliasPrefix define the appservice's exclusive namespaces.
	UserPrefix  string
	AliasPrefix string
	// AppserviceURL is where Synapse pushes transactions; nothing needs to listen there
	// for client-only tests.
	AppserviceURL string
}

// DefaultSynapseConfig returns a configuration owning @_bridge_*:test.matrix.local.
func DefaultSynapseConfig() SynapseConfig {
	return SynapseConfig{
		ServerName:      "test.matrix.local",
		ASToken:         "test_as_token_12345",
		HSToken:         "test_hs_token_67890",
		SenderLocalpart: "_bridge_bot",
		UserPrefix:      "_bridge_",
		AliasPrefix:     "_bridge_",
		AppserviceURL:   "http://localhost:9",
	}
}

// RegistrationYAML renders the appservice registration file.
func (c SynapseConfig) RegistrationYAML() string {
	return fmt.Sprintf(`id: test-bridge
url: %q
as_token: %q
hs_token: %q
sender_localpart: %q
rate_limited: false

namespaces:
  users:
    - exclusive: true
      regex: "@%s.*:%s"
  aliases:
    - exclusive: true
      regex: "#%s.*:%s"
  rooms: []
`, c.AppserviceURL, c.ASToken, c.HSToken, c.SenderLocalpart,
		c.UserPrefix, c.ServerName, c.AliasPrefix, c.ServerName)
}

func (c SynapseConfig) homeserverYAML() string {
	return fmt.Sprintf(`server_name: %q
pid_file: /tmp/homeserver.pid
report_stats: false

listeners:
  - port: %d
    tls: false
    type: http
    x_forwarded: true
    bind_addresses: ['0.0.0.0']
    resources:
      - names: [client]
        compress: false

database:
  name: sqlite3
  args:
    database: ":memory:"

log_config: "/data/log.config"
media_store_path: /tmp/media_store
signing_key_path: /tmp/signing.key
registration_shared_secret: "test_secret_12345"
macaroon_secret_key: "test_macaroon_12345"
form_secret: "test_form_12345"
trusted_key_servers: []

app_service_config_files:
  - /data/appservice.yaml

user_directory:
  enabled: false
encryption_enabled_by_default_for_room_type: "off"
enable_registration: false

rc_message:
  per_second: 1000
  burst_count: 1000
rc_joins:
  local:
    per_second: 1000
    burst_count: 1000
`, c.ServerName, synapsePort)
}

const synapseLogConfig = `version: 1
formatters:
  precise:
    format: '%(asctime)s - %(name)s - %(lineno)d - %(levelname)s - %(request)s - %(message)s'
handlers:
  console:
    class: logging.StreamHandler
    formatter: precise
    stream: ext://sys.stdout
root:
  level: INFO
  handlers: [console]
`
