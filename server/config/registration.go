package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Registration is the subset of the appservice registration file the bridge reads.
type Registration struct {
	ID              string `yaml:"id"`
	URL             string `yaml:"url"`
	ASToken         string `yaml:"as_token"`
	HSToken         string `yaml:"hs_token"`
	SenderLocalpart string `yaml:"sender_localpart"`
}

// LoadRegistration reads the registration file at path.
func LoadRegistration(path string) (*Registration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read registration file")
	}
	return ParseRegistration(data)
}

// ParseRegistration parses a registration document. as_token and sender_localpart are
// required; hs_token is only needed by the built-in listener.
func ParseRegistration(data []byte) (*Registration, error) {
	var reg Registration
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, errors.Wrap(err, "failed to parse registration file")
	}
	if reg.ASToken == "" {
		return nil, missing("as_token")
	}
	if reg.SenderLocalpart == "" {
		return nil, missing("sender_localpart")
	}
	return &reg, nil
}
