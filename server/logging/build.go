package logging

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.mau.fi/util/ptr"
	"go.mau.fi/zeroconfig"
)

// DefaultConfig is used when the config file has no logging section: pretty output on
// stdout at info level.
func DefaultConfig() zeroconfig.Config {
	return zeroconfig.Config{
		MinLevel: ptr.Ptr(zerolog.InfoLevel),
		Writers: []zeroconfig.WriterConfig{{
			Type:   zeroconfig.WriterTypeStdout,
			Format: zeroconfig.LogFormatPrettyColored,
		}},
	}
}

// Build compiles a zeroconfig section into a Logger. A nil or writer-less config falls
// back to DefaultConfig.
func Build(cfg *zeroconfig.Config) (*ZerologLogger, error) {
	if cfg == nil || len(cfg.Writers) == 0 {
		def := DefaultConfig()
		cfg = &def
	}
	log, err := cfg.Compile()
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile logging configuration")
	}
	return NewZerologLogger(*log), nil
}
