package appservice

import (
	"os"
	"path/filepath"

	"github.com/mattermost/logr/v2"
	"github.com/mattermost/logr/v2/formatters"
	"github.com/mattermost/logr/v2/targets"
	"github.com/pkg/errors"
)

// TxnLogFilespecEnv names the file inbound transaction bodies are written to. Unset, the
// transaction logger discards everything.
const TxnLogFilespecEnv = "BRIDGE_TXN_LOG_FILESPEC"

// TxnLogger writes raw inbound transactions to a dedicated rotating JSON file.
type TxnLogger struct {
	lgr    *logr.Logr
	logger logr.Logger
}

// NewTxnLogger builds the logger from TxnLogFilespecEnv.
func NewTxnLogger() (*TxnLogger, error) {
	return newTxnLogger(os.Getenv(TxnLogFilespecEnv))
}

func newTxnLogger(filespec string) (*TxnLogger, error) {
	lgr, err := logr.New(logr.MaxQueueSize(1000))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create transaction logger")
	}
	if filespec == "" {
		return &TxnLogger{lgr: lgr, logger: lgr.NewLogger()}, nil
	}

	if dir := filepath.Dir(filespec); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create transaction log directory")
		}
	}

	target := targets.NewFileTarget(targets.FileOptions{
		Filename:   filespec,
		MaxSize:    100, // MB
		MaxBackups: 5,
		MaxAge:     5, // days
		Compress:   true,
	})
	filter := logr.NewCustomFilter(logr.Debug, logr.Info, logr.Warn, logr.Error, logr.Fatal, logr.Panic)
	if err := lgr.AddTarget(target, "appservice-transactions", filter, &formatters.JSON{}, 100); err != nil {
		return nil, errors.Wrap(err, "failed to add transaction log target")
	}
	return &TxnLogger{lgr: lgr, logger: lgr.NewLogger()}, nil
}

// Log records one transaction body.
func (l *TxnLogger) Log(txnID string, body []byte) {
	if l == nil {
		return
	}
	l.logger.Debug("Received appservice transaction", logr.String("txn_id", txnID), logr.String("body", string(body)))
}

// Close flushes and stops the logger.
func (l *TxnLogger) Close() error {
	if l == nil {
		return nil
	}
	return l.lgr.Shutdown()
}
