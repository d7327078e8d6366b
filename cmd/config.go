package cmd

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	logger "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/uncomputable/tappy/btcman/assembler"
)

const (
	ENV_PREFIX = "TAPPY"

	KEY_CONFIG     = "CONFIG" // TAPPY_CONFIG names the configuration file
	KEY_STATE_FILE = "STATE_FILE"
	KEY_NETWORK    = "NETWORK"
	KEY_JOURNAL_DB = "JOURNAL_DB"
	KEY_LOG_LEVEL  = "LOG_LEVEL"
)

type LabConfig struct {
	StateFile   string           // path of the JSON ledger state
	ChainConfig *chaincfg.Params // regtest, testnet, mainnet? see btcman/assembler/common.go
	JournalDB   string           // path of the SQLite journal, empty disables it
	LogLevel    string           // see logconfig.ConfigByLevel
}

// InitializeViper sets the defaults, reads TAPPY_* environment variables
// and, if TAPPY_CONFIG names an existing file, reads it.
func InitializeViper(v *viper.Viper) error {
	v.SetDefault(KEY_STATE_FILE, "state.json")
	v.SetDefault(KEY_NETWORK, "regtest")
	v.SetDefault(KEY_JOURNAL_DB, "")
	v.SetDefault(KEY_LOG_LEVEL, "info")

	v.SetEnvPrefix(ENV_PREFIX)
	v.AutomaticEnv()

	// Accessing an environment variable of configuration file location.
	configFile := v.GetString(KEY_CONFIG)
	if configFile == "" {
		return nil
	}
	if !FileExists(configFile) {
		return fmt.Errorf("configuration file not found: %s", configFile)
	}

	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading configuration file: %w", err)
	}
	logger.WithField("file", configFile).Debug("read configuration")
	return nil
}

// PrepareLabConfig reads the lab configuration out of v.
func PrepareLabConfig(v *viper.Viper) (*LabConfig, error) {
	params, err := assembler.ParamsByName(v.GetString(KEY_NETWORK))
	if err != nil {
		return nil, err
	}

	return &LabConfig{
		StateFile:   v.GetString(KEY_STATE_FILE),
		ChainConfig: params,
		JournalDB:   v.GetString(KEY_JOURNAL_DB),
		LogLevel:    v.GetString(KEY_LOG_LEVEL),
	}, nil
}
