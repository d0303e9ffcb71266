package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/cardscore/globals"
)

const (
	defaultAddr           = "localhost:8080"
	defaultLogLevel       = "INFO"
	defaultNameCacheSize  = 1024
	defaultPersistence    = "file"
	defaultDataDir        = "data"
	defaultUsersFile      = "users.json"
	defaultRoomsFile      = "rooms.json"
	defaultCheckpointSpec = "@every 5m"
)

// Config is the global configuration object which is filled via the configuration file, the environment
// (prefix CARDSCORE_) and command-line flags.
type Config struct {
	Addr              string            `mapstructure:"addr"`
	LogLevel          string            `mapstructure:"log_level"`
	NameCacheSize     int               `mapstructure:"name_cache_size"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig configures the snapshot backend. Type is one of "file", "buntdb", "sqlite", "postgres" or
// "memory". The file backend uses DataDir/UsersFile/RoomsFile, BuntDB and the SQL backends use DSN.
type PersistenceConfig struct {
	Type       string `mapstructure:"type"`
	DataDir    string `mapstructure:"data_dir"`
	UsersFile  string `mapstructure:"users_file"`
	RoomsFile  string `mapstructure:"rooms_file"`
	LockFile   string `mapstructure:"lock_file"` // defaults to <data_dir>/.cardscore.lock
	DSN        string `mapstructure:"dsn"`
	Checkpoint string `mapstructure:"checkpoint"` // cron spec, empty disables periodic checkpoints
}

// UsersPath returns the location of the user snapshot of the file backend.
func (c PersistenceConfig) UsersPath() string {
	return filepath.Join(c.DataDir, c.UsersFile)
}

// RoomsPath returns the location of the room snapshot of the file backend.
func (c PersistenceConfig) RoomsPath() string {
	return filepath.Join(c.DataDir, c.RoomsFile)
}

// LockPath returns the flock path guarding snapshot writes.
func (c PersistenceConfig) LockPath() string {
	if c.LockFile != "" {
		return c.LockFile
	}
	return filepath.Join(c.DataDir, ".cardscore.lock")
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.String("addr", "", "service address (including port)")
	flagSet.StringP("log-level", "l", "", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	flagSet.StringP("data-dir", "d", "", "directory for the snapshot files")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", defaultAddr)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("name_cache_size", defaultNameCacheSize)
	v.SetDefault("persistence.type", defaultPersistence)
	v.SetDefault("persistence.data_dir", defaultDataDir)
	v.SetDefault("persistence.users_file", defaultUsersFile)
	v.SetDefault("persistence.rooms_file", defaultRoomsFile)
	v.SetDefault("persistence.lock_file", "")
	v.SetDefault("persistence.dsn", "")
	v.SetDefault("persistence.checkpoint", defaultCheckpointSpec)
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object. An empty configPath yields the defaults (plus environment and flags).
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	cfg := Config{}
	setDefaults(v)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		if f := flagSet.Lookup("data_dir"); f != nil {
			if err := v.BindPFlag("persistence.data_dir", f); err != nil {
				globals.AppLogger.Error("could not bind data dir flag (ignored)", "error", err)
			}
		}
		err := v.BindPFlags(flagSet)
		if err != nil {
			globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
		}
	}
	v.SetEnvPrefix("CARDSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := ioutil.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		v.SetConfigType("toml")
		err = v.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			return nil, err
		}
	}
	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	globals.AppLogger.Debug("config", "cfg", cfg)
	return &cfg, nil
}
