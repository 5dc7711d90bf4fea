package config

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tcriess/lightspeed-rooms/globals"
)

const (
	defaultAddr             = "localhost:8000"
	defaultLogLevel         = "INFO"
	defaultHistoryLimit     = 50
	defaultPersistenceType  = "buntdb"
	defaultPersistenceDSN   = ":memory:"
	defaultPersistenceTO    = 5 * time.Second
	defaultConnectAttempts  = 5
	defaultMaxMessageLength = 2000
	defaultTokenTTL         = 24 * time.Hour
	defaultBcryptCost       = 12
	envPrefix               = "LSROOMS"
)

// Config is the global configuration object which is filled via the configuration file, command line flags
// and LSROOMS_* environment variables.
type Config struct {
	Addr              string            `mapstructure:"addr"`
	LogLevel          string            `mapstructure:"log_level"`
	LockFile          string            `mapstructure:"lock_file"` // if set, only one server process may hold it
	HistoryConfig     HistoryConfig     `mapstructure:"history"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	AuthConfig        AuthConfig        `mapstructure:"auth"`
	ChatConfig        ChatConfig        `mapstructure:"chat"`
}

// HistoryConfig configures history queries and the in-memory history cache.
type HistoryConfig struct {
	Limit      int `mapstructure:"limit"`       // max number of messages returned by a history query
	CacheRooms int `mapstructure:"cache_rooms"` // number of rooms whose recent history is cached, 0 disables the cache
}

// PersistenceConfig selects the message store. Type is one of buntdb, gorm, sql, mongodb, redis. Driver selects
// the database for gorm (sqlite, postgres) and sql (sqlite3, postgres).
type PersistenceConfig struct {
	Type     string        `mapstructure:"type"`
	Driver   string        `mapstructure:"driver"`
	DSN      string        `mapstructure:"dsn"`
	Database string        `mapstructure:"database"` // mongodb only
	Timeout  time.Duration `mapstructure:"timeout"`
	// number of connection attempts for mongodb and redis, with exponential backoff in between
	ConnectAttempts int `mapstructure:"connect_attempts"`
}

// An OIDCConfig object configures an OpenID Connect provider that is used to authenticate users. Users provide
// an ID token and the name of the provider, the authentication is then performed via verification of the token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"` // f.e. "https://accounts.google.com", this is used to construct the discovery url and subsequently discover the openid endpoints
}

type AuthConfig struct {
	JWTSecret   string       `mapstructure:"jwt_secret"`
	JWTIssuer   string       `mapstructure:"jwt_issuer"`
	AllowGuests bool         `mapstructure:"allow_guests"`
	OIDCConfigs []OIDCConfig `mapstructure:"oidc"`
	// validity of the tokens issued by /auth/register and /auth/login
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

// ChatConfig configures the real-time side.
type ChatConfig struct {
	MaxMessageLength int      `mapstructure:"max_message_length"`
	AcceptFilter     string   `mapstructure:"accept_filter"`    // expr rule, must evaluate to true for a message to be accepted
	TypingRate       float64  `mapstructure:"typing_rate"`      // typing events per second and connection, 0 means unlimited
	TypingBurst      int      `mapstructure:"typing_burst"`     //
	BroadcastPosted  bool     `mapstructure:"broadcast_posted"` // also broadcast messages stored via POST /messages
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	StatsCron        string   `mapstructure:"stats_cron"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.StringP("addr", "a", defaultAddr, "ws service address (including port)")
	flagSet.String("log-level", defaultLogLevel, "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	flagSet.String("lock-file", "", "path of the single instance lock file (optional)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	from := "-"
	to := "_"
	name = strings.Replace(name, from, to, -1)
	return pflag.NormalizedName(name)
}

// LoadEnvFile loads a dotenv file into the process environment, so its LSROOMS_* entries are picked up by
// ReadConfiguration. Variables which are already set are not overwritten.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	return godotenv.Load(path)
}

// ReadConfiguration reads and parses the configuration located at configPath, which can either point to a single TOML
// file or to a directory, in which case all *.toml files in this directory are concatenated. It returns a Config
// object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	v := viper.New()
	v.SetDefault("addr", defaultAddr)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("history.limit", defaultHistoryLimit)
	v.SetDefault("persistence.type", defaultPersistenceType)
	v.SetDefault("persistence.dsn", defaultPersistenceDSN)
	v.SetDefault("persistence.timeout", defaultPersistenceTO)
	v.SetDefault("persistence.connect_attempts", defaultConnectAttempts)
	v.SetDefault("chat.max_message_length", defaultMaxMessageLength)
	// keys without a real default still need to be known to viper, otherwise AutomaticEnv ignores them
	for _, key := range []string{"lock_file", "persistence.driver", "persistence.database", "auth.jwt_secret", "auth.jwt_issuer", "chat.accept_filter", "chat.stats_cron"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("auth.allow_guests", false)
	v.SetDefault("auth.token_ttl", defaultTokenTTL)
	v.SetDefault("auth.bcrypt_cost", defaultBcryptCost)
	v.SetDefault("chat.broadcast_posted", false)
	if flagSet != nil {
		flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
		err := v.BindPFlags(flagSet)
		if err != nil {
			globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
		}
	}
	v.SetEnvPrefix(envPrefix)
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
	cfg.setDefaults()

	globals.AppLogger.Debug("config", "cfg", cfg, "all", v.AllSettings())
	return &cfg, nil
}

// setDefaults fills in values viper could not default, f.e. zero values coming from the config file.
func (cfg *Config) setDefaults() {
	if cfg.HistoryConfig.Limit <= 0 {
		cfg.HistoryConfig.Limit = defaultHistoryLimit
	}
	if cfg.PersistenceConfig.Timeout <= 0 {
		cfg.PersistenceConfig.Timeout = defaultPersistenceTO
	}
	if cfg.AuthConfig.TokenTTL <= 0 {
		cfg.AuthConfig.TokenTTL = defaultTokenTTL
	}
	if cfg.AuthConfig.BcryptCost <= 0 {
		cfg.AuthConfig.BcryptCost = defaultBcryptCost
	}
	if cfg.ChatConfig.MaxMessageLength <= 0 {
		cfg.ChatConfig.MaxMessageLength = defaultMaxMessageLength
	}
	if cfg.ChatConfig.TypingRate > 0 && cfg.ChatConfig.TypingBurst <= 0 {
		cfg.ChatConfig.TypingBurst = 1
	}
}

// Default returns the configuration used when neither a file nor flags are given.
func Default() *Config {
	cfg := &Config{
		Addr:     defaultAddr,
		LogLevel: defaultLogLevel,
		PersistenceConfig: PersistenceConfig{
			Type: defaultPersistenceType,
			DSN:  defaultPersistenceDSN,
		},
	}
	cfg.setDefaults()
	return cfg
}
