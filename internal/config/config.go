package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"archsync/internal/rbac"
)

// ErrConfiguration marks configuration that cannot run a sync. The CLI exits
// non-zero on it before touching any backend.
var ErrConfiguration = errors.New("configuration error")

// OperatorKey binds one bcrypt key hash to the highest role a login with
// that key may take.
type OperatorKey struct {
	Role rbac.Role
	Hash string
}

type Config struct {
	Addr       string
	CORSOrigin string
	LogMode    string

	DocumentPath string
	DocumentID   string
	GitRepo      string

	// GraphEnabled decides once at startup whether the sync stage runs.
	GraphEnabled      bool
	Neo4jURI          string
	Neo4jUser         string
	Neo4jPassword     string
	Neo4jDatabase     string
	StoreTimeout      time.Duration
	UpsertConcurrency int

	RedisURL string
	LockTTL  time.Duration

	MeiliURL       string
	MeiliMasterKey string

	DatabaseURL string

	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveBucket    string
	ArchiveUseSSL    bool

	TokenSecret  string
	TokenTTL     time.Duration
	OperatorKeys []OperatorKey
}

var defaults = map[string]any{
	"API_ADDR":                    ":8787",
	"ARCHSYNC_CORS_ORIGIN":        "*",
	"ARCHSYNC_LOG_MODE":           "dev",
	"ARCHSYNC_DOCUMENT_PATH":      "",
	"ARCHSYNC_DOCUMENT_ID":        "architecture",
	"ARCHSYNC_GIT_REPO":           "",
	"ARCHSYNC_GRAPH_ENABLED":      true,
	"NEO4J_URI":                   "",
	"NEO4J_USER":                  "",
	"NEO4J_PASSWORD":              "",
	"NEO4J_DATABASE":              "",
	"ARCHSYNC_STORE_TIMEOUT":      "10s",
	"ARCHSYNC_UPSERT_CONCURRENCY": 1,
	"REDIS_URL":                   "",
	"ARCHSYNC_LOCK_TTL":           "5m",
	"MEILI_URL":                   "",
	"MEILI_MASTER_KEY":            "",
	"DATABASE_URL":                "",
	"ARCHSYNC_ARCHIVE_ENDPOINT":   "",
	"ARCHSYNC_ARCHIVE_ACCESS_KEY": "",
	"ARCHSYNC_ARCHIVE_SECRET_KEY": "",
	"ARCHSYNC_ARCHIVE_BUCKET":     "archsync-snapshots",
	"ARCHSYNC_ARCHIVE_USE_SSL":    false,
	"ARCHSYNC_TOKEN_SECRET":       "archsync-dev-secret",
	"ARCHSYNC_TOKEN_TTL":          "1h",
	"ARCHSYNC_OPERATOR_KEY_HASH":  "",
	"ARCHSYNC_OPERATOR_KEY_ROLE":  "operator",
	"ARCHSYNC_OPERATOR_KEYS":      "",
}

// Load reads the environment and, when configFile is set, a YAML/JSON/TOML
// file whose keys are the same names as the environment variables.
// Environment values win over the file.
func Load(configFile string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read config file %s: %v", ErrConfiguration, configFile, err)
		}
	}

	operatorKeys, err := operatorKeys(v)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Addr:       v.GetString("API_ADDR"),
		CORSOrigin: v.GetString("ARCHSYNC_CORS_ORIGIN"),
		LogMode:    v.GetString("ARCHSYNC_LOG_MODE"),

		DocumentPath: strings.TrimSpace(v.GetString("ARCHSYNC_DOCUMENT_PATH")),
		DocumentID:   v.GetString("ARCHSYNC_DOCUMENT_ID"),
		GitRepo:      v.GetString("ARCHSYNC_GIT_REPO"),

		GraphEnabled:      v.GetBool("ARCHSYNC_GRAPH_ENABLED"),
		Neo4jURI:          strings.TrimSpace(v.GetString("NEO4J_URI")),
		Neo4jUser:         strings.TrimSpace(v.GetString("NEO4J_USER")),
		Neo4jPassword:     v.GetString("NEO4J_PASSWORD"),
		Neo4jDatabase:     v.GetString("NEO4J_DATABASE"),
		StoreTimeout:      v.GetDuration("ARCHSYNC_STORE_TIMEOUT"),
		UpsertConcurrency: v.GetInt("ARCHSYNC_UPSERT_CONCURRENCY"),

		RedisURL: v.GetString("REDIS_URL"),
		LockTTL:  v.GetDuration("ARCHSYNC_LOCK_TTL"),

		MeiliURL:       v.GetString("MEILI_URL"),
		MeiliMasterKey: v.GetString("MEILI_MASTER_KEY"),

		DatabaseURL: v.GetString("DATABASE_URL"),

		ArchiveEndpoint:  v.GetString("ARCHSYNC_ARCHIVE_ENDPOINT"),
		ArchiveAccessKey: v.GetString("ARCHSYNC_ARCHIVE_ACCESS_KEY"),
		ArchiveSecretKey: v.GetString("ARCHSYNC_ARCHIVE_SECRET_KEY"),
		ArchiveBucket:    v.GetString("ARCHSYNC_ARCHIVE_BUCKET"),
		ArchiveUseSSL:    v.GetBool("ARCHSYNC_ARCHIVE_USE_SSL"),

		TokenSecret:  v.GetString("ARCHSYNC_TOKEN_SECRET"),
		TokenTTL:     v.GetDuration("ARCHSYNC_TOKEN_TTL"),
		OperatorKeys: operatorKeys,
	}, nil
}

// operatorKeys reads ARCHSYNC_OPERATOR_KEYS ("role=hash,role=hash") and the
// single ARCHSYNC_OPERATOR_KEY_HASH bound to ARCHSYNC_OPERATOR_KEY_ROLE.
func operatorKeys(v *viper.Viper) ([]OperatorKey, error) {
	var keys []OperatorKey
	for _, entry := range strings.Split(v.GetString("ARCHSYNC_OPERATOR_KEYS"), ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, hash, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(hash) == "" {
			return nil, fmt.Errorf("%w: ARCHSYNC_OPERATOR_KEYS entry %q is not role=hash", ErrConfiguration, entry)
		}
		role, known := rbac.Parse(strings.ToLower(strings.TrimSpace(name)))
		if !known {
			return nil, fmt.Errorf("%w: ARCHSYNC_OPERATOR_KEYS: unknown role %q", ErrConfiguration, name)
		}
		keys = append(keys, OperatorKey{Role: role, Hash: strings.TrimSpace(hash)})
	}

	if hash := strings.TrimSpace(v.GetString("ARCHSYNC_OPERATOR_KEY_HASH")); hash != "" {
		name := v.GetString("ARCHSYNC_OPERATOR_KEY_ROLE")
		role, known := rbac.Parse(strings.ToLower(strings.TrimSpace(name)))
		if !known {
			return nil, fmt.Errorf("%w: ARCHSYNC_OPERATOR_KEY_ROLE: unknown role %q", ErrConfiguration, name)
		}
		keys = append(keys, OperatorKey{Role: role, Hash: hash})
	}
	return keys, nil
}

// ValidateForSync checks what a sync pass needs. Graph credentials are only
// required when the graph stage is enabled.
func (c Config) ValidateForSync() error {
	if c.DocumentPath == "" {
		return fmt.Errorf("%w: ARCHSYNC_DOCUMENT_PATH is required", ErrConfiguration)
	}
	if !c.GraphEnabled {
		return nil
	}
	return c.ValidateGraph()
}

// ValidateGraph reports every missing graph credential at once.
func (c Config) ValidateGraph() error {
	var missing []string
	if c.Neo4jURI == "" {
		missing = append(missing, "NEO4J_URI")
	}
	if c.Neo4jUser == "" {
		missing = append(missing, "NEO4J_USER")
	}
	if c.Neo4jPassword == "" {
		missing = append(missing, "NEO4J_PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

func (c Config) ArchiveEnabled() bool {
	return c.ArchiveEndpoint != "" && c.ArchiveAccessKey != "" && c.ArchiveSecretKey != ""
}
