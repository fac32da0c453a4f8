package config

import (
	"fmt"
	"time"
)

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535"`
	Mode string `mapstructure:"mode"`
	// RootPath prefixes every listener route, e.g. "/sidecar" serves "/sidecar/v1/message".
	RootPath        string        `mapstructure:"root_path"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format" validate:"omitempty,oneof=text json"`
	OutputPath  string `mapstructure:"output_path"`
	SourceLevel string `mapstructure:"source_level"`
}

// BasicUser is an inbound listener credential; PasswordHash is a bcrypt hash.
type BasicUser struct {
	Username     string `mapstructure:"username" validate:"required"`
	PasswordHash string `mapstructure:"password_hash" validate:"required"`
}

type AuthConfig struct {
	// Disabled turns off listener authentication entirely (local development only).
	Disabled   bool        `mapstructure:"disabled"`
	JWTSecret  string      `mapstructure:"jwt_secret"`
	JWTIssuer  string      `mapstructure:"jwt_issuer"`
	Tokens     []string    `mapstructure:"tokens"`
	BasicUsers []BasicUser `mapstructure:"basic_users" validate:"dive"`
}

type NodeConfig struct {
	// ID of the local node; generated from the hostname when empty.
	ID       string         `mapstructure:"id"`
	Metadata map[string]any `mapstructure:"metadata"`
}

type RegistryConfig struct {
	HeartbeatInterval          time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout           time.Duration `mapstructure:"heartbeat_timeout"`
	DisableHeartbeatChecks     bool          `mapstructure:"disable_heartbeat_checks"`
	DisableOfflineNodeRemoving bool          `mapstructure:"disable_offline_node_removing"`
	CleanOfflineNodesTimeout   time.Duration `mapstructure:"clean_offline_nodes_timeout"`
	OfflineCheckInterval       time.Duration `mapstructure:"offline_check_interval"`
	MinClientVersion           string        `mapstructure:"min_client_version"`
}

type TransitConfig struct {
	// MaxQueueSize caps pending outbound requests; 0 means unlimited.
	MaxQueueSize int    `mapstructure:"max_queue_size" validate:"min=0"`
	Serializer   string `mapstructure:"serializer" validate:"omitempty,oneof=json jsoniter"`
	// HTTPTimeout bounds a single gateway round trip; 0 leaves it to the caller's context.
	HTTPTimeout        time.Duration `mapstructure:"http_timeout"`
	RecentResponseSize int           `mapstructure:"recent_response_size"`
}

type StoreConfig struct {
	Driver     string `mapstructure:"driver" validate:"oneof=memory sqlite mysql redis etcd"`
	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string `mapstructure:"sqlite_path"`
	// KeyPrefix namespaces redis and etcd keys; each driver has its own default when empty.
	KeyPrefix  string `mapstructure:"key_prefix"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
}

type PubSubConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Channel string `mapstructure:"channel"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}
