package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid config")

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Port string `mapstructure:"port"`
}

func (c ServerConfig) ListenAddr() string {
	return net.JoinHostPort(c.Addr, c.Port)
}

type RoomConfig struct {
	ID       string `mapstructure:"id"`
	TickRate int    `mapstructure:"tickRate"`
}

type SessionConfig struct {
	IdleTimeout       time.Duration `mapstructure:"idleTimeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	WriteBufferSize   int           `mapstructure:"writeBufferSize"`
}

type GameConfig struct {
	MinReadyPlayers int  `mapstructure:"minReadyPlayers"`
	AutoRespawn     bool `mapstructure:"autoRespawn"`
}

type BotConfig struct {
	Count     int           `mapstructure:"count"`
	ServerURL string        `mapstructure:"serverUrl"`
	Reconnect time.Duration `mapstructure:"reconnect"`
}

type TelemetryConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// Config はサーバーとボットの設定です。
type Config struct {
	LogLevel  string          `mapstructure:"logLevel"`
	Server    ServerConfig    `mapstructure:"server"`
	Room      RoomConfig      `mapstructure:"room"`
	Session   SessionConfig   `mapstructure:"session"`
	Game      GameConfig      `mapstructure:"game"`
	Bot       BotConfig       `mapstructure:"bot"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logLevel", "info")

	v.SetDefault("server.addr", "localhost")
	v.SetDefault("server.port", "9090")

	v.SetDefault("room.id", "default")
	v.SetDefault("room.tickRate", 60)

	v.SetDefault("session.idleTimeout", "120s")
	v.SetDefault("session.heartbeatInterval", "30s")
	v.SetDefault("session.writeBufferSize", 1024)

	v.SetDefault("game.minReadyPlayers", 2)
	v.SetDefault("game.autoRespawn", true)

	v.SetDefault("bot.count", 1)
	v.SetDefault("bot.serverUrl", "ws://localhost:9090/ws")
	v.SetDefault("bot.reconnect", "3s")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.interval", "30s")
}

// Load はデフォルト値、設定ファイル、環境変数の順に上書きして設定を読み込みます。
// pathが空なら設定ファイルは読みません。
// 環境変数は SHOOTING_ROOM_TICKRATE のようにSHOOTING_を前置したキー名で、
// listenアドレスだけはADDRとPORTでも指定できます。
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("shooting")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.addr", "ADDR", "SHOOTING_SERVER_ADDR"); err != nil {
		return Config{}, err
	}
	if err := v.BindEnv("server.port", "PORT", "SHOOTING_SERVER_PORT"); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("error decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Room.ID == "" {
		return fmt.Errorf("%w: room.id is empty", ErrInvalidConfig)
	}
	if c.Room.TickRate <= 0 {
		return fmt.Errorf("%w: room.tickRate must be positive, got %d", ErrInvalidConfig, c.Room.TickRate)
	}
	if c.Session.HeartbeatInterval <= 0 || c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("%w: session timeouts must be positive", ErrInvalidConfig)
	}
	if c.Bot.Count < 0 {
		return fmt.Errorf("%w: bot.count must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ParseLogLevel はdebug/info/warn/errorをslog.Levelに変換します。
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidConfig, s)
	}
	return level, nil
}
