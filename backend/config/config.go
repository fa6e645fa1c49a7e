package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
		// 优雅停机等待时间
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	} `mapstructure:"running"`
	Websocket struct {
		SendBuffer     int      `mapstructure:"sendBuffer"`
		AllowedOrigins []string `mapstructure:"allowedOrigins"`
	} `mapstructure:"websocket"`
	Authority struct {
		InboxSize    int           `mapstructure:"inboxSize"`
		EventTimeout time.Duration `mapstructure:"eventTimeout"`
		PresenceTTL  time.Duration `mapstructure:"presenceTTL"`
	} `mapstructure:"authority"`
	Redis struct {
		// 为空则关闭 presence；多个地址时按集群连接
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Mysql struct {
		// 为空则关闭导出
		DSN         string `mapstructure:"dsn"`
		ExportLimit int    `mapstructure:"exportLimit"`
	} `mapstructure:"mysql"`
	Kafka struct {
		// 为空则不发事件流
		Brokers     []string      `mapstructure:"brokers"`
		Topic       string        `mapstructure:"topic"`
		QueueSize   int           `mapstructure:"queueSize"`
		Workers     int           `mapstructure:"workers"`
		MaxRetry    int           `mapstructure:"maxRetry"`
		BaseBackoff time.Duration `mapstructure:"baseBackoff"`
		MaxBackoff  time.Duration `mapstructure:"maxBackoff"`
	} `mapstructure:"kafka"`
	Discovery struct {
		Enabled  bool   `mapstructure:"enabled"`
		Instance string `mapstructure:"instance"`
		Service  string `mapstructure:"service"`
	} `mapstructure:"discovery"`
	Render struct {
		Width      int    `mapstructure:"width"`
		Height     int    `mapstructure:"height"`
		Background string `mapstructure:"background"`
	} `mapstructure:"render"`
	Cors struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"cors"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("running.port", 8080)
	v.SetDefault("running.shutdownTimeout", 10*time.Second)
	v.SetDefault("websocket.sendBuffer", 256)
	v.SetDefault("authority.inboxSize", 1024)
	v.SetDefault("authority.eventTimeout", 5*time.Millisecond)
	v.SetDefault("authority.presenceTTL", 60*time.Second)
	v.SetDefault("mysql.exportLimit", 4)
	v.SetDefault("kafka.topic", "board-events")
	v.SetDefault("kafka.queueSize", 10_000)
	// 单 worker 保证同一房间的事件按 seq 顺序写入分区
	v.SetDefault("kafka.workers", 1)
	v.SetDefault("kafka.maxRetry", 3)
	v.SetDefault("kafka.baseBackoff", 50*time.Millisecond)
	v.SetDefault("kafka.maxBackoff", time.Second)
	v.SetDefault("discovery.service", "_collabboard._tcp")
	v.SetDefault("render.width", 1280)
	v.SetDefault("render.height", 720)
	v.SetDefault("render.background", "#ffffff")
}

// New 带默认值和 BOARD_* 环境变量覆盖的 viper
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("BOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load 读取 boardConfig.yaml。找不到配置文件时只用默认值和环境变量
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = New()
	}
	v.SetConfigName("boardConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
