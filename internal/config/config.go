package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"pulse-guard/pkg/database"
	"pulse-guard/pkg/mqtt"
	"pulse-guard/pkg/redis"
)

// SafeZone 地理围栏安全区（圆形区域）
type SafeZone struct {
	Name         string  `yaml:"name"`
	Latitude     float64 `yaml:"latitude"`
	Longitude    float64 `yaml:"longitude"`
	RadiusMeters float64 `yaml:"radius_meters"`
	RiskLevel    float64 `yaml:"risk_level"` // 区外风险等级 [0,1]
}

// Config 守护服务配置
type Config struct {
	Database database.Config `yaml:"database"`
	Redis    redis.Config    `yaml:"redis"`
	MQTT     mqtt.Config     `yaml:"mqtt"`

	// 守护服务特定配置
	Guard struct {
		// 会话ID（单用户会话）
		SessionID string `yaml:"session_id"`

		// 信号权重表（kind → weight[0,100]，运行时只读）
		Weights struct {
			Motion     float64 `yaml:"motion"`
			Voice      float64 `yaml:"voice"`
			Inactivity float64 `yaml:"inactivity"`
			Location   float64 `yaml:"location"`
			Time       float64 `yaml:"time"`
			Pattern    float64 `yaml:"pattern"`
		} `yaml:"weights"`

		// 置信度聚合配置
		Fusion struct {
			HistoryCapacity int     `yaml:"history_capacity"` // 信号历史容量，默认 20
			DecayMinutes    float64 `yaml:"decay_minutes"`    // 线性衰减时长（分钟），默认 10
		} `yaml:"fusion"`

		// 风险分级配置
		Risk struct {
			MonitoringThreshold float64 `yaml:"monitoring_threshold"` // 默认 30
			ArmedThreshold      float64 `yaml:"armed_threshold"`      // 默认 60
			CriticalThreshold   float64 `yaml:"critical_threshold"`   // 默认 80
			Hysteresis          float64 `yaml:"hysteresis"`           // 降级死区，默认 5
		} `yaml:"risk"`

		// 意图复核配置
		Verification struct {
			WindowSeconds    int     `yaml:"window_seconds"`    // 滑动窗口（秒），默认 30
			ConfirmThreshold float64 `yaml:"confirm_threshold"` // 确认阈值，默认 100
			KeywordWeight    float64 `yaml:"keyword_weight"`    // 关键词贡献上限，默认 60
			ScreamWeight     float64 `yaml:"scream_weight"`     // 尖叫贡献上限，默认 60
		} `yaml:"verification"`

		// 响应编排配置
		Episode struct {
			CooldownSeconds int `yaml:"cooldown_seconds"` // 触发冷却（秒），默认 10
		} `yaml:"episode"`

		// 证据锁配置
		Lock struct {
			GraceMinutes        int `yaml:"grace_minutes"`          // 可撤销宽限期（分钟），默认 10
			ReleaseCheckSeconds int `yaml:"release_check_seconds"`  // 自动释放检查间隔（秒），默认 30
			DefaultReleaseHours int `yaml:"default_release_hours"`  // 默认自动释放时长（小时），默认 24
		} `yaml:"lock"`

		// 传感器采集配置
		Sensors struct {
			MotionTopic                string   `yaml:"motion_topic"`                 // MQTT 运动数据主题
			SpeechTopic                string   `yaml:"speech_topic"`                 // MQTT 语音转写主题
			LocationTopic              string   `yaml:"location_topic"`               // MQTT 位置上报主题
			InactivityCheckSeconds     int      `yaml:"inactivity_check_seconds"`     // 静止检查间隔（秒），默认 60
			InactivityThresholdMinutes int      `yaml:"inactivity_threshold_minutes"` // 静止告警阈值（分钟），默认 30
			LocationPollSeconds        int      `yaml:"location_poll_seconds"`        // 位置轮询间隔（秒），默认 120
			LocationTimeoutSeconds     int      `yaml:"location_timeout_seconds"`     // 位置获取超时（秒），默认 10
			SpeechRestartBaseSeconds   int      `yaml:"speech_restart_base_seconds"`  // 语音流重启退避基数（秒），默认 1
			SpeechRestartMaxSeconds    int      `yaml:"speech_restart_max_seconds"`   // 语音流重启退避上限（秒），默认 30
			Keywords                   []string `yaml:"keywords"`                     // 求救关键词
			SafeZones                  []SafeZone `yaml:"safe_zones"`                 // 地理围栏安全区
		} `yaml:"sensors"`

		// Redis 缓存配置
		Cache struct {
			SnapshotKeyPrefix string `yaml:"snapshot_key_prefix"` // 快照键前缀，如 "pulse-guard:session:"
			ConfidenceSuffix  string `yaml:"confidence_suffix"`   // 置信度快照键后缀，如 ":confidence"
			LockSuffix        string `yaml:"lock_suffix"`         // 证据锁快照键后缀，如 ":lock"
			EpisodeKeyPrefix  string `yaml:"episode_key_prefix"`  // 触发去重键前缀，如 "pulse-guard:episode:"
			SnapshotTTL       int    `yaml:"snapshot_ttl"`        // 快照 TTL（秒），默认 300
		} `yaml:"cache"`

		// 通知分发配置
		Dispatch struct {
			AlertTopicPrefix   string `yaml:"alert_topic_prefix"`   // 报警发布主题前缀，如 "pulse-guard/alerts/"
			ReleaseTopicPrefix string `yaml:"release_topic_prefix"` // 证据释放主题前缀，如 "pulse-guard/evidence/"
		} `yaml:"dispatch"`
	} `yaml:"guard"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Load 加载配置（默认值 → 可选 YAML 文件 → 环境变量覆盖）
func Load() (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	// 可选配置文件
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	return cfg, nil
}

// applyDefaults 设置默认值
func applyDefaults(cfg *Config) {
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "pulseguard"
	cfg.Database.SSLMode = "disable"

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.DB = 0

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "pulse-guard"
	cfg.MQTT.QoS = 1

	cfg.Guard.SessionID = "default"

	cfg.Guard.Weights.Motion = 30
	cfg.Guard.Weights.Voice = 50
	cfg.Guard.Weights.Inactivity = 20
	cfg.Guard.Weights.Location = 25
	cfg.Guard.Weights.Time = 10
	cfg.Guard.Weights.Pattern = 35

	cfg.Guard.Fusion.HistoryCapacity = 20
	cfg.Guard.Fusion.DecayMinutes = 10

	cfg.Guard.Risk.MonitoringThreshold = 30
	cfg.Guard.Risk.ArmedThreshold = 60
	cfg.Guard.Risk.CriticalThreshold = 80
	cfg.Guard.Risk.Hysteresis = 5

	cfg.Guard.Verification.WindowSeconds = 30
	cfg.Guard.Verification.ConfirmThreshold = 100
	cfg.Guard.Verification.KeywordWeight = 60
	cfg.Guard.Verification.ScreamWeight = 60

	cfg.Guard.Episode.CooldownSeconds = 10

	cfg.Guard.Lock.GraceMinutes = 10
	cfg.Guard.Lock.ReleaseCheckSeconds = 30
	cfg.Guard.Lock.DefaultReleaseHours = 24

	cfg.Guard.Sensors.MotionTopic = "pulse-guard/+/motion"
	cfg.Guard.Sensors.SpeechTopic = "pulse-guard/+/speech"
	cfg.Guard.Sensors.LocationTopic = "pulse-guard/+/location"
	cfg.Guard.Sensors.InactivityCheckSeconds = 60
	cfg.Guard.Sensors.InactivityThresholdMinutes = 30
	cfg.Guard.Sensors.LocationPollSeconds = 120
	cfg.Guard.Sensors.LocationTimeoutSeconds = 10
	cfg.Guard.Sensors.SpeechRestartBaseSeconds = 1
	cfg.Guard.Sensors.SpeechRestartMaxSeconds = 30
	cfg.Guard.Sensors.Keywords = []string{"help me", "call police", "emergency"}

	cfg.Guard.Cache.SnapshotKeyPrefix = "pulse-guard:session:"
	cfg.Guard.Cache.ConfidenceSuffix = ":confidence"
	cfg.Guard.Cache.LockSuffix = ":lock"
	cfg.Guard.Cache.EpisodeKeyPrefix = "pulse-guard:episode:"
	cfg.Guard.Cache.SnapshotTTL = 300

	cfg.Guard.Dispatch.AlertTopicPrefix = "pulse-guard/alerts/"
	cfg.Guard.Dispatch.ReleaseTopicPrefix = "pulse-guard/evidence/"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
}

// applyEnv 从环境变量覆盖配置
func applyEnv(cfg *Config) {
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", cfg.MQTT.Password)

	cfg.Guard.SessionID = getEnv("SESSION_ID", cfg.Guard.SessionID)
	cfg.Guard.Sensors.MotionTopic = getEnv("MOTION_TOPIC", cfg.Guard.Sensors.MotionTopic)
	cfg.Guard.Sensors.SpeechTopic = getEnv("SPEECH_TOPIC", cfg.Guard.Sensors.SpeechTopic)
	cfg.Guard.Sensors.LocationTopic = getEnv("LOCATION_TOPIC", cfg.Guard.Sensors.LocationTopic)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
