package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Source        SourceConfig    `yaml:"source" toml:"source"`
	Scheduler     SchedulerConfig `yaml:"scheduler" toml:"scheduler"`
	Alerts        AlertsConfig    `yaml:"alerts" toml:"alerts"`
	Rules         []RuleConfig    `yaml:"rules" toml:"rules"`
	Notifications Notifications   `yaml:"notifications" toml:"notifications"`
	Web           WebConfig       `yaml:"web" toml:"web"`
	Logging       LoggingConfig   `yaml:"logging" toml:"logging"`
}

// SourceConfig 指定指标/容器数据来源
type SourceConfig struct {
	Provider      string              `yaml:"provider" toml:"provider"` // static | elasticsearch | opensearch
	Timeout       string              `yaml:"timeout" toml:"timeout"`
	Servers       []ServerConfig      `yaml:"servers" toml:"servers"`
	Containers    []ContainerConfig   `yaml:"containers" toml:"containers"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch" toml:"elasticsearch"`
}

func (s SourceConfig) GetTimeout() time.Duration {
	return parseDurationDefault(s.Timeout, 10*time.Second)
}

// ServerConfig 静态模式下的服务器条目；elasticsearch 模式下仅 Name 有意义（期望出现的主机）
type ServerConfig struct {
	Name   string   `yaml:"name" toml:"name"`
	Status string   `yaml:"status" toml:"status"`
	CPU    *float64 `yaml:"cpu" toml:"cpu"`
	Mem    *float64 `yaml:"mem" toml:"mem"`
	Disk   *float64 `yaml:"disk" toml:"disk"`
}

type ContainerConfig struct {
	Name   string `yaml:"name" toml:"name"`
	State  string `yaml:"state" toml:"state"`
	Uptime string `yaml:"uptime" toml:"uptime"`
}

type ElasticsearchConfig struct {
	Addresses        []string `yaml:"addresses" toml:"addresses"`
	Username         string   `yaml:"username" toml:"username"`
	Password         string   `yaml:"password" toml:"password"`
	CloudID          string   `yaml:"cloudId" toml:"cloudId"`
	APIKey           string   `yaml:"apiKey" toml:"apiKey"`
	TLSSkipVerify    bool     `yaml:"tlsSkipVerify" toml:"tlsSkipVerify"`
	RequestTimeout   string   `yaml:"requestTimeout" toml:"requestTimeout"`
	SkipProductCheck bool     `yaml:"skipProductCheck" toml:"skipProductCheck"`
	Index            string   `yaml:"index" toml:"index"`   // metricbeat 索引，如 "metricbeat-*"
	Window           string   `yaml:"window" toml:"window"` // 只看最近窗口内的文档
}

func (e ElasticsearchConfig) GetRequestTimeout() time.Duration {
	return parseDurationDefault(e.RequestTimeout, 30*time.Second)
}

func (e ElasticsearchConfig) GetWindow() time.Duration {
	return parseDurationDefault(e.Window, 2*time.Minute)
}

type SchedulerConfig struct {
	Timezone                string `yaml:"timezone" toml:"timezone"`
	MetricsInterval         string `yaml:"metricsInterval" toml:"metricsInterval"`
	CriticalRecheckInterval string `yaml:"criticalRecheckInterval" toml:"criticalRecheckInterval"`
}

func (s SchedulerConfig) GetMetricsInterval() time.Duration {
	return parseDurationDefault(s.MetricsInterval, 30*time.Second)
}

func (s SchedulerConfig) GetCriticalRecheckInterval() time.Duration {
	return parseDurationDefault(s.CriticalRecheckInterval, 10*time.Second)
}

// AlertsConfig 控制过滤、冷却、分组与历史
type AlertsConfig struct {
	MinLevel        string   `yaml:"minLevel" toml:"minLevel"`
	Cooldown        string   `yaml:"cooldown" toml:"cooldown"`
	Grouping        *bool    `yaml:"grouping" toml:"grouping"`
	HistoryLimit    int      `yaml:"historyLimit" toml:"historyLimit"`
	HistoryMaxAge   string   `yaml:"historyMaxAge" toml:"historyMaxAge"`
	BatchWindow     string   `yaml:"batchWindow" toml:"batchWindow"`
	BatchQuorum     int      `yaml:"batchQuorum" toml:"batchQuorum"`
	DeliveryTimeout string   `yaml:"deliveryTimeout" toml:"deliveryTimeout"`
	Recipients      []string `yaml:"recipients" toml:"recipients"`
}

// GetCooldown 允许显式配置 0s 关闭冷却；只有未配置或格式错误时才用默认值
func (a AlertsConfig) GetCooldown() time.Duration {
	if a.Cooldown == "" {
		return 300 * time.Second
	}
	d, err := time.ParseDuration(a.Cooldown)
	if err != nil || d < 0 {
		return 300 * time.Second
	}
	return d
}

func (a AlertsConfig) GetHistoryMaxAge() time.Duration {
	return parseDurationDefault(a.HistoryMaxAge, 24*time.Hour)
}

func (a AlertsConfig) GetBatchWindow() time.Duration {
	return parseDurationDefault(a.BatchWindow, 30*time.Second)
}

func (a AlertsConfig) GetDeliveryTimeout() time.Duration {
	return parseDurationDefault(a.DeliveryTimeout, 10*time.Second)
}

// GroupingEnabled 未配置时默认开启
func (a AlertsConfig) GroupingEnabled() bool {
	if a.Grouping == nil {
		return true
	}
	return *a.Grouping
}

// RuleConfig 阈值规则，When/Message 均为 expr 表达式
type RuleConfig struct {
	Name    string `yaml:"name" toml:"name"`
	Target  string `yaml:"target" toml:"target"` // server | container
	Level   string `yaml:"level" toml:"level"`
	When    string `yaml:"when" toml:"when"`
	Message string `yaml:"message" toml:"message"`
}

type Notifications struct {
	Telegram TelegramConfig `yaml:"telegram" toml:"telegram"`
	Webhook  WebhookConfig  `yaml:"webhook" toml:"webhook"`
	Feishu   FeishuConfig   `yaml:"feishu" toml:"feishu"`
	DingTalk DingTalkConfig `yaml:"dingtalk" toml:"dingtalk"`
	WeChat   WeChatConfig   `yaml:"wechat" toml:"wechat"`
	Email    EmailConfig    `yaml:"email" toml:"email"`
}

type TelegramConfig struct {
	Token     string  `yaml:"token" toml:"token"`
	APIURL    string  `yaml:"apiURL" toml:"apiURL"`
	Timeout   string  `yaml:"timeout" toml:"timeout"`
	RateLimit float64 `yaml:"rateLimit" toml:"rateLimit"` // 每秒最多发送条数
}

type WebhookConfig struct {
	URL     string            `yaml:"url" toml:"url"`
	Headers map[string]string `yaml:"headers" toml:"headers"`
	Timeout string            `yaml:"timeout" toml:"timeout"`
}

type FeishuConfig struct {
	Webhook      string `yaml:"webhook" toml:"webhook"`
	EnableAtAll  bool   `yaml:"enableAtAll" toml:"enableAtAll"`
	Timeout      string `yaml:"timeout" toml:"timeout"`
	TitlePrefix  string `yaml:"titlePrefix" toml:"titlePrefix"`
	ContentIntro string `yaml:"contentIntro" toml:"contentIntro"`
}

type DingTalkConfig struct {
	Webhook     string `yaml:"webhook" toml:"webhook"`
	Secret      string `yaml:"secret" toml:"secret"`
	EnableAtAll bool   `yaml:"enableAtAll" toml:"enableAtAll"`
	Timeout     string `yaml:"timeout" toml:"timeout"`
}

type WeChatConfig struct {
	Webhook string `yaml:"webhook" toml:"webhook"`
	Timeout string `yaml:"timeout" toml:"timeout"`
}

type EmailConfig struct {
	Host          string   `yaml:"host" toml:"host"`
	Port          int      `yaml:"port" toml:"port"`
	Username      string   `yaml:"username" toml:"username"`
	Password      string   `yaml:"password" toml:"password"`
	From          string   `yaml:"from" toml:"from"`
	To            []string `yaml:"to" toml:"to"`
	UseTLS        bool     `yaml:"useTLS" toml:"useTLS"`
	TLSSkipVerify bool     `yaml:"tlsSkipVerify" toml:"tlsSkipVerify"`
	SubjectPrefix string   `yaml:"subjectPrefix" toml:"subjectPrefix"`
}

// WebConfig 控制内置 HTTP 命令/配置接口
type WebConfig struct {
	Enabled   bool     `yaml:"enabled" toml:"enabled"`
	Listen    string   `yaml:"listen" toml:"listen"`
	Operators []string `yaml:"operators" toml:"operators"` // X-Operator-ID 白名单，为空则不校验
}

// LoggingConfig 控制日志级别与格式
type LoggingConfig struct {
	// Level 支持 DEBUG / INFO / WARN / ERROR（大小写不敏感），默认 INFO。
	Level string `yaml:"level" toml:"level"`
	// Format 支持 text / json，默认 text。
	Format string `yaml:"format" toml:"format"`
}

// Load reads a YAML (default) or TOML (.toml extension) config file and
// applies defaults and environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
}

// Parse decodes raw config bytes; isTOML selects the decoder.
func Parse(data []byte, isTOML bool) (*Config, error) {
	var cfg Config
	if isTOML {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal toml: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	applyDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Source.Provider == "" {
		cfg.Source.Provider = "static"
	}
	if cfg.Source.Elasticsearch.Index == "" {
		cfg.Source.Elasticsearch.Index = "metricbeat-*"
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "UTC"
	}
	if cfg.Alerts.MinLevel == "" {
		cfg.Alerts.MinLevel = "warning"
	}
	if cfg.Alerts.HistoryLimit <= 0 {
		cfg.Alerts.HistoryLimit = 100
	}
	if cfg.Alerts.BatchQuorum <= 0 {
		cfg.Alerts.BatchQuorum = 3
	}
	if cfg.Notifications.Telegram.APIURL == "" {
		cfg.Notifications.Telegram.APIURL = "https://api.telegram.org"
	}
	if cfg.Notifications.Telegram.RateLimit <= 0 {
		cfg.Notifications.Telegram.RateLimit = 25
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// 环境变量优先级高于配置文件
func applyEnv(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifications.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_IDS"); v != "" {
		for _, id := range strings.Split(v, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, err := strconv.ParseInt(id, 10, 64); err != nil {
				continue
			}
			r := "telegram:" + id
			if !contains(cfg.Alerts.Recipients, r) {
				cfg.Alerts.Recipients = append(cfg.Alerts.Recipients, r)
			}
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ParseDuration is exported for packages that carry their own duration strings.
func ParseDuration(s string, def time.Duration) time.Duration {
	return parseDurationDefault(s, def)
}

func parseDurationDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
