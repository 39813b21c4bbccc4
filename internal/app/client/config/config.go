package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultServerAddress = "localhost:8080"
	defaultEnv           = "local"
	defaultConfigDir     = ".medsync"
	defaultDataFile      = "cache.db"
	defaultCheckpoints   = "checkpoints.json"
)

type Config struct {
	Env            string `mapstructure:"app_env"`
	ServerAddress  string `mapstructure:"server_address"`
	ConfigDir      string `mapstructure:"config_dir"`
	DataPath       string `mapstructure:"data_path"`
	CheckpointPath string `mapstructure:"checkpoint_path"`
	EnableTLS      bool   `mapstructure:"enable_tls"`

	// Параметры репликации
	SyncIntervalSeconds int `mapstructure:"sync_interval_seconds"`
	SyncBatchSize       int `mapstructure:"sync_batch_size"`
	SettleDelayMillis   int `mapstructure:"settle_delay_millis"`
	ProbeIntervalSec    int `mapstructure:"probe_interval_seconds"`
	RequestTimeoutSec   int `mapstructure:"request_timeout_seconds"`
	RetryBaseMillis     int `mapstructure:"retry_base_millis"`
	RetryMaxSeconds     int `mapstructure:"retry_max_seconds"`
}

// MustLoad загружает конфигурацию клиента
func MustLoad() *Config {
	// Определяем путь к .env файлу (относительно места запуска)
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		// Пробуем найти .env в родительской директории
		envPath = "../.env"
	}

	// Загружаем .env файл если существует
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			fmt.Printf("Ошибка загрузки .env файла: %v\n", err)
		}
	}

	viper.AutomaticEnv()

	// Устанавливаем значения по умолчанию
	viper.SetDefault("APP_ENV", defaultEnv)
	viper.SetDefault("SERVER_ADDRESS", defaultServerAddress)
	viper.SetDefault("CONFIG_DIR", defaultConfigDir)
	viper.SetDefault("ENABLE_TLS", false)
	viper.SetDefault("SYNC_INTERVAL_SECONDS", 30)
	viper.SetDefault("SYNC_BATCH_SIZE", 50)
	viper.SetDefault("SETTLE_DELAY_MILLIS", 1500)
	viper.SetDefault("PROBE_INTERVAL_SECONDS", 10)
	viper.SetDefault("REQUEST_TIMEOUT_SECONDS", 15)
	viper.SetDefault("RETRY_BASE_MILLIS", 500)
	viper.SetDefault("RETRY_MAX_SECONDS", 60)

	// Получаем домашнюю директорию пользователя
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	// Вычисляем пути для хранения данных
	configDir := viper.GetString("CONFIG_DIR")
	if configDir == defaultConfigDir {
		configDir = filepath.Join(homeDir, configDir)
	}

	// Создаем директории если их нет
	if err := os.MkdirAll(configDir, 0700); err != nil {
		fmt.Printf("Ошибка создания директории конфигурации: %v\n", err)
	}

	config := &Config{
		Env:                 viper.GetString("APP_ENV"),
		ServerAddress:       viper.GetString("SERVER_ADDRESS"),
		ConfigDir:           configDir,
		DataPath:            filepath.Join(configDir, defaultDataFile),
		CheckpointPath:      filepath.Join(configDir, defaultCheckpoints),
		EnableTLS:           viper.GetBool("ENABLE_TLS"),
		SyncIntervalSeconds: viper.GetInt("SYNC_INTERVAL_SECONDS"),
		SyncBatchSize:       viper.GetInt("SYNC_BATCH_SIZE"),
		SettleDelayMillis:   viper.GetInt("SETTLE_DELAY_MILLIS"),
		ProbeIntervalSec:    viper.GetInt("PROBE_INTERVAL_SECONDS"),
		RequestTimeoutSec:   viper.GetInt("REQUEST_TIMEOUT_SECONDS"),
		RetryBaseMillis:     viper.GetInt("RETRY_BASE_MILLIS"),
		RetryMaxSeconds:     viper.GetInt("RETRY_MAX_SECONDS"),
	}

	// Валидация конфигурации
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("Ошибка конфигурации: %v", err))
	}

	return config
}

func (c *Config) validate() error {
	if c.ServerAddress == "" {
		return fmt.Errorf("server_address не может быть пустым")
	}
	if c.SyncBatchSize <= 0 {
		return fmt.Errorf("sync_batch_size должен быть больше нуля")
	}
	if c.RequestTimeoutSec <= 0 {
		return fmt.Errorf("request_timeout_seconds должен быть больше нуля")
	}
	return nil
}

// BaseURL возвращает базовый адрес удаленного API с учетом схемы.
func (c *Config) BaseURL() string {
	scheme := "http://"
	if c.EnableTLS {
		scheme = "https://"
	}
	return scheme + c.ServerAddress
}

func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMillis) * time.Millisecond
}

func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSec) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseMillis) * time.Millisecond
}

func (c *Config) RetryMax() time.Duration {
	return time.Duration(c.RetryMaxSeconds) * time.Second
}

// IsProd проверяет, prod ли окружение
func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// IsDev проверяет, dev ли окружение
func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

// IsLocal проверяет, local ли окружение
func (c *Config) IsLocal() bool {
	return c.Env == "local" || c.Env == ""
}
