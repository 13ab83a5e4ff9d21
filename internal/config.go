package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 支援 "15s" 這類時長寫法的配置欄位
// （yaml.v3 無法直接把時長字串解碼成 time.Duration）
type Duration time.Duration

// UnmarshalYAML 解析時長字串
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("無效的時長 %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std 轉換為標準庫的 time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config 整個應用的配置
type Config struct {
	Server struct {
		Port         int      `yaml:"port"`
		ReadTimeout  Duration `yaml:"read_timeout"`
		WriteTimeout Duration `yaml:"write_timeout"`
		IdleTimeout  Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	Room struct {
		// OverflowPrefix 溢出房間的命名前綴（<prefix>_1、<prefix>_2、...）
		OverflowPrefix string `yaml:"overflow_prefix"`
	} `yaml:"room"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.ReadTimeout = Duration(15 * time.Second)
	cfg.Server.WriteTimeout = Duration(15 * time.Second)
	cfg.Server.IdleTimeout = Duration(60 * time.Second)
	cfg.Room.OverflowPrefix = "game"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// LoadConfig 載入 yaml 配置檔
//
// 檔案不存在時使用預設配置（開發環境零配置啟動）；
// 檔案存在但解析失敗則回報錯誤。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置檔失敗: %w", err)
	}

	if cfg.Room.OverflowPrefix == "" {
		cfg.Room.OverflowPrefix = "game"
	}

	return cfg, nil
}
