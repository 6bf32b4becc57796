package config

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Presence struct {
		// 清扫周期与判死超时，秒
		SweepIntervalSec int `mapstructure:"sweep_interval_sec"`
		TimeoutSec       int `mapstructure:"timeout_sec"`
	} `mapstructure:"presence"`
	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Enabled bool     `mapstructure:"enabled"`
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
}

// 缺省值：30 秒扫一次，5 分钟无心跳判离线
func (c *Config) FillDefaults() {
	if c.Running.Port == 0 {
		c.Running.Port = 8080
	}
	if c.Presence.SweepIntervalSec == 0 {
		c.Presence.SweepIntervalSec = 30
	}
	if c.Presence.TimeoutSec == 0 {
		c.Presence.TimeoutSec = 300
	}
}
