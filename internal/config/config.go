package config

import (
	"log"
	"sync"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	IsDebug bool `yaml:"is_debug" env:"EVSIM_DEBUG" env-default:"false"`
	Api     struct {
		BindIP string `yaml:"bind_ip" env-default:"0.0.0.0"`
		Port   string `yaml:"port" env:"EVSIM_API_PORT" env-default:"8080"`
	} `yaml:"api"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		BindIP  string `yaml:"bind_ip" env-default:"0.0.0.0"`
		Port    string `yaml:"port" env-default:"9100"`
	} `yaml:"metrics"`
	Mongo struct {
		Enabled  bool   `yaml:"enabled" env-default:"false"`
		Host     string `yaml:"host" env-default:"127.0.0.1"`
		Port     string `yaml:"port" env-default:"27017"`
		User     string `yaml:"user" env-default:""`
		Password string `yaml:"password" env:"EVSIM_MONGO_PASSWORD" env-default:""`
		Database string `yaml:"database" env-default:"evsim"`
	} `yaml:"mongo"`
	Nats struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		Url     string `yaml:"url" env-default:"nats://127.0.0.1:4222"`
		Prefix  string `yaml:"prefix" env-default:"evsim"`
	} `yaml:"nats"`
	Mqtt struct {
		Enabled   bool   `yaml:"enabled" env-default:"false"`
		Host      string `yaml:"host" env-default:"127.0.0.1"`
		Port      int    `yaml:"port" env-default:"1883"`
		Username  string `yaml:"username" env-default:""`
		Password  string `yaml:"password" env:"EVSIM_MQTT_PASSWORD" env-default:""`
		BaseTopic string `yaml:"base_topic" env-default:"evsim"`
	} `yaml:"mqtt"`
	Telegram struct {
		Enabled bool   `yaml:"enabled" env-default:"false"`
		ApiKey  string `yaml:"api_key" env:"EVSIM_TELEGRAM_KEY" env-default:""`
		ChatId  int64  `yaml:"chat_id" env-default:"0"`
	} `yaml:"telegram"`
	Simulation   Simulation          `yaml:"simulation"`
	ChargePoints []ChargePointConfig `yaml:"charge_points"`
}

type Simulation struct {
	// TickSeconds is the meter tick period; zero follows MeterValueSampleInterval.
	TickSeconds         int     `yaml:"tick_seconds" env-default:"0"`
	FirmwareStepSeconds int     `yaml:"firmware_step_seconds" env-default:"5"`
	CallTimeoutSeconds  int     `yaml:"call_timeout_seconds" env-default:"30"`
	NoiseKW             float64 `yaml:"noise_kw" env-default:"0.5"`
	VirtualCapacityKWh  float64 `yaml:"virtual_capacity_kwh" env-default:"60"`
}

type ChargePointConfig struct {
	Id                  string            `yaml:"id"`
	Url                 string            `yaml:"url"`
	Protocol            string            `yaml:"protocol"`
	AutoConnect         bool              `yaml:"auto_connect"`
	Vendor              string            `yaml:"vendor"`
	Model               string            `yaml:"model"`
	FirmwareVersion     string            `yaml:"firmware_version"`
	Mode                string            `yaml:"mode"`
	Connectors          int               `yaml:"connectors"`
	MaxPowerKW          float64           `yaml:"max_power_kw"`
	NominalVoltageV     float64           `yaml:"nominal_voltage_v"`
	MaxCurrentA         float64           `yaml:"max_current_a"`
	BatteryStartPercent float64           `yaml:"battery_start_percent"`
	EnergyKWh           float64           `yaml:"energy_kwh"`
	IdTag               string            `yaml:"id_tag"`
	Ocpp                map[string]string `yaml:"ocpp"`
}

// Normalize fills the fields list entries leave empty; cleanenv does not apply defaults inside slices.
func (c *ChargePointConfig) Normalize() {
	if c.Protocol == "" {
		c.Protocol = "ocpp1.6"
	}
	if c.Vendor == "" {
		c.Vendor = "EVS-Sim"
	}
	if c.Model == "" {
		c.Model = "EVSE-Sim v1"
	}
	if c.FirmwareVersion == "" {
		c.FirmwareVersion = "1.0.0-web"
	}
	if c.Mode != "DC" {
		c.Mode = "AC"
	}
	if c.Connectors <= 0 {
		c.Connectors = 1
	}
	if c.MaxPowerKW <= 0 {
		c.MaxPowerKW = 22
	}
	if c.NominalVoltageV <= 0 {
		c.NominalVoltageV = 400
	}
	if c.MaxCurrentA <= 0 {
		c.MaxCurrentA = 32
	}
	if c.BatteryStartPercent <= 0 || c.BatteryStartPercent > 100 {
		c.BatteryStartPercent = 30
	}
	if c.IdTag == "" {
		c.IdTag = "EVSIM-TAG"
	}
}

func (c *Config) ChargePoint(id string) (ChargePointConfig, bool) {
	for _, cp := range c.ChargePoints {
		if cp.Id == id {
			return cp, true
		}
	}
	return ChargePointConfig{}, false
}

var instance *Config
var once sync.Once

func GetConfig(path string) (*Config, error) {
	var err error
	once.Do(func() {
		log.Println("reading config", path)
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			log.Println(desc)
			log.Println(err)
			instance = nil
			return
		}
		for i := range instance.ChargePoints {
			instance.ChargePoints[i].Normalize()
		}
	})
	return instance, err
}
