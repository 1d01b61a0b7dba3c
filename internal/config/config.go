package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"readTimeout"`
		WriteTimeout    time.Duration `yaml:"writeTimeout"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
		// APIKeys map api key -> account id
		APIKeys map[string]string `yaml:"apiKeys"`
		// WorkerKeys key untuk analysis worker (lease/report), bukan key tenant
		WorkerKeys     []string `yaml:"workerKeys"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
		RateLimit      struct {
			RPS   float64 `yaml:"rps"`
			Burst int     `yaml:"burst"`
		} `yaml:"rateLimit"`
	} `yaml:"server"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql | postgres | memory
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
		Migrate  bool   `yaml:"migrate"`
	} `yaml:"database"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Stream   string `yaml:"stream"`
	} `yaml:"redis"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Orchestration Orchestration `yaml:"orchestration"`
}

// Orchestration tuning knobs untuk orchestrator dan state machine
type Orchestration struct {
	LockWait         time.Duration `yaml:"lockWait"`
	LockHold         time.Duration `yaml:"lockHold"`
	PollInterval     time.Duration `yaml:"pollInterval"`
	PoolSize         int           `yaml:"poolSize"`
	BatchSize        int           `yaml:"batchSize"`
	IgnoreLimit      int           `yaml:"ignoreLimit"`
	BacklogThreshold int           `yaml:"backlogThreshold"`
	Retention        time.Duration `yaml:"retention"`
	MaxRetries       int           `yaml:"maxRetries"`
	RetryBackoffBase time.Duration `yaml:"retryBackoffBase"`
	RetryBackoffMax  time.Duration `yaml:"retryBackoffMax"`

	IgnoreWindows struct {
		LiveMonitoring time.Duration `yaml:"liveMonitoring"`
		Deployment     time.Duration `yaml:"deployment"`
		Demo           time.Duration `yaml:"demo"`
		SLI            time.Duration `yaml:"sli"`
	} `yaml:"ignoreWindows"`
}

// Load baca file config.yaml, lalu isi default untuk field yang kosong
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	setDuration(&c.Server.ReadTimeout, 15*time.Second)
	setDuration(&c.Server.WriteTimeout, 15*time.Second)
	setDuration(&c.Server.ShutdownTimeout, 10*time.Second)
	if c.Server.RateLimit.RPS == 0 {
		c.Server.RateLimit.RPS = 20
	}
	setInt(&c.Server.RateLimit.Burst, 40)
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "verification-events"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "JSON"
	}

	o := &c.Orchestration
	setDuration(&o.LockWait, 5*time.Second)
	setDuration(&o.LockHold, 60*time.Second)
	setDuration(&o.PollInterval, 5*time.Second)
	setInt(&o.PoolSize, 20)
	setInt(&o.BatchSize, 500)
	setInt(&o.IgnoreLimit, 100)
	setInt(&o.BacklogThreshold, 5)
	setDuration(&o.Retention, 30*24*time.Hour)
	setInt(&o.MaxRetries, 2)
	setDuration(&o.RetryBackoffBase, time.Minute)
	setDuration(&o.RetryBackoffMax, 30*time.Minute)
	setDuration(&o.IgnoreWindows.LiveMonitoring, 2*time.Hour)
	setDuration(&o.IgnoreWindows.Deployment, 4*time.Hour)
	setDuration(&o.IgnoreWindows.Demo, 6*time.Hour)
	setDuration(&o.IgnoreWindows.SLI, 8*time.Hour)
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Orchestration.LockHold < c.Orchestration.LockWait {
		return fmt.Errorf("orchestration.lockHold (%s) must not be shorter than lockWait (%s)",
			c.Orchestration.LockHold, c.Orchestration.LockWait)
	}
	if c.Orchestration.RetryBackoffMax < c.Orchestration.RetryBackoffBase {
		return fmt.Errorf("orchestration.retryBackoffMax must not be shorter than retryBackoffBase")
	}
	return nil
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC&clientFoundRows=true",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN build DSN untuk lib/pq
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}
