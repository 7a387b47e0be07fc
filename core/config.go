package core

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Debug        bool
		TestMode     bool
		Env          string // DEV (default) | TEST | QA | PROD
		Build        string
		AppName      string
		SecretKey    string
		RollbarToken string

		Server     ServerConfig
		Database   DatabaseConfig
		Attendance AttendanceConfig
	}

	ServerConfig struct {
		Host               string
		Addr               string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		Host          string
		Port          string
		DisableTLS    bool
	}

	AttendanceConfig struct {
		CodeTTL         time.Duration
		MaxCodeAttempts int
		RetentionDays   int
		SweepInterval   time.Duration
		Timezone        *time.Location
	}
)

func (c DatabaseConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func NewConfig() *Config {
	conf := viper.New()
	conf.SetTypeByDefaultValue(true)

	// defaults
	conf.SetDefault("debug", true)
	conf.SetDefault("build", "dev")
	conf.SetDefault("appName", "Mahudhurio")
	conf.SetDefault("secretKey", "w#ie7_qdr)5mz&0p8$ax!u2(h!x)#*c2(#yg4h^$cegm2emy")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("server.host", "localhost")
	conf.SetDefault("server.addr", ":8000")
	conf.SetDefault("server.debugHost", "localhost:9000")
	conf.SetDefault("server.shutdownTimeout", 5*time.Second)
	conf.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.name", "mahudhurio")
	conf.SetDefault("database.user", "mahudhurio")
	conf.SetDefault("database.password", "")
	conf.SetDefault("database.adminUser", "")
	conf.SetDefault("database.adminPassword", "")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", "5432")
	conf.SetDefault("database.disableTLS", true)
	conf.SetDefault("attendance.codeTTL", 60*time.Second)
	conf.SetDefault("attendance.maxCodeAttempts", 3)
	conf.SetDefault("attendance.retentionDays", 120)
	conf.SetDefault("attendance.sweepInterval", 24*time.Hour)
	conf.SetDefault("attendance.timezone", "UTC")

	env := strings.ToUpper(os.Getenv("ENV"))
	var testMode bool
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		testMode = true
	}
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	tz, err := time.LoadLocation(conf.GetString("attendance.timezone"))
	if err != nil {
		log.Fatalf("config.time.LoadLocation(%s): %v", conf.GetString("attendance.timezone"), err)
	}

	return &Config{
		Debug:        conf.GetBool("debug"),
		TestMode:     testMode,
		Env:          env,
		Build:        conf.GetString("build"),
		AppName:      conf.GetString("appName"),
		SecretKey:    conf.GetString("secretKey"),
		RollbarToken: conf.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:               conf.GetString("server.host"),
			Addr:               conf.GetString("server.addr"),
			DebugHost:          conf.GetString("server.debugHost"),
			ShutdownTimeout:    conf.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: conf.GetDuration("server.jwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("database.engine"),
			Name:          conf.GetString("database.name"),
			User:          conf.GetString("database.user"),
			Password:      conf.GetString("database.password"),
			AdminUser:     conf.GetString("database.adminUser"),
			AdminPassword: conf.GetString("database.adminPassword"),
			Host:          conf.GetString("database.host"),
			Port:          conf.GetString("database.port"),
			DisableTLS:    conf.GetBool("database.disableTLS"),
		},
		Attendance: AttendanceConfig{
			CodeTTL:         conf.GetDuration("attendance.codeTTL"),
			MaxCodeAttempts: conf.GetInt("attendance.maxCodeAttempts"),
			RetentionDays:   conf.GetInt("attendance.retentionDays"),
			SweepInterval:   conf.GetDuration("attendance.sweepInterval"),
			Timezone:        tz,
		},
	}
}
