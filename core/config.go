package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		AppName          string
		Env              string // DEV (local; default), TEST, QA, PROD
		Build            string
		Debug            bool
		TestMode         bool
		SecretKey        string
		RollbarToken     string
		SendgridApiKey   string
		DefaultFromEmail mail.Address
		FrontendBaseURL  string

		Server     ServerConfig
		Database   DatabaseConfig
		Redis      RedisConfig
		AI         AIConfig
		Moderation ModerationConfig
	}

	ServerConfig struct {
		Host               string
		Address            string
		DebugHost          string
		ReadTimeout        time.Duration
		WriteTimeout       time.Duration
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	RedisConfig struct {
		Address       string // empty disables the appeal lock
		Password      string
		DB            int
		AppealLockTTL time.Duration
	}

	AIConfig struct {
		Provider          string // openai | console
		APIKey            string
		BaseURL           string
		Model             string
		ClassifierTimeout time.Duration
		ReplyTimeout      time.Duration
		ReplyMaxWords     int
		// circuit breaker
		BreakerMaxFailures uint32
		BreakerOpenTimeout time.Duration
	}

	ModerationConfig struct {
		// CategoryReviewThreshold escalates an `allowed` verdict to `review` when any category
		// score reaches it. 0 disables escalation.
		CategoryReviewThreshold float64
		ModeratorEmails         []mail.Address
	}
)

func (db DatabaseConfig) Address() string {
	return net.JoinHostPort(db.Host, strconv.Itoa(db.Port))
}

// NewConfig loads `config/.env.<env>` when it exists, then reads every setting from the
// environment (prefixed with the env name, eg. DEV_DATABASE_HOST) on top of the defaults.
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return fromViper(v, env)
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("appName", "Kinga")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("defaultFromEmail", "Kinga <noreply@localhost>")
	v.SetDefault("frontendBaseURL", "http://localhost:8080")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.readTimeout", 5*time.Second)
	v.SetDefault("server.writeTimeout", 10*time.Second)
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "kinga")
	v.SetDefault("database.user", "kinga")
	v.SetDefault("database.password", "kinga")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.appealLockTTL", 10*time.Second)

	v.SetDefault("ai.provider", "console")
	v.SetDefault("ai.apiKey", "")
	v.SetDefault("ai.baseURL", "")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.classifierTimeout", 8*time.Second)
	v.SetDefault("ai.replyTimeout", 15*time.Second)
	v.SetDefault("ai.replyMaxWords", 50)
	v.SetDefault("ai.breakerMaxFailures", 5)
	v.SetDefault("ai.breakerOpenTimeout", 30*time.Second)

	v.SetDefault("moderation.categoryReviewThreshold", 0.85)
	v.SetDefault("moderation.moderatorEmails", []string{})
}

func fromViper(v *viper.Viper, env string) *Config {
	conf := &Config{
		AppName:          v.GetString("appName"),
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		SecretKey:        v.GetString("secretKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		DefaultFromEmail: mustParseAddress(v.GetString("defaultFromEmail")),
		FrontendBaseURL:  strings.TrimSuffix(v.GetString("frontendBaseURL"), "/"),
		Server: ServerConfig{
			Host:               v.GetString("server.host"),
			Address:            v.GetString("server.address"),
			DebugHost:          v.GetString("server.debugHost"),
			ReadTimeout:        v.GetDuration("server.readTimeout"),
			WriteTimeout:       v.GetDuration("server.writeTimeout"),
			ShutdownTimeout:    v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("server.jwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Redis: RedisConfig{
			Address:       v.GetString("redis.address"),
			Password:      v.GetString("redis.password"),
			DB:            v.GetInt("redis.db"),
			AppealLockTTL: v.GetDuration("redis.appealLockTTL"),
		},
		AI: AIConfig{
			Provider:           strings.ToLower(v.GetString("ai.provider")),
			APIKey:             v.GetString("ai.apiKey"),
			BaseURL:            v.GetString("ai.baseURL"),
			Model:              v.GetString("ai.model"),
			ClassifierTimeout:  v.GetDuration("ai.classifierTimeout"),
			ReplyTimeout:       v.GetDuration("ai.replyTimeout"),
			ReplyMaxWords:      v.GetInt("ai.replyMaxWords"),
			BreakerMaxFailures: v.GetUint32("ai.breakerMaxFailures"),
			BreakerOpenTimeout: v.GetDuration("ai.breakerOpenTimeout"),
		},
		Moderation: ModerationConfig{
			CategoryReviewThreshold: v.GetFloat64("moderation.categoryReviewThreshold"),
		},
	}
	for _, addr := range v.GetStringSlice("moderation.moderatorEmails") {
		conf.Moderation.ModeratorEmails = append(conf.Moderation.ModeratorEmails, mustParseAddress(addr))
	}
	return conf
}

func mustParseAddress(addr string) mail.Address {
	a, err := mail.ParseAddress(addr)
	if err != nil {
		log.Fatal(fmt.Errorf("config.mail.ParseAddress(%s): %v", addr, err))
	}
	return *a
}
