package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	RedisURL    string

	// RabbitMQURL enables the ingest queue consumer when set.
	RabbitMQURL string
	IngestQueue string

	TelegramBotToken string
	TelegramChatID   string

	HealthAdminKey string

	// WorkflowExtraEdges layers extra "from:to" transitions over the
	// built-in stage table, e.g. "applied:new" to let a fallen-through
	// application restart from the top.
	WorkflowExtraEdges []string

	AllowedOrigins []string
	DevPassword    string
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	port := viper.GetString("PORT")
	if port == "" {
		port = "8080"
	}
	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	dbURL := viper.GetString("DATABASE_URL")
	if env == "test" && viper.GetString("DATABASE_URL_TEST") != "" {
		dbURL = viper.GetString("DATABASE_URL_TEST")
	}

	queue := viper.GetString("INGEST_QUEUE")
	if queue == "" {
		queue = "raw_listings"
	}

	return &Config{
		Env:                env,
		Port:               port,
		DatabaseURL:        dbURL,
		RedisURL:           viper.GetString("REDIS_URL"),
		RabbitMQURL:        viper.GetString("RABBITMQ_URL"),
		IngestQueue:        queue,
		TelegramBotToken:   viper.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:     viper.GetString("TELEGRAM_CHAT_ID"),
		HealthAdminKey:     viper.GetString("HEALTH_ADMIN_KEY"),
		WorkflowExtraEdges: splitCSV(viper.GetString("WORKFLOW_EXTRA_EDGES")),
		AllowedOrigins:     splitCSV(viper.GetString("ALLOWED_ORIGINS")),
		DevPassword:        viper.GetString("DEV_PASSWORD"),
	}, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
