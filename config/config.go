package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Debug                    bool          `envconfig:"debug"`
	Port                     int           `envconfig:"port" default:"8080"`
	Env                      string        `envconfig:"env" default:"dev"`
	LogLevel                 string        `envconfig:"log_level" default:"info"`
	PostgresHost             string        `envconfig:"postgres_host"`
	PostgresUser             string        `envconfig:"postgres_user"`
	PostgresDB               string        `envconfig:"postgres_db"`
	PostgresPort             int           `envconfig:"postgres_port" default:"5432"`
	PostgresPassword         string        `envconfig:"postgres_password"`
	PostgresSSLMode          string        `envconfig:"postgres_sslmode" default:"disable"`
	JWTSecret                string        `envconfig:"jwt_secret"`
	AccessTokenTTL           time.Duration `envconfig:"access_token_ttl" default:"24h"`
	AccessControlAllowOrigin string        `envconfig:"access_control_allow_origin"`
	AWSRegion                string        `envconfig:"aws_region"`
	AWSAccessKeyID           string        `envconfig:"aws_access_key_id"`
	AWSSecretAccessKey       string        `envconfig:"aws_secret_access_key"`
	AWSBucket                string        `envconfig:"aws_bucket"`
	MaxAttachmentSize        int64         `envconfig:"max_attachment_size" default:"10485760"`
	FirebaseCredentialsFile  string        `envconfig:"firebase_credentials_file"`
	SendRateLimit            uint          `envconfig:"send_rate_limit" default:"20"`
	SendRateWindow           time.Duration `envconfig:"send_rate_window" default:"10s"`
	ShutdownTimeout          time.Duration `envconfig:"shutdown_timeout" default:"15s"`
}

func Load() (*Config, error) {
	env := os.Getenv("GIN_MODE")
	if env != "release" {
		if err := godotenv.Load("./.env"); err != nil {
			log.Debug().Err(err).Msg("couldn't load env vars from .env")
		}
	}

	c := &Config{}
	err := envconfig.Process("skillsync", c)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// AttachmentsEnabled reports whether S3 credentials are configured.
func (c *Config) AttachmentsEnabled() bool {
	return c.AWSBucket != "" && c.AWSRegion != ""
}

// AttachmentBaseURL is the public prefix of every uploaded object, or "" when attachments are disabled.
func (c *Config) AttachmentBaseURL() string {
	if !c.AttachmentsEnabled() {
		return ""
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/", c.AWSBucket, c.AWSRegion)
}
