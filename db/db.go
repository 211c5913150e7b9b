package db

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/techagentng/skillsync/config"
	"github.com/techagentng/skillsync/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type GormDB struct {
	DB *gorm.DB
}

func GetDB(c *config.Config) (*GormDB, error) {
	gormDB := &GormDB{}
	if err := gormDB.Init(c); err != nil {
		return nil, err
	}
	return gormDB, nil
}

// NewGormDB wraps an already opened connection and runs the migrations.
func NewGormDB(db *gorm.DB) (*GormDB, error) {
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &GormDB{DB: db}, nil
}

func (g *GormDB) Init(c *config.Config) error {
	db, err := getPostgresDB(c)
	if err != nil {
		return err
	}
	g.DB = db

	if err := migrate(g.DB); err != nil {
		return fmt.Errorf("unable to run migrations: %w", err)
	}
	return nil
}

func (g *GormDB) Close() error {
	sqlDB, err := g.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func PostgresDSN(c *config.Config) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresPort, c.PostgresSSLMode)
}

func getPostgresDB(c *config.Config) (*gorm.DB, error) {
	log.Info().Str("host", c.PostgresHost).Int("port", c.PostgresPort).Str("db", c.PostgresDB).Msg("connecting to postgres")

	gormConfig := &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	if c.Env != "prod" {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	} else {
		gormConfig.Logger = logger.Default.LogMode(logger.Silent)
	}
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		DSN: PostgresDSN(c),
	}), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	return gormDB, nil
}

func migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Blacklist{},
		&models.Conversation{},
		&models.Message{},
		&models.MessageRead{},
	)
	if err != nil {
		return fmt.Errorf("migrations error: %v", err)
	}
	return nil
}
