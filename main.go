package main

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/techagentng/skillsync/config"
	"github.com/techagentng/skillsync/db"
	"github.com/techagentng/skillsync/logger"
	"github.com/techagentng/skillsync/realtime"
	"github.com/techagentng/skillsync/server"
	"github.com/techagentng/skillsync/services"
)

func main() {
	conf, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	logger.Init(conf.LogLevel, conf.Env)

	gormDB, err := db.GetDB(conf)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to database")
	}
	authRepo := db.NewAuthRepo(gormDB)
	chatRepo := db.NewChatRepo(gormDB)

	authService := services.NewAuthService(authRepo, conf)
	chatService := services.NewChatService(chatRepo, conf)

	presence := realtime.NewPresence()
	router := realtime.NewRouter(chatService, presence)

	if conf.FirebaseCredentialsFile != "" {
		messagingClient, err := services.NewFirebaseMessaging(context.Background(), conf.FirebaseCredentialsFile)
		if err != nil {
			log.Fatal().Err(err).Msg("initializing Firebase")
		}
		router.SetOfflineNotifier(services.NewNotificationService(messagingClient, authRepo))
		log.Info().Msg("Firebase Messaging client initialized")
	}

	var mediaService services.MediaService
	if conf.AttachmentsEnabled() {
		storage, err := services.NewS3Storage(context.Background(), conf)
		if err != nil {
			log.Fatal().Err(err).Msg("initializing attachment storage")
		}
		mediaService = services.NewMediaService(chatRepo, storage, conf)
	}

	s := &server.Server{
		Config:         conf,
		DB:             gormDB,
		AuthRepository: authRepo,
		AuthService:    authService,
		ChatService:    chatService,
		MediaService:   mediaService,
		Presence:       presence,
		Router:         router,
	}
	s.Start()
}
