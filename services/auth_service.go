package services

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/techagentng/skillsync/config"
	"github.com/techagentng/skillsync/db"
	apiError "github.com/techagentng/skillsync/errors"
	"github.com/techagentng/skillsync/models"
	"github.com/techagentng/skillsync/services/jwt"
	"golang.org/x/crypto/bcrypt"
)

// AuthService is the identity collaborator: it issues the tokens whose user id the chat core trusts.
type AuthService interface {
	SignupUser(request *models.SignupRequest) (*models.User, *apiError.Error)
	LoginUser(loginRequest *models.LoginRequest) (*models.LoginResponse, *apiError.Error)
	Logout(accessToken string) *apiError.Error
	RegisterDeviceToken(userID, token string) *apiError.Error
}

type authService struct {
	Config   *config.Config
	authRepo db.AuthRepository
}

func NewAuthService(authRepo db.AuthRepository, conf *config.Config) AuthService {
	return &authService{
		Config:   conf,
		authRepo: authRepo,
	}
}

func (a *authService) SignupUser(request *models.SignupRequest) (*models.User, *apiError.Error) {
	if err := models.Sanitize(request); err != nil {
		return nil, apiError.NewValidationError(err.Error())
	}
	if err := models.ValidatePassword(request.Password); err != nil {
		return nil, apiError.NewValidationError(err.Error())
	}

	if err := a.authRepo.IsEmailExist(request.Email); err != nil {
		log.Info().Err(err).Str("email", request.Email).Msg("signup rejected")
		return nil, apiError.GetUniqueContraintError(err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(request.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error().Err(err).Msg("hashing password")
		return nil, apiError.ErrInternalServerError
	}

	user := &models.User{
		Fullname:       request.Fullname,
		Username:       request.Username,
		Email:          request.Email,
		HashedPassword: string(hashedPassword),
	}
	user, err = a.authRepo.CreateUser(user)
	if err != nil {
		log.Error().Err(err).Str("email", request.Email).Msg("creating user")
		return nil, apiError.GetUniqueContraintError(err)
	}
	return user, nil
}

func (a *authService) LoginUser(loginRequest *models.LoginRequest) (*models.LoginResponse, *apiError.Error) {
	if err := models.Sanitize(loginRequest); err != nil {
		return nil, apiError.NewValidationError(err.Error())
	}
	foundUser, err := a.authRepo.FindUserByEmail(loginRequest.Email)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, apiError.ErrInvalidPassword
		}
		log.Error().Err(err).Msg("finding user by email")
		return nil, apiError.New("unable to find user", http.StatusInternalServerError)
	}

	if err := foundUser.VerifyPassword(loginRequest.Password); err != nil {
		return nil, apiError.ErrInvalidPassword
	}

	accessToken, err := jwt.GenerateToken(foundUser.ID, foundUser.Email, a.Config.JWTSecret, a.Config.AccessTokenTTL)
	if err != nil {
		log.Error().Err(err).Str("user_id", foundUser.ID).Msg("generating access token")
		return nil, apiError.ErrInternalServerError
	}

	return &models.LoginResponse{
		UserResponse: foundUser.Response(),
		AccessToken:  accessToken,
	}, nil
}

func (a *authService) Logout(accessToken string) *apiError.Error {
	if err := a.authRepo.AddToBlackList(&models.Blacklist{Token: accessToken}); err != nil {
		log.Error().Err(err).Msg("adding access token to blacklist")
		return apiError.ErrInternalServerError
	}
	return nil
}

func (a *authService) RegisterDeviceToken(userID, token string) *apiError.Error {
	if err := a.authRepo.UpdateDeviceToken(userID, token); err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return apiError.New("user not found", http.StatusNotFound)
		}
		log.Error().Err(err).Str("user_id", userID).Msg("saving device token")
		return apiError.ErrInternalServerError
	}
	return nil
}
