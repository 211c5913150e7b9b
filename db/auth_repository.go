package db

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/techagentng/skillsync/models"
	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

type AuthRepository interface {
	CreateUser(user *models.User) (*models.User, error)
	IsEmailExist(email string) error
	FindUserByEmail(email string) (*models.User, error)
	FindUserByID(id string) (*models.User, error)
	AddToBlackList(blacklist *models.Blacklist) error
	IsTokenInBlacklist(token string) bool
	UpdateDeviceToken(userID, token string) error
	FindDeviceToken(userID string) (string, error)
}

type authRepo struct {
	DB *gorm.DB
}

func NewAuthRepo(db *GormDB) AuthRepository {
	return &authRepo{db.DB}
}

func (a *authRepo) CreateUser(user *models.User) (*models.User, error) {
	if err := a.DB.Create(user).Error; err != nil {
		return nil, errors.Wrap(err, "create user")
	}
	return user, nil
}

func (a *authRepo) IsEmailExist(email string) error {
	var count int64
	err := a.DB.Model(&models.User{}).Where("email = ?", email).Count(&count).Error
	if err != nil {
		return errors.Wrap(err, "gorm count error")
	}
	if count > 0 {
		return errors.New("email already in use")
	}
	return nil
}

func (a *authRepo) FindUserByEmail(email string) (*models.User, error) {
	var user models.User
	err := a.DB.Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("error finding user by email: %w", err)
	}
	return &user, nil
}

func (a *authRepo) FindUserByID(id string) (*models.User, error) {
	var user models.User
	err := a.DB.Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (a *authRepo) AddToBlackList(blacklist *models.Blacklist) error {
	blacklist.Token = normalizeToken(blacklist.Token)
	return a.DB.Create(blacklist).Error
}

func normalizeToken(token string) string {
	return strings.TrimSpace(token)
}

func (a *authRepo) IsTokenInBlacklist(token string) bool {
	var count int64
	a.DB.Model(&models.Blacklist{}).Where("token = ?", normalizeToken(token)).Count(&count)
	return count > 0
}

func (a *authRepo) UpdateDeviceToken(userID, token string) error {
	res := a.DB.Model(&models.User{}).Where("id = ?", userID).Update("device_token", token)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update device token")
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (a *authRepo) FindDeviceToken(userID string) (string, error) {
	var user models.User
	err := a.DB.Select("device_token").Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return user.DeviceToken, nil
}
