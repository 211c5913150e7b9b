package models

import (
	"errors"

	goval "github.com/go-passwd/validator"
	"github.com/leebenson/conform"
	"golang.org/x/crypto/bcrypt"
)

// User is the account behind a chat identity. The chat core only ever sees User.ID.
type User struct {
	Model
	Fullname       string `json:"fullname"`
	Username       string `gorm:"type:varchar(64);uniqueIndex" json:"username"`
	Email          string `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	HashedPassword string `json:"-"`
	DeviceToken    string `json:"-"`
	ThumbNailURL   string `json:"thumbnail_url,omitempty"`
}

type Blacklist struct {
	Model
	Token string `gorm:"type:text;uniqueIndex"`
}

type SignupRequest struct {
	Fullname string `json:"fullname" binding:"required,min=2" conform:"trim"`
	Username string `json:"username" binding:"required,min=2" conform:"trim,lower"`
	Email    string `json:"email" binding:"required,email" conform:"email"`
	Password string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email" conform:"email"`
	Password string `json:"password" binding:"required"`
}

type DeviceTokenRequest struct {
	Token string `json:"token" binding:"required" conform:"trim"`
}

type UserResponse struct {
	ID       string `json:"id"`
	Fullname string `json:"fullname"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type LoginResponse struct {
	UserResponse
	AccessToken string `json:"access_token"`
}

func ValidatePassword(password string) error {
	passwordValidator := goval.New(goval.MinLength(6, errors.New("password cant be less than 6 characters")),
		goval.MaxLength(64, errors.New("password cant be more than 64 characters")))
	return passwordValidator.Validate(password)
}

// Sanitize trims and normalizes the string fields of a request according to its conform tags.
func Sanitize(req interface{}) error {
	return conform.Strings(req)
}

func (u *User) VerifyPassword(password string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password))
}

func (u *User) Response() UserResponse {
	return UserResponse{ID: u.ID, Fullname: u.Fullname, Username: u.Username, Email: u.Email}
}
