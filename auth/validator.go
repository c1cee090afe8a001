package auth

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type LoginRequest struct {
	Username string `json:"username" validate:"required,min=2,max=64"`
	Password string `json:"password" validate:"required"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword" validate:"required,min=6,max=72"`
}

func ValidateLogin(req LoginRequest) error {
	return validate.Struct(req)
}

func ValidateChangePassword(req ChangePasswordRequest) error {
	return validate.Struct(req)
}
