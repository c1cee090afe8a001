package services

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"qr-relay/auth"
	"qr-relay/errors"
	"qr-relay/repositories"
)

// MaxLoginFailures is the number of consecutive failed logins before an
// account is banned automatically.
const MaxLoginFailures = 4

type IAuthService interface {
	Login(username, password, ip string) (LoginResult, error)
	ChangePassword(userID, oldPassword, newPassword string) (string, error)
	VerifySession(userID, sessionToken string) error
	CreateUser(username, role, createdBy string) (CreatedUser, error)
	SetBanned(username string, banned bool) error
	ListUsers() ([]repositories.User, error)
	DeleteUser(username string) error
}

type LoginResult struct {
	Token              string
	UserID             string
	Username           string
	Role               string
	MustChangePassword bool
	RemainingAttempts  int
}

// CreatedUser carries the generated plaintext password exactly once, for
// the admin to hand out. Only the hash is stored.
type CreatedUser struct {
	User     repositories.User
	Password string
}

type AuthService struct {
	log    *slog.Logger
	users  repositories.IUserRepository
	ipBans repositories.IIPBanRepository
	issuer *auth.TokenIssuer
}

func NewAuthService(log *slog.Logger, users repositories.IUserRepository,
	ipBans repositories.IIPBanRepository, issuer *auth.TokenIssuer) IAuthService {
	return &AuthService{log: log, users: users, ipBans: ipBans, issuer: issuer}
}

// Login authenticates a user and rotates their session nonce, which kicks
// any session issued for a previous login of the same account.
func (s *AuthService) Login(username, password, ip string) (LoginResult, error) {
	if err := auth.ValidateLogin(auth.LoginRequest{Username: username, Password: password}); err != nil {
		return LoginResult{}, errors.ErrInvalidCredentials
	}

	banned, err := s.ipBans.IsBanned(ip)
	if err != nil {
		return LoginResult{}, err
	}
	if banned {
		s.log.Warn("login blocked, banned ip", "username", username, "ip", ip)
		return LoginResult{}, errors.ErrIPBanned
	}

	user, err := s.users.FindByUsername(username)
	if err != nil {
		// Same answer as a wrong password, to prevent user enumeration.
		s.log.Warn("login failed, unknown user", "username", username, "ip", ip)
		return LoginResult{}, errors.ErrInvalidCredentials
	}
	if user.IsBanned {
		s.log.Warn("login blocked, banned account", "username", username, "ip", ip)
		return LoginResult{}, errors.ErrAccountBanned
	}

	match, err := auth.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return s.recordFailure(user, ip)
	}

	user.LoginFailures = 0
	user.LastLogin = time.Now().UTC()
	user.SessionToken = auth.NewSessionToken()
	if err := s.users.Update(user); err != nil {
		return LoginResult{}, err
	}

	token, err := s.issuer.Generate(auth.Claims{
		UserID:             user.ID,
		Username:           user.Username,
		Role:               user.Role,
		SessionToken:       user.SessionToken,
		MustChangePassword: user.MustChangePassword,
	})
	if err != nil {
		return LoginResult{}, errors.ErrTokenGeneration
	}

	s.log.Info("login success", "username", username, "ip", ip)
	return LoginResult{
		Token:              token,
		UserID:             user.ID,
		Username:           user.Username,
		Role:               user.Role,
		MustChangePassword: user.MustChangePassword,
	}, nil
}

func (s *AuthService) recordFailure(user repositories.User, ip string) (LoginResult, error) {
	user.LoginFailures++
	if user.LoginFailures >= MaxLoginFailures {
		user.IsBanned = true
		if err := s.users.Update(user); err != nil {
			return LoginResult{}, err
		}
		s.log.Warn("account auto-banned after repeated failures",
			"username", user.Username, "ip", ip, "failures", user.LoginFailures)
		return LoginResult{}, errors.ErrAccountBanned
	}
	if err := s.users.Update(user); err != nil {
		return LoginResult{}, err
	}
	s.log.Warn("login failed", "username", user.Username, "ip", ip, "failures", user.LoginFailures)
	return LoginResult{RemainingAttempts: MaxLoginFailures - user.LoginFailures},
		errors.ErrInvalidCredentials
}

// ChangePassword updates the stored hash and reissues a token without the
// must-change flag. The old password check is skipped on the forced
// first-login change, where the user only knows the generated password that
// the must-change flow is replacing.
func (s *AuthService) ChangePassword(userID, oldPassword, newPassword string) (string, error) {
	if err := auth.ValidateChangePassword(auth.ChangePasswordRequest{
		OldPassword: oldPassword,
		NewPassword: newPassword,
	}); err != nil {
		return "", errors.ErrWeakPassword
	}

	user, err := s.users.FindByID(userID)
	if err != nil {
		return "", err
	}
	if !user.MustChangePassword {
		match, err := auth.ComparePassword(oldPassword, user.PasswordHash)
		if err != nil || !match {
			return "", errors.ErrInvalidCredentials
		}
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return "", fmt.Errorf("hashing failed: %w", err)
	}
	user.PasswordHash = hash
	user.MustChangePassword = false
	if err := s.users.Update(user); err != nil {
		return "", err
	}

	// Keep the same session nonce so the current session survives.
	token, err := s.issuer.Generate(auth.Claims{
		UserID:       user.ID,
		Username:     user.Username,
		Role:         user.Role,
		SessionToken: user.SessionToken,
	})
	if err != nil {
		return "", errors.ErrTokenGeneration
	}
	s.log.Info("password changed", "username", user.Username)
	return token, nil
}

// VerifySession is the middleware's check that a validated token still
// belongs to the user's current login.
func (s *AuthService) VerifySession(userID, sessionToken string) error {
	user, err := s.users.FindByID(userID)
	if err != nil {
		return err
	}
	if user.IsBanned {
		return errors.ErrAccountBanned
	}
	if user.SessionToken == "" || user.SessionToken != sessionToken {
		return errors.ErrSessionExpired
	}
	return nil
}

// CreateUser provisions an account with a generated password and the
// must-change flag set. An empty username gets a generated one.
func (s *AuthService) CreateUser(username, role, createdBy string) (CreatedUser, error) {
	if username == "" {
		username = "user_" + randomString(6)
	}
	if _, ok := map[string]bool{"owner": true, "admin": true, "user": true}[role]; !ok {
		role = "user"
	}

	password := randomString(12)
	hash, err := auth.HashPassword(password)
	if err != nil {
		return CreatedUser{}, fmt.Errorf("hashing failed: %w", err)
	}

	user, err := s.users.Create(username, hash, role, createdBy)
	if err != nil {
		return CreatedUser{}, err
	}
	s.log.Info("user created", "username", username, "role", role, "created_by", createdBy)
	return CreatedUser{User: user, Password: password}, nil
}

func (s *AuthService) SetBanned(username string, banned bool) error {
	user, err := s.users.FindByUsername(username)
	if err != nil {
		return err
	}
	user.IsBanned = banned
	if banned {
		// Drop the live session too.
		user.SessionToken = ""
	}
	return s.users.Update(user)
}

func (s *AuthService) ListUsers() ([]repositories.User, error) {
	return s.users.List()
}

func (s *AuthService) DeleteUser(username string) error {
	return s.users.Delete(username)
}

func randomString(length int) string {
	buf := make([]byte, (length+1)/2)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)[:length]
}
