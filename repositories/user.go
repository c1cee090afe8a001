package repositories

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"qr-relay/errors"
)

type IUserRepository interface {
	Create(username, passwordHash, role, createdBy string) (User, error)
	FindByUsername(username string) (User, error)
	FindByID(id string) (User, error)
	Update(user User) error
	List() ([]User, error)
	Delete(username string) error
}

// User is the stored account record. SessionToken is the per-login nonce
// checked against incoming tokens for single-session enforcement.
type User struct {
	ID                 string    `json:"id"`
	Username           string    `json:"username"`
	PasswordHash       string    `json:"passwordHash"`
	Role               string    `json:"role"`
	IsBanned           bool      `json:"isBanned"`
	LoginFailures      int       `json:"loginFailures"`
	MustChangePassword bool      `json:"mustChangePassword"`
	SessionToken       string    `json:"sessionToken,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	CreatedBy          string    `json:"createdBy,omitempty"`
	LastLogin          time.Time `json:"lastLogin,omitzero"`
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) IUserRepository {
	return &UserRepository{db: db}
}

func userKey(username string) []byte { return []byte("user:" + username) }
func userIDKey(id string) []byte     { return []byte("userid:" + id) }

// Create persists a new user. New accounts start with a forced password
// change, matching the flow where an admin hands out generated credentials.
func (u *UserRepository) Create(username, passwordHash, role, createdBy string) (User, error) {
	user := User{
		ID:                 uuid.NewString(),
		Username:           username,
		PasswordHash:       passwordHash,
		Role:               role,
		MustChangePassword: true,
		CreatedAt:          time.Now().UTC(),
		CreatedBy:          createdBy,
	}

	data, err := json.Marshal(user)
	if err != nil {
		return User{}, fmt.Errorf("marshal failed: %w", err)
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(userKey(username)); err == nil {
			return errors.ErrUserAlreadyExists
		}
		if err := txn.Set(userKey(username), data); err != nil {
			return err
		}
		// Secondary index: token claims carry the user id, not the name.
		return txn.Set(userIDKey(user.ID), []byte(username))
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (u *UserRepository) FindByUsername(username string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(username))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &user)
		})
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return User{}, errors.ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (u *UserRepository) FindByID(id string) (User, error) {
	var username string
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userIDKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			username = string(val)
			return nil
		})
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return User{}, errors.ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u.FindByUsername(username)
}

// Update rewrites the stored record for an existing user. Login-failure
// counting, bans, session rotation and password changes all go through here.
func (u *UserRepository) Update(user User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return u.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(userKey(user.Username)); err != nil {
			if stderrors.Is(err, badger.ErrKeyNotFound) {
				return errors.ErrUserNotFound
			}
			return err
		}
		return txn.Set(userKey(user.Username), data)
	})
}

func (u *UserRepository) List() ([]User, error) {
	var users []User
	err := u.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("user:")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var user User
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &user)
			})
			if err != nil {
				return err
			}
			users = append(users, user)
		}
		return nil
	})
	return users, err
}

func (u *UserRepository) Delete(username string) error {
	return u.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(username))
		if err != nil {
			if stderrors.Is(err, badger.ErrKeyNotFound) {
				return errors.ErrUserNotFound
			}
			return err
		}
		var user User
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &user)
		}); err != nil {
			return err
		}
		if err := txn.Delete(userIDKey(user.ID)); err != nil {
			return err
		}
		return txn.Delete(userKey(username))
	})
}
