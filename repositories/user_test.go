package repositories

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"qr-relay/errors"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).
		WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUserRepository_Create_And_Find(t *testing.T) {
	req := require.New(t)
	repo := NewUserRepository(openTestDB(t))

	created, err := repo.Create("alice", "hash", "admin", "owner")
	req.NoError(err)
	req.NotEmpty(created.ID)
	req.True(created.MustChangePassword)

	byName, err := repo.FindByUsername("alice")
	req.NoError(err)
	req.Equal(created.ID, byName.ID)

	byID, err := repo.FindByID(created.ID)
	req.NoError(err)
	req.Equal("alice", byID.Username)
}

func TestUserRepository_Create_Duplicate(t *testing.T) {
	req := require.New(t)
	repo := NewUserRepository(openTestDB(t))

	_, err := repo.Create("alice", "hash", "user", "owner")
	req.NoError(err)

	_, err = repo.Create("alice", "hash2", "user", "owner")
	req.ErrorIs(err, errors.ErrUserAlreadyExists)
}

func TestUserRepository_Find_Missing(t *testing.T) {
	req := require.New(t)
	repo := NewUserRepository(openTestDB(t))

	_, err := repo.FindByUsername("ghost")
	req.ErrorIs(err, errors.ErrUserNotFound)

	_, err = repo.FindByID("nope")
	req.ErrorIs(err, errors.ErrUserNotFound)
}

func TestUserRepository_Update(t *testing.T) {
	req := require.New(t)
	repo := NewUserRepository(openTestDB(t))

	user, err := repo.Create("alice", "hash", "user", "owner")
	req.NoError(err)

	user.LoginFailures = 3
	user.SessionToken = "nonce"
	req.NoError(repo.Update(user))

	found, err := repo.FindByUsername("alice")
	req.NoError(err)
	req.Equal(3, found.LoginFailures)
	req.Equal("nonce", found.SessionToken)
}

func TestUserRepository_Delete(t *testing.T) {
	req := require.New(t)
	repo := NewUserRepository(openTestDB(t))

	user, err := repo.Create("alice", "hash", "user", "owner")
	req.NoError(err)
	req.NoError(repo.Delete("alice"))

	_, err = repo.FindByUsername("alice")
	req.ErrorIs(err, errors.ErrUserNotFound)
	// The id index goes with it
	_, err = repo.FindByID(user.ID)
	req.ErrorIs(err, errors.ErrUserNotFound)
}

func TestUserRepository_List(t *testing.T) {
	req := require.New(t)
	repo := NewUserRepository(openTestDB(t))

	_, err := repo.Create("alice", "h", "user", "owner")
	req.NoError(err)
	_, err = repo.Create("bob", "h", "admin", "owner")
	req.NoError(err)

	users, err := repo.List()
	req.NoError(err)
	req.Len(users, 2)
}

func TestIPBanRepository(t *testing.T) {
	req := require.New(t)
	repo := NewIPBanRepository(openTestDB(t))

	banned, err := repo.IsBanned("10.0.0.1")
	req.NoError(err)
	req.False(banned)

	req.NoError(repo.Ban("10.0.0.1", "abuse", "admin"))

	banned, err = repo.IsBanned("10.0.0.1")
	req.NoError(err)
	req.True(banned)

	bans, err := repo.List()
	req.NoError(err)
	req.Len(bans, 1)
	req.Equal("abuse", bans[0].Reason)

	req.NoError(repo.Unban("10.0.0.1"))
	banned, err = repo.IsBanned("10.0.0.1")
	req.NoError(err)
	req.False(banned)
}
