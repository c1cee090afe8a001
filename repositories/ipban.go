package repositories

import (
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/dgraph-io/badger/v4"
)

type IIPBanRepository interface {
	Ban(ip, reason, bannedBy string) error
	Unban(ip string) error
	IsBanned(ip string) (bool, error)
	List() ([]IPBan, error)
}

type IPBan struct {
	IP       string    `json:"ip"`
	Reason   string    `json:"reason,omitempty"`
	BannedAt time.Time `json:"bannedAt"`
	BannedBy string    `json:"bannedBy,omitempty"`
}

type IPBanRepository struct {
	db *badger.DB
}

func NewIPBanRepository(db *badger.DB) IIPBanRepository {
	return &IPBanRepository{db: db}
}

func ipBanKey(ip string) []byte { return []byte("ipban:" + ip) }

func (r *IPBanRepository) Ban(ip, reason, bannedBy string) error {
	ban := IPBan{IP: ip, Reason: reason, BannedAt: time.Now().UTC(), BannedBy: bannedBy}
	data, err := json.Marshal(ban)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(ipBanKey(ip), data)
	})
}

func (r *IPBanRepository) Unban(ip string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(ipBanKey(ip))
	})
}

func (r *IPBanRepository) IsBanned(ip string) (bool, error) {
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(ipBanKey(ip))
		return err
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *IPBanRepository) List() ([]IPBan, error) {
	var bans []IPBan
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("ipban:")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var ban IPBan
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ban)
			})
			if err != nil {
				return err
			}
			bans = append(bans, ban)
		}
		return nil
	})
	return bans, err
}
