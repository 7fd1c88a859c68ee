package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/urmzd/plugd/pkg/device"
)

var ErrIdentityNotFound = errors.New("device identity not found")

// DeviceIdentity is the remembered index and protocol of a device address
// within a profile.
type DeviceIdentity struct {
	ProfileID  int64
	Address    string
	Protocol   string
	Identifier string
	Index      uint32
	Name       string
	LastSeen   time.Time
}

// DeviceIdentityStore provides device identity operations.
type DeviceIdentityStore interface {
	Get(ctx context.Context, profileID int64, address string) (*DeviceIdentity, error)
	Put(ctx context.Context, d *DeviceIdentity) error
	List(ctx context.Context, profileID int64) ([]*DeviceIdentity, error)
	Delete(ctx context.Context, profileID int64, address string) error
}

// DeviceIdentities returns a DeviceIdentityStore for this database.
func (db *DB) DeviceIdentities() DeviceIdentityStore {
	return &identityStore{db: db}
}

type identityStore struct {
	db *DB
}

const identityColumns = `profile_id, address, protocol, identifier, device_index, name, last_seen`

func scanIdentity(row rowScanner) (*DeviceIdentity, error) {
	d := &DeviceIdentity{}
	var lastSeen string
	err := row.Scan(&d.ProfileID, &d.Address, &d.Protocol, &d.Identifier, &d.Index, &d.Name, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	d.LastSeen, _ = time.Parse(time.DateTime, lastSeen)
	return d, nil
}

func (s *identityStore) Get(ctx context.Context, profileID int64, address string) (*DeviceIdentity, error) {
	return scanIdentity(s.db.QueryRowContext(ctx, `
		SELECT `+identityColumns+` FROM device_identities
		WHERE profile_id = ? AND address = ?
	`, profileID, address))
}

// Put inserts or replaces the identity and refreshes last_seen.
func (s *identityStore) Put(ctx context.Context, d *DeviceIdentity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_identities (profile_id, address, protocol, identifier, device_index, name, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (profile_id, address) DO UPDATE SET
			protocol = excluded.protocol,
			identifier = excluded.identifier,
			device_index = excluded.device_index,
			name = excluded.name,
			last_seen = excluded.last_seen
	`, d.ProfileID, d.Address, d.Protocol, d.Identifier, d.Index, d.Name)
	if err != nil {
		return fmt.Errorf("failed to store device identity: %w", err)
	}
	return nil
}

func (s *identityStore) List(ctx context.Context, profileID int64) ([]*DeviceIdentity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+identityColumns+` FROM device_identities
		WHERE profile_id = ? ORDER BY device_index
	`, profileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*DeviceIdentity
	for rows.Next() {
		d, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *identityStore) Delete(ctx context.Context, profileID int64, address string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM device_identities WHERE profile_id = ? AND address = ?
	`, profileID, address)
	if err != nil {
		return err
	}
	return expectRow(result, ErrIdentityNotFound)
}

// IdentityIndex adapts a DeviceIdentityStore to the device manager's index
// persistence for one profile.
type IdentityIndex struct {
	store     DeviceIdentityStore
	profileID int64
}

// NewIdentityIndex scopes store to profileID.
func NewIdentityIndex(store DeviceIdentityStore, profileID int64) *IdentityIndex {
	return &IdentityIndex{store: store, profileID: profileID}
}

// Index returns the index last remembered for address.
func (i *IdentityIndex) Index(ctx context.Context, address string) (uint32, bool, error) {
	d, err := i.store.Get(ctx, i.profileID, address)
	if errors.Is(err, ErrIdentityNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return d.Index, true, nil
}

// Remember records the index a device was given.
func (i *IdentityIndex) Remember(ctx context.Context, def *device.DeviceDefinition) error {
	return i.store.Put(ctx, &DeviceIdentity{
		ProfileID:  i.profileID,
		Address:    def.Address,
		Protocol:   def.Protocol,
		Identifier: def.Identifier,
		Index:      def.Index,
		Name:       def.Name,
	})
}
