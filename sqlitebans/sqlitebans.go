// Package sqlitebans keeps a raknet ban list in a SQLite database so bans
// survive restarts.
package sqlitebans

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/getlantern/golog"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrInvalidAddress = errors.New("invalid ip address format")
	log               = golog.LoggerFor("raknet.sqlitebans")
)

const initSQL = `CREATE TABLE IF NOT EXISTS ban (
	addr TEXT PRIMARY KEY NOT NULL,
	reason TEXT NOT NULL,
	created INTEGER NOT NULL
);`

// Store is a raknet.BanList backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" works for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared and writes serialized
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(initSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to initialize %v: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Ban adds addr to the ban list, replacing the reason if already banned.
func (s *Store) Ban(addr, reason string) error {
	ip := net.ParseIP(addr)
	if ip == nil {
		return ErrInvalidAddress
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO ban (
		addr,
		reason,
		created
	) VALUES (
		?,
		?,
		?
	);`, ip.String(), reason, time.Now().Unix())
	return err
}

// Unban removes addr from the ban list.
func (s *Store) Unban(addr string) error {
	ip := net.ParseIP(addr)
	if ip == nil {
		return ErrInvalidAddress
	}
	_, err := s.db.Exec(`DELETE FROM ban WHERE addr = ?;`, ip.String())
	return err
}

// Reason returns why addr was banned, or "" if it isn't.
func (s *Store) Reason(addr string) (string, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return "", ErrInvalidAddress
	}
	var r string
	err := s.db.QueryRow(`SELECT reason FROM ban WHERE addr = ?;`, ip.String()).Scan(&r)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", err
	}
	return r, nil
}

// IsBanned implements raknet.BanList. A database error counts as banned.
func (s *Store) IsBanned(ip net.IP) bool {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM ban WHERE addr = ?;`, ip.String()).Scan(&n)
	if err != nil {
		log.Errorf("Unable to look up %v: %v", ip, err)
		return true
	}
	return n > 0
}

// List returns every banned address with its reason.
func (s *Store) List() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT addr, reason FROM ban;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	r := make(map[string]string)
	for rows.Next() {
		var addr, reason string
		if err := rows.Scan(&addr, &reason); err != nil {
			return nil, err
		}
		r[addr] = reason
	}
	return r, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
