// Package postgres implements the interface for PostgreSQL.
package postgres

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" //nolint:gci // load the postgres driver that is used by the system

	"github.com/tarancss/lnnode/lib/store"
	"github.com/tarancss/lnnode/lib/util"
)

const schema = `
CREATE TABLE IF NOT EXISTS channel_peers (
	id      SERIAL PRIMARY KEY,
	address TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS payments (
	direction   TEXT NOT NULL,
	hash        TEXT NOT NULL,
	status      TEXT NOT NULL,
	preimage    TEXT NOT NULL DEFAULT '',
	secret      TEXT NOT NULL DEFAULT '',
	amount_msat BIGINT,
	PRIMARY KEY (direction, hash)
);
CREATE TABLE IF NOT EXISTS invoice_preimages (
	id       SERIAL PRIMARY KEY,
	preimage TEXT NOT NULL UNIQUE
);`

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection' and creates the tables used by
// the node if they do not exist.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	if _, err = db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("cannot create tables: %w", err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// AddChannelPeer saves a peer address if the address does not already exist.
func (p *Postgres) AddChannelPeer(peer string) error {
	if !util.SingleLine(peer) {
		return store.ErrInvalidPeer
	}

	_, err := p.db.Exec(`INSERT INTO channel_peers (address) VALUES ($1) ON CONFLICT (address) DO NOTHING`, peer)
	if err != nil {
		return fmt.Errorf("could not insert peer in db: %w", err)
	}

	return nil
}

// GetChannelPeers returns the peer addresses saved, oldest first.
func (p *Postgres) GetChannelPeers() ([]string, error) {
	rows, err := p.db.Query(`SELECT address FROM channel_peers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("error getting peers: %w", err)
	}
	defer rows.Close()

	peers := []string{}

	for rows.Next() {
		var addr string
		if err = rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("error scanning peer: %w", err)
		}

		peers = append(peers, addr)
	}

	return peers, rows.Err()
}

// SavePayment upserts the payment identified by its direction and hash.
func (p *Postgres) SavePayment(pay store.Payment) error {
	var amt sql.NullInt64
	if pay.AmountMsat != nil {
		amt = sql.NullInt64{Int64: int64(*pay.AmountMsat), Valid: true}
	}

	_, err := p.db.Exec(`INSERT INTO payments (direction, hash, status, preimage, secret, amount_msat)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (direction, hash) DO UPDATE SET
			status = EXCLUDED.status, preimage = EXCLUDED.preimage, secret = EXCLUDED.secret,
			amount_msat = EXCLUDED.amount_msat`,
		pay.Direction, pay.Hash, pay.Status, pay.Preimage, pay.Secret, amt)
	if err != nil {
		return fmt.Errorf("could not save payment in db: %w", err)
	}

	return nil
}

// GetPayments returns every payment saved.
func (p *Postgres) GetPayments() ([]store.Payment, error) {
	rows, err := p.db.Query(`SELECT direction, hash, status, preimage, secret, amount_msat FROM payments`)
	if err != nil {
		return nil, fmt.Errorf("error getting payments: %w", err)
	}
	defer rows.Close()

	payments := []store.Payment{}

	for rows.Next() {
		var (
			pay store.Payment
			amt sql.NullInt64
		)

		if err = rows.Scan(&pay.Direction, &pay.Hash, &pay.Status, &pay.Preimage, &pay.Secret, &amt); err != nil {
			return nil, fmt.Errorf("error scanning payment: %w", err)
		}

		if amt.Valid {
			v := uint64(amt.Int64)
			pay.AmountMsat = &v
		}

		payments = append(payments, pay)
	}

	return payments, rows.Err()
}

// SavePreimage saves a hold invoice preimage if it does not already exist.
func (p *Postgres) SavePreimage(preimage string) error {
	if !util.SingleLine(preimage) {
		return store.ErrInvalidPreimage
	}

	_, err := p.db.Exec(`INSERT INTO invoice_preimages (preimage) VALUES ($1) ON CONFLICT (preimage) DO NOTHING`,
		preimage)
	if err != nil {
		return fmt.Errorf("could not insert preimage in db: %w", err)
	}

	return nil
}

// GetPreimages returns the preimages saved, oldest first.
func (p *Postgres) GetPreimages() ([]string, error) {
	rows, err := p.db.Query(`SELECT preimage FROM invoice_preimages ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("error getting preimages: %w", err)
	}
	defer rows.Close()

	preimages := []string{}

	for rows.Next() {
		var preimage string
		if err = rows.Scan(&preimage); err != nil {
			return nil, fmt.Errorf("error scanning preimage: %w", err)
		}

		preimages = append(preimages, preimage)
	}

	return preimages, rows.Err()
}
