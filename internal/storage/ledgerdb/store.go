// Package ledgerdb is a local sqlite ledger for executed funding offers.
package ledgerdb

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

const defaultDBPath = "data/ledger.db"

// Store implements the ledger backend on sqlite. Upsert is atomic on the
// offer id unique key.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		path = defaultDBPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "mkdir ledger dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS accounts (
  id TEXT PRIMARY KEY,
  created_at TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS funding_offers (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  offer_id TEXT NOT NULL UNIQUE,
  account_id TEXT NOT NULL,
  amount TEXT NOT NULL,
  rate TEXT NOT NULL,
  period INTEGER NOT NULL,
  status TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_funding_offers_account ON funding_offers(account_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate ledger")
		}
	}
	return nil
}

// Account registers the account id on first use and returns it.
func (s *Store) Account(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", errors.New("account id is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts(id, created_at) VALUES(?, ?) ON CONFLICT(id) DO NOTHING`,
		id, s.stamp())
	if err != nil {
		return "", errors.Wrap(err, "register ledger account")
	}
	return id, nil
}

func (s *Store) FindByOfferID(ctx context.Context, offerID string) (*domain.LedgerRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, offer_id, account_id, amount, rate, period, status FROM funding_offers WHERE offer_id = ?`,
		offerID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) Create(ctx context.Context, rec domain.LedgerRecord) (domain.LedgerRecord, error) {
	now := s.stamp()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO funding_offers(offer_id, account_id, amount, rate, period, status, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.OfferID, rec.AccountID, rec.Amount.String(), rec.Rate.String(), rec.Period, rec.Status, now, now)
	if err != nil {
		return domain.LedgerRecord{}, errors.Wrap(err, "insert funding offer")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.LedgerRecord{}, errors.Wrap(err, "read inserted id")
	}
	rec.ID = strconv.FormatInt(id, 10)
	return rec, nil
}

func (s *Store) Update(ctx context.Context, id string, rec domain.LedgerRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE funding_offers SET offer_id = ?, account_id = ?, amount = ?, rate = ?, period = ?, status = ?, updated_at = ?
WHERE id = ?`,
		rec.OfferID, rec.AccountID, rec.Amount.String(), rec.Rate.String(), rec.Period, rec.Status, s.stamp(), id)
	if err != nil {
		return errors.Wrap(err, "update funding offer")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("funding offer record %s not found", id)
	}
	return nil
}

// Upsert creates or updates the record for rec.OfferID in one statement.
func (s *Store) Upsert(ctx context.Context, rec domain.LedgerRecord) error {
	now := s.stamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO funding_offers(offer_id, account_id, amount, rate, period, status, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(offer_id) DO UPDATE SET
  account_id = excluded.account_id,
  amount = excluded.amount,
  rate = excluded.rate,
  period = excluded.period,
  status = excluded.status,
  updated_at = excluded.updated_at`,
		rec.OfferID, rec.AccountID, rec.Amount.String(), rec.Rate.String(), rec.Period, rec.Status, now, now)
	if err != nil {
		return errors.Wrap(err, "upsert funding offer")
	}
	return nil
}

// List returns the account's records ordered by ledger id.
func (s *Store) List(ctx context.Context, accountID string) ([]domain.LedgerRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, offer_id, account_id, amount, rate, period, status FROM funding_offers WHERE account_id = ? ORDER BY id`,
		accountID)
	if err != nil {
		return nil, errors.Wrap(err, "list funding offers")
	}
	defer rows.Close()

	var out []domain.LedgerRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.LedgerRecord, error) {
	var (
		id             int64
		amount, rateTx string
		rec            domain.LedgerRecord
	)
	if err := row.Scan(&id, &rec.OfferID, &rec.AccountID, &amount, &rateTx, &rec.Period, &rec.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan funding offer")
	}

	var err error
	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, errors.Wrapf(err, "parse amount %q", amount)
	}
	if rec.Rate, err = decimal.NewFromString(rateTx); err != nil {
		return nil, errors.Wrapf(err, "parse rate %q", rateTx)
	}
	rec.ID = strconv.FormatInt(id, 10)
	return &rec, nil
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}
