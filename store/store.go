package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spire-labs/poc-monorepo/messages"
)

//go:embed schema.sql
var schema string

const ChallengeTTL = 5 * time.Minute

var (
	ErrNotFound         = errors.New("not found")
	ErrDuplicate        = errors.New("already exists")
	ErrChallengeExpired = errors.New("challenge expired")
)

func key(addr common.Address) string { return strings.ToLower(addr.Hex()) }

// Store keeps the gateway's preconfirmation statuses, commitments,
// registered enforcers and outstanding registration challenges in Postgres.
type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second
	return pgxpool.NewWithConfig(ctx, cfg)
}

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, schema)
	return err
}

func (s *Store) InsertStatus(ctx context.Context, txHash common.Hash, status messages.PreconfStatus) error {
	tag, err := s.DB.Exec(ctx, `INSERT INTO preconf_status(tx_hash,status) VALUES($1,$2) ON CONFLICT (tx_hash) DO NOTHING`,
		txHash.Hex(), string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, txHash common.Hash, status messages.PreconfStatus) error {
	tag, err := s.DB.Exec(ctx, `UPDATE preconf_status SET status=$2, updated_at=now() WHERE tx_hash=$1`,
		txHash.Hex(), string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetStatus(ctx context.Context, txHash common.Hash) (messages.PreconfStatus, error) {
	var status string
	err := s.DB.QueryRow(ctx, `SELECT status FROM preconf_status WHERE tx_hash=$1`, txHash.Hex()).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return messages.PreconfStatus(status), err
}

func (s *Store) SaveCommitment(ctx context.Context, c messages.PreconfirmationCommitment) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(ctx, `INSERT INTO preconf_commitment(tx_hash,commitment,signer,block_number,status) VALUES($1,$2,$3,$4,$5)
		ON CONFLICT (tx_hash) DO UPDATE SET commitment=EXCLUDED.commitment, signer=EXCLUDED.signer, block_number=EXCLUDED.block_number, status=EXCLUDED.status`,
		c.PreconfirmationRequest.Transaction.Hash.Hex(), string(raw), key(c.Signer), int64(c.BlockNumber), string(messages.StatusApproved))
	return err
}

func (s *Store) GetCommitment(ctx context.Context, txHash common.Hash) (messages.PreconfirmationCommitment, error) {
	var c messages.PreconfirmationCommitment
	var raw string
	err := s.DB.QueryRow(ctx, `SELECT commitment FROM preconf_commitment WHERE tx_hash=$1`, txHash.Hex()).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	err = json.Unmarshal([]byte(raw), &c)
	return c, err
}

func (s *Store) PutEnforcer(ctx context.Context, m messages.EnforcerMetadata) error {
	contracts := make([]string, 0, len(m.PreconfContracts))
	for _, c := range m.PreconfContracts {
		contracts = append(contracts, key(c))
	}
	_, err := s.DB.Exec(ctx, `INSERT INTO enforcer_metadata(address,name,pre_conf_contracts,url) VALUES($1,$2,$3,$4)
		ON CONFLICT (address) DO UPDATE SET name=EXCLUDED.name, pre_conf_contracts=EXCLUDED.pre_conf_contracts, url=EXCLUDED.url`,
		key(m.Address), m.Name, contracts, m.URL)
	return err
}

func (s *Store) GetEnforcer(ctx context.Context, addr common.Address) (messages.EnforcerMetadata, error) {
	row := s.DB.QueryRow(ctx, `SELECT address,name,pre_conf_contracts,url FROM enforcer_metadata WHERE address=$1`, key(addr))
	m, err := scanEnforcer(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, ErrNotFound
	}
	return m, err
}

func (s *Store) ListEnforcers(ctx context.Context) ([]messages.EnforcerMetadata, error) {
	rows, err := s.DB.Query(ctx, `SELECT address,name,pre_conf_contracts,url FROM enforcer_metadata ORDER BY address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []messages.EnforcerMetadata{}
	for rows.Next() {
		m, err := scanEnforcer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanEnforcer(row pgx.Row) (messages.EnforcerMetadata, error) {
	var m messages.EnforcerMetadata
	var addr string
	var contracts []string
	if err := row.Scan(&addr, &m.Name, &contracts, &m.URL); err != nil {
		return m, err
	}
	m.Address = common.HexToAddress(addr)
	for _, c := range contracts {
		m.PreconfContracts = append(m.PreconfContracts, common.HexToAddress(c))
	}
	return m, nil
}

func (s *Store) CreateChallenge(ctx context.Context, challenge string) error {
	_, err := s.DB.Exec(ctx, `INSERT INTO challenge(challenge) VALUES($1)`, challenge)
	return err
}

// ConsumeChallenge deletes challenge so it can be answered only once.
func (s *Store) ConsumeChallenge(ctx context.Context, challenge string) error {
	var created time.Time
	err := s.DB.QueryRow(ctx, `DELETE FROM challenge WHERE challenge=$1 RETURNING created_at`, challenge).Scan(&created)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if time.Since(created) > ChallengeTTL {
		return ErrChallengeExpired
	}
	return nil
}
