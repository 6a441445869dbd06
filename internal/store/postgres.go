package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wagerproto/wager-engine/internal/checked"
	"github.com/wagerproto/wager-engine/internal/ledger"
	"github.com/wagerproto/wager-engine/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All amounts are stored as NUMERIC(20,0) so the full u64 range round-trips.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Migrate applies the embedded migrations in lexicographic order and records
// them in schema_migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		var applied bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, name).
			Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied {
			continue
		}
		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(data)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// --- Reads ---

func (s *PostgresStore) GetProtocol(ctx context.Context) (*model.ProtocolConfig, error) {
	return getProtocol(ctx, s.pool, false)
}

func (s *PostgresStore) GetMarket(ctx context.Context, id uint64) (*model.Market, error) {
	return getMarket(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+marketColumns+` FROM markets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) GetPosition(ctx context.Context, key model.PositionKey) (*model.Position, error) {
	return getPosition(ctx, s.pool, key, false)
}

func (s *PostgresStore) ListPositions(ctx context.Context, marketID uint64) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE market_id = $1 ORDER BY id`, int64(marketID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *PostgresStore) ListUserPositions(ctx context.Context, user string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE user_id = $1 ORDER BY market_id, id`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func (s *PostgresStore) Balance(ctx context.Context, account model.Account) (uint64, error) {
	var amount string
	err := s.pool.QueryRow(ctx,
		`SELECT amount::TEXT FROM balances WHERE account = $1`, string(account)).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("balance %s: %w", account, err)
	}
	return parseAmount(amount)
}

func (s *PostgresStore) Transfers(ctx context.Context, account model.Account) ([]ledger.Transfer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, from_account, to_account, amount::TEXT, authority, kind, market_id, at
		 FROM transfers WHERE from_account = $1 OR to_account = $1 ORDER BY at, id`, string(account))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ledger.Transfer
	for rows.Next() {
		var t ledger.Transfer
		var id, from, to, amount string
		var marketID int64
		if err := rows.Scan(&id, &from, &to, &amount, &t.Authority, &t.Kind, &marketID, &t.At); err != nil {
			return nil, err
		}
		if t.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if t.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		t.From, t.To, t.MarketID = model.Account(from), model.Account(to), uint64(marketID)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Credit(ctx context.Context, account model.Account, amount uint64) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if amount == 0 {
			return model.ErrInvalidAmount
		}
		t := &pgTx{tx: tx}
		current, err := t.lockBalance(ctx, account)
		if err != nil {
			return err
		}
		next, err := checked.Add(current, amount)
		if err != nil {
			return fmt.Errorf("credit %s: %w", account, err)
		}
		if err := t.setBalance(ctx, account, next); err != nil {
			return err
		}
		tr := ledger.Transfer{To: account, Amount: amount, Kind: ledger.KindDeposit}
		ledger.Stamp(&tr, time.Now())
		return t.journal(ctx, tr)
	})
}

// InTx runs fn inside a single PostgreSQL transaction. Rows touched through
// the Tx are locked with SELECT ... FOR UPDATE until commit.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

// pgTx implements Tx over a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Protocol(ctx context.Context) (*model.ProtocolConfig, error) {
	return getProtocol(ctx, t.tx, false)
}

func (t *pgTx) ProtocolForUpdate(ctx context.Context) (*model.ProtocolConfig, error) {
	return getProtocol(ctx, t.tx, true)
}

func (t *pgTx) SaveProtocol(ctx context.Context, cfg *model.ProtocolConfig) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO protocol (id, authority, fee_recipient, dev_recipient,
		                       protocol_fee_bps, cancel_fee_bps, amm_fee_bps, market_count)
		 VALUES (1, $1, $2, $3, $4, $5, $6, $7::NUMERIC)
		 ON CONFLICT (id) DO UPDATE SET market_count = EXCLUDED.market_count`,
		cfg.Authority, cfg.FeeRecipient, cfg.DevRecipient,
		int32(cfg.ProtocolFeeBps), int32(cfg.CancelFeeBps), int32(cfg.AMMFeeBps),
		amountArg(cfg.MarketCount),
	)
	return err
}

func (t *pgTx) Market(ctx context.Context, id uint64) (*model.Market, error) {
	return getMarket(ctx, t.tx, id, true)
}

func (t *pgTx) InsertMarket(ctx context.Context, m *model.Market) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO markets (id, creator, question, outcome_0, outcome_1, end_time, resolved,
		                      winning_outcome, total_volume, pool_0, pool_1, position_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12::NUMERIC, $13)`,
		int64(m.ID), m.Creator, m.Question, m.Outcomes[0], m.Outcomes[1], m.EndTime, m.Resolved,
		winningArg(m.WinningOutcome), amountArg(m.TotalVolume),
		amountArg(m.OutcomePools[0]), amountArg(m.OutcomePools[1]), amountArg(m.PositionCount),
		m.CreatedAt,
	)
	return err
}

func (t *pgTx) UpdateMarket(ctx context.Context, m *model.Market) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE markets
		 SET resolved = $2, winning_outcome = $3, total_volume = $4::NUMERIC,
		     pool_0 = $5::NUMERIC, pool_1 = $6::NUMERIC, position_count = $7::NUMERIC
		 WHERE id = $1`,
		int64(m.ID), m.Resolved, winningArg(m.WinningOutcome), amountArg(m.TotalVolume),
		amountArg(m.OutcomePools[0]), amountArg(m.OutcomePools[1]), amountArg(m.PositionCount),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("market %d: %w", m.ID, model.ErrMarketNotFound)
	}
	return nil
}

func (t *pgTx) Position(ctx context.Context, key model.PositionKey) (*model.Position, error) {
	return getPosition(ctx, t.tx, key, true)
}

func (t *pgTx) InsertPosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (user_id, market_id, id, outcome, amount, claimed, ts)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
		p.User, int64(p.MarketID), int64(p.ID), int16(p.Outcome), amountArg(p.Amount), p.Claimed, p.TS,
	)
	return err
}

func (t *pgTx) UpdatePosition(ctx context.Context, p *model.Position) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE positions SET amount = $4::NUMERIC, claimed = $5, ts = $6
		 WHERE user_id = $1 AND market_id = $2 AND id = $3`,
		p.User, int64(p.MarketID), int64(p.ID), amountArg(p.Amount), p.Claimed, p.TS,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s: %w", p.Key(), model.ErrPositionNotFound)
	}
	return nil
}

func (t *pgTx) Balance(ctx context.Context, account model.Account) (uint64, error) {
	return t.lockBalance(ctx, account)
}

// Transfer locks both balance rows in account order, applies the move and
// appends it to the journal.
func (t *pgTx) Transfer(ctx context.Context, tr ledger.Transfer) error {
	accounts := []model.Account{tr.From, tr.To}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })

	balances := make(map[model.Account]uint64, 2)
	for _, a := range accounts {
		if _, seen := balances[a]; seen {
			continue
		}
		bal, err := t.lockBalance(ctx, a)
		if err != nil {
			return err
		}
		balances[a] = bal
	}

	from, to, err := ledger.Move(tr, balances[tr.From], balances[tr.To])
	if err != nil {
		return err
	}
	if err := t.setBalance(ctx, tr.From, from); err != nil {
		return err
	}
	if err := t.setBalance(ctx, tr.To, to); err != nil {
		return err
	}
	ledger.Stamp(&tr, time.Now())
	return t.journal(ctx, tr)
}

func (t *pgTx) lockBalance(ctx context.Context, account model.Account) (uint64, error) {
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO balances (account, amount) VALUES ($1, 0) ON CONFLICT (account) DO NOTHING`,
		string(account)); err != nil {
		return 0, fmt.Errorf("open balance %s: %w", account, err)
	}
	var amount string
	if err := t.tx.QueryRow(ctx,
		`SELECT amount::TEXT FROM balances WHERE account = $1 FOR UPDATE`, string(account)).
		Scan(&amount); err != nil {
		return 0, fmt.Errorf("lock balance %s: %w", account, err)
	}
	return parseAmount(amount)
}

func (t *pgTx) setBalance(ctx context.Context, account model.Account, amount uint64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE balances SET amount = $2::NUMERIC WHERE account = $1`, string(account), amountArg(amount))
	return err
}

func (t *pgTx) journal(ctx context.Context, tr ledger.Transfer) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transfers (id, from_account, to_account, amount, authority, kind, market_id, at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8)`,
		tr.ID.String(), string(tr.From), string(tr.To), amountArg(tr.Amount),
		tr.Authority, tr.Kind, int64(tr.MarketID), tr.At,
	)
	return err
}

// --- Shared row helpers ---

const marketColumns = `id, creator, question, outcome_0, outcome_1, end_time, resolved, winning_outcome,
	total_volume::TEXT, pool_0::TEXT, pool_1::TEXT, position_count::TEXT, created_at`

const positionColumns = `user_id, market_id, id, outcome, amount::TEXT, claimed, ts`

func getProtocol(ctx context.Context, q querier, lock bool) (*model.ProtocolConfig, error) {
	sql := `SELECT authority, fee_recipient, dev_recipient, protocol_fee_bps, cancel_fee_bps,
	               amm_fee_bps, market_count::TEXT
	        FROM protocol WHERE id = 1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var cfg model.ProtocolConfig
	var protocolBps, cancelBps, ammBps int32
	var count string
	err := q.QueryRow(ctx, sql).Scan(&cfg.Authority, &cfg.FeeRecipient, &cfg.DevRecipient,
		&protocolBps, &cancelBps, &ammBps, &count)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrProtocolNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("get protocol: %w", err)
	}
	cfg.ProtocolFeeBps, cfg.CancelFeeBps, cfg.AMMFeeBps = uint16(protocolBps), uint16(cancelBps), uint16(ammBps)
	if cfg.MarketCount, err = parseAmount(count); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func getMarket(ctx context.Context, q querier, id uint64, lock bool) (*model.Market, error) {
	sql := `SELECT ` + marketColumns + ` FROM markets WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	m, err := scanMarket(q.QueryRow(ctx, sql, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %d: %w", id, model.ErrMarketNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %d: %w", id, err)
	}
	return m, nil
}

func getPosition(ctx context.Context, q querier, key model.PositionKey, lock bool) (*model.Position, error) {
	sql := `SELECT ` + positionColumns + ` FROM positions WHERE user_id = $1 AND market_id = $2 AND id = $3`
	if lock {
		sql += ` FOR UPDATE`
	}
	p, err := scanPosition(q.QueryRow(ctx, sql, key.User, int64(key.MarketID), int64(key.ID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %s: %w", key, model.ErrPositionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", key, err)
	}
	return p, nil
}

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var id int64
	var winning *int16
	var volume, pool0, pool1, count string

	if err := row.Scan(&id, &m.Creator, &m.Question, &m.Outcomes[0], &m.Outcomes[1],
		&m.EndTime, &m.Resolved, &winning,
		&volume, &pool0, &pool1, &count, &m.CreatedAt); err != nil {
		return nil, err
	}

	m.ID = uint64(id)
	if winning != nil {
		w := uint8(*winning)
		m.WinningOutcome = &w
	}
	var err error
	if m.TotalVolume, err = parseAmount(volume); err != nil {
		return nil, err
	}
	if m.OutcomePools[0], err = parseAmount(pool0); err != nil {
		return nil, err
	}
	if m.OutcomePools[1], err = parseAmount(pool1); err != nil {
		return nil, err
	}
	if m.PositionCount, err = parseAmount(count); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var marketID, id int64
	var outcome int16
	var amount string

	if err := row.Scan(&p.User, &marketID, &id, &outcome, &amount, &p.Claimed, &p.TS); err != nil {
		return nil, err
	}
	p.MarketID, p.ID, p.Outcome = uint64(marketID), uint64(id), uint8(outcome)
	var err error
	if p.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func amountArg(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func parseAmount(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: stored amount %q", model.ErrAmountOverflow, s)
	}
	return v, nil
}

func winningArg(w *uint8) *int16 {
	if w == nil {
		return nil
	}
	v := int16(*w)
	return &v
}
