package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/klingon-exchange/fusion-swap-coordinator/internal/swapfsm"
)

// Sqlite is the production Store implementation. Like the teacher's
// storage layer it pins the connection pool to a single writer and relies
// on SQLite's WAL mode for reader concurrency; the in-process mutex guards
// read-modify-write sequences (notably the CAS update helpers) against
// interleaving from goroutines sharing one *Sqlite.
type Sqlite struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds SQLite storage configuration.
type Config struct {
	DataDir string
}

// Open creates (or opens) the SQLite-backed store at cfg.DataDir.
func Open(cfg Config) (*Sqlite, error) {
	dataDir := expandPath(cfg.DataDir)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "swapcoord.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Sqlite{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *Sqlite) Close() error {
	return s.db.Close()
}

func (s *Sqlite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS swaps (
		id TEXT PRIMARY KEY,
		user_address TEXT NOT NULL,
		beneficiary_address TEXT NOT NULL,

		source_chain_id TEXT NOT NULL,
		source_token_id TEXT NOT NULL,
		source_amount INTEGER NOT NULL,

		target_chain_id TEXT NOT NULL,
		target_token_id TEXT NOT NULL,
		target_expected_amount INTEGER NOT NULL,
		target_min_receive_amount INTEGER NOT NULL,

		hash_lock TEXT NOT NULL,
		preimage TEXT NOT NULL,

		user_htlc_id TEXT,
		pool_htlc_id TEXT,

		state TEXT NOT NULL,

		source_funded_at INTEGER,
		destination_funded_at INTEGER,
		user_claimed_at INTEGER,
		pool_claimed_at INTEGER,
		refunded_at INTEGER,
		funding_leased_at INTEGER,

		source_timelock INTEGER NOT NULL,
		destination_timelock INTEGER NOT NULL,

		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,

		network_fee INTEGER NOT NULL DEFAULT 0,
		exchange_fee INTEGER NOT NULL DEFAULT 0,

		error_message TEXT,

		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_swaps_hash_lock ON swaps(hash_lock);
	CREATE INDEX IF NOT EXISTS idx_swaps_state ON swaps(state);
	CREATE INDEX IF NOT EXISTS idx_swaps_user ON swaps(user_address);
	CREATE INDEX IF NOT EXISTS idx_swaps_created ON swaps(created_at);

	CREATE TABLE IF NOT EXISTS pool_liquidity (
		chain_id TEXT NOT NULL,
		token_id TEXT NOT NULL,
		total INTEGER NOT NULL,
		reserved INTEGER NOT NULL,
		available INTEGER NOT NULL,
		min_threshold INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (chain_id, token_id)
	);

	CREATE TABLE IF NOT EXISTS claim_requests (
		id TEXT PRIMARY KEY,
		swap_id TEXT NOT NULL,
		htlc_contract TEXT NOT NULL,
		contract_id TEXT NOT NULL,
		preimage TEXT NOT NULL,
		claimer TEXT NOT NULL,
		max_gas_price INTEGER NOT NULL,
		gas_compensation INTEGER NOT NULL,
		nonce INTEGER NOT NULL,
		deadline INTEGER NOT NULL,
		signature TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		tx_hash TEXT,
		gas_used INTEGER DEFAULT 0,
		error_message TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_claims_claimer_nonce ON claim_requests(claimer, nonce);
	CREATE INDEX IF NOT EXISTS idx_claims_status ON claim_requests(status);
	CREATE INDEX IF NOT EXISTS idx_claims_swap ON claim_requests(swap_id);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		swap_id TEXT NOT NULL,
		type TEXT NOT NULL,
		data TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_swap ON events(swap_id, id);

	CREATE TABLE IF NOT EXISTS claimer_nonces (
		claimer TEXT PRIMARY KEY,
		next_nonce INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS chain_sync_state (
		chain TEXT PRIMARY KEY,
		last_processed_block INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- Swaps ---------------------------------------------------------------

func (s *Sqlite) CreateSwap(ctx context.Context, swap *Swap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	swap.Version = 1
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO swaps (
			id, user_address, beneficiary_address,
			source_chain_id, source_token_id, source_amount,
			target_chain_id, target_token_id, target_expected_amount, target_min_receive_amount,
			hash_lock, preimage, user_htlc_id, pool_htlc_id, state,
			source_funded_at, destination_funded_at, user_claimed_at, pool_claimed_at, refunded_at, funding_leased_at,
			source_timelock, destination_timelock,
			created_at, expires_at, network_fee, exchange_fee, error_message, version
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		swap.ID, swap.UserAddress, swap.BeneficiaryAddress,
		swap.SourceChainID, swap.SourceTokenID, swap.SourceAmount,
		swap.TargetChainID, swap.TargetTokenID, swap.TargetExpectedAmount, swap.TargetMinReceiveAmount,
		hex.EncodeToString(swap.HashLock[:]), hex.EncodeToString(swap.Preimage[:]),
		nullableStr(swap.UserHTLCID), nullableStr(swap.PoolHTLCID), string(swap.State),
		unixOrNil(swap.SourceFundedAt), unixOrNil(swap.DestinationFundedAt), unixOrNil(swap.UserClaimedAt),
		unixOrNil(swap.PoolClaimedAt), unixOrNil(swap.RefundedAt), unixOrNil(swap.FundingLeasedAt),
		swap.SourceTimelock.Unix(), swap.DestinationTimelock.Unix(),
		swap.CreatedAt.Unix(), swap.ExpiresAt.Unix(),
		swap.Fees.NetworkFee, swap.Fees.ExchangeFee, nullableStr(swap.ErrorMessage), swap.Version,
	)
	return err
}

func (s *Sqlite) GetSwap(ctx context.Context, id string) (*Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, swapSelectQuery+" WHERE id = ?", id)
	return scanSwap(row)
}

func (s *Sqlite) GetSwapByHashLock(ctx context.Context, hashLock [32]byte) (*Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, swapSelectQuery+" WHERE hash_lock = ?", hex.EncodeToString(hashLock[:]))
	return scanSwap(row)
}

func (s *Sqlite) UpdateSwapCAS(ctx context.Context, swap *Swap, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE swaps SET
			user_htlc_id = ?, pool_htlc_id = ?, state = ?,
			source_funded_at = ?, destination_funded_at = ?, user_claimed_at = ?,
			pool_claimed_at = ?, refunded_at = ?, funding_leased_at = ?,
			error_message = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		nullableStr(swap.UserHTLCID), nullableStr(swap.PoolHTLCID), string(swap.State),
		unixOrNil(swap.SourceFundedAt), unixOrNil(swap.DestinationFundedAt), unixOrNil(swap.UserClaimedAt),
		unixOrNil(swap.PoolClaimedAt), unixOrNil(swap.RefundedAt), unixOrNil(swap.FundingLeasedAt),
		nullableStr(swap.ErrorMessage), swap.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	swap.Version = expectedVersion + 1
	return nil
}

func (s *Sqlite) ListSwaps(ctx context.Context, filter SwapFilter) ([]*Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := swapSelectQuery + " WHERE 1=1"
	var args []any
	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, string(filter.State))
	}
	if filter.UserAddress != "" {
		query += " AND user_address = ?"
		args = append(args, filter.UserAddress)
	}
	if filter.Chain != "" {
		query += " AND (source_chain_id = ? OR target_chain_id = ?)"
		args = append(args, filter.Chain, filter.Chain)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSwapRows(rows)
}

func (s *Sqlite) ListSwapsByState(ctx context.Context, state swapfsm.State, limit int) ([]*Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := swapSelectQuery + " WHERE state = ? ORDER BY created_at ASC"
	args := []any{string(state)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSwapRows(rows)
}

const swapSelectQuery = `
	SELECT id, user_address, beneficiary_address,
		source_chain_id, source_token_id, source_amount,
		target_chain_id, target_token_id, target_expected_amount, target_min_receive_amount,
		hash_lock, preimage, user_htlc_id, pool_htlc_id, state,
		source_funded_at, destination_funded_at, user_claimed_at, pool_claimed_at, refunded_at, funding_leased_at,
		source_timelock, destination_timelock,
		created_at, expires_at, network_fee, exchange_fee, error_message, version
	FROM swaps`

type scannable interface {
	Scan(dest ...any) error
}

func scanSwap(row scannable) (*Swap, error) {
	var sw Swap
	var hashLockHex, preimageHex string
	var userHTLC, poolHTLC, errMsg sql.NullString
	var sourceFunded, destFunded, userClaimed, poolClaimed, refunded, fundingLeased sql.NullInt64
	var sourceTimelock, destTimelock, createdAt, expiresAt int64

	err := row.Scan(
		&sw.ID, &sw.UserAddress, &sw.BeneficiaryAddress,
		&sw.SourceChainID, &sw.SourceTokenID, &sw.SourceAmount,
		&sw.TargetChainID, &sw.TargetTokenID, &sw.TargetExpectedAmount, &sw.TargetMinReceiveAmount,
		&hashLockHex, &preimageHex, &userHTLC, &poolHTLC, &sw.State,
		&sourceFunded, &destFunded, &userClaimed, &poolClaimed, &refunded, &fundingLeased,
		&sourceTimelock, &destTimelock,
		&createdAt, &expiresAt, &sw.Fees.NetworkFee, &sw.Fees.ExchangeFee, &errMsg, &sw.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	copyHex(hashLockHex, sw.HashLock[:])
	copyHex(preimageHex, sw.Preimage[:])
	sw.UserHTLCID = userHTLC.String
	sw.PoolHTLCID = poolHTLC.String
	sw.ErrorMessage = errMsg.String
	sw.SourceFundedAt = unixOrZero(sourceFunded)
	sw.DestinationFundedAt = unixOrZero(destFunded)
	sw.UserClaimedAt = unixOrZero(userClaimed)
	sw.PoolClaimedAt = unixOrZero(poolClaimed)
	sw.RefundedAt = unixOrZero(refunded)
	sw.FundingLeasedAt = unixOrZero(fundingLeased)
	sw.SourceTimelock = time.Unix(sourceTimelock, 0).UTC()
	sw.DestinationTimelock = time.Unix(destTimelock, 0).UTC()
	sw.CreatedAt = time.Unix(createdAt, 0).UTC()
	sw.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return &sw, nil
}

func scanSwapRows(rows *sql.Rows) ([]*Swap, error) {
	var out []*Swap
	for rows.Next() {
		sw, err := scanSwap(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sw)
	}
	return out, rows.Err()
}

// --- Pool liquidity --------------------------------------------------------

func (s *Sqlite) GetPoolLiquidity(ctx context.Context, chain, token string) (*PoolLiquidity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `
		SELECT chain_id, token_id, total, reserved, available, min_threshold, version
		FROM pool_liquidity WHERE chain_id = ? AND token_id = ?`, chain, token)

	var pl PoolLiquidity
	err := row.Scan(&pl.ChainID, &pl.TokenID, &pl.Total, &pl.Reserved, &pl.Available, &pl.MinThreshold, &pl.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pl, nil
}

func (s *Sqlite) UpsertPoolLiquidity(ctx context.Context, pl *PoolLiquidity, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expectedVersion == 0 {
		pl.Version = 1
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO pool_liquidity (chain_id, token_id, total, reserved, available, min_threshold, version)
			VALUES (?,?,?,?,?,?,?)
			ON CONFLICT(chain_id, token_id) DO NOTHING`,
			pl.ChainID, pl.TokenID, pl.Total, pl.Reserved, pl.Available, pl.MinThreshold, pl.Version)
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE pool_liquidity SET total = ?, reserved = ?, available = ?, min_threshold = ?, version = version + 1
		WHERE chain_id = ? AND token_id = ? AND version = ?`,
		pl.Total, pl.Reserved, pl.Available, pl.MinThreshold, pl.ChainID, pl.TokenID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	pl.Version = expectedVersion + 1
	return nil
}

func (s *Sqlite) ListPoolLiquidity(ctx context.Context) ([]*PoolLiquidity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_id, token_id, total, reserved, available, min_threshold, version FROM pool_liquidity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PoolLiquidity
	for rows.Next() {
		var pl PoolLiquidity
		if err := rows.Scan(&pl.ChainID, &pl.TokenID, &pl.Total, &pl.Reserved, &pl.Available, &pl.MinThreshold, &pl.Version); err != nil {
			return nil, err
		}
		out = append(out, &pl)
	}
	return out, rows.Err()
}

// --- Claim requests --------------------------------------------------------

func (s *Sqlite) CreateClaimRequest(ctx context.Context, cr *ClaimRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cr.CreatedAt, cr.UpdatedAt = now, now
	cr.Version = 1
	if cr.Status == "" {
		cr.Status = ClaimPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO claim_requests (
			id, swap_id, htlc_contract, contract_id, preimage, claimer,
			max_gas_price, gas_compensation, nonce, deadline, signature,
			status, tx_hash, gas_used, error_message, created_at, updated_at, version
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		cr.ID, cr.SwapID, cr.HTLCContract, hex.EncodeToString(cr.ContractID[:]), hex.EncodeToString(cr.Preimage[:]), cr.Claimer,
		cr.MaxGasPrice, cr.GasCompensation, cr.Nonce, cr.Deadline.Unix(), hex.EncodeToString(cr.Signature),
		string(cr.Status), nullableStr(cr.TxHash), cr.GasUsed, nullableStr(cr.ErrorMessage), cr.CreatedAt.Unix(), cr.UpdatedAt.Unix(), cr.Version,
	)
	return err
}

const claimSelectQuery = `
	SELECT id, swap_id, htlc_contract, contract_id, preimage, claimer,
		max_gas_price, gas_compensation, nonce, deadline, signature,
		status, tx_hash, gas_used, error_message, created_at, updated_at, version
	FROM claim_requests`

func (s *Sqlite) GetClaimRequest(ctx context.Context, id string) (*ClaimRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, claimSelectQuery+" WHERE id = ?", id)
	return scanClaimRequest(row)
}

func (s *Sqlite) UpdateClaimRequestCAS(ctx context.Context, cr *ClaimRequest, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cr.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE claim_requests SET status = ?, tx_hash = ?, gas_used = ?, error_message = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(cr.Status), nullableStr(cr.TxHash), cr.GasUsed, nullableStr(cr.ErrorMessage), cr.UpdatedAt.Unix(), cr.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrVersionConflict
	}
	cr.Version = expectedVersion + 1
	return nil
}

func (s *Sqlite) ListClaimRequestsByStatus(ctx context.Context, status ClaimStatus, limit int) ([]*ClaimRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, claimSelectQuery+" WHERE status = ? ORDER BY created_at ASC LIMIT ?", string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ClaimRequest
	for rows.Next() {
		cr, err := scanClaimRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

func scanClaimRequest(row scannable) (*ClaimRequest, error) {
	var cr ClaimRequest
	var contractIDHex, preimageHex, sigHex string
	var txHash, errMsg sql.NullString
	var deadline, createdAt, updatedAt int64

	err := row.Scan(
		&cr.ID, &cr.SwapID, &cr.HTLCContract, &contractIDHex, &preimageHex, &cr.Claimer,
		&cr.MaxGasPrice, &cr.GasCompensation, &cr.Nonce, &deadline, &sigHex,
		&cr.Status, &txHash, &cr.GasUsed, &errMsg, &createdAt, &updatedAt, &cr.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	copyHex(contractIDHex, cr.ContractID[:])
	copyHex(preimageHex, cr.Preimage[:])
	cr.Signature, _ = hex.DecodeString(sigHex)
	cr.TxHash = txHash.String
	cr.ErrorMessage = errMsg.String
	cr.Deadline = time.Unix(deadline, 0).UTC()
	cr.CreatedAt = time.Unix(createdAt, 0).UTC()
	cr.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &cr, nil
}

// --- Nonces & rate limiting -------------------------------------------------

func (s *Sqlite) NextNonce(ctx context.Context, claimer string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var next uint64
	err := s.db.QueryRowContext(ctx, `SELECT next_nonce FROM claimer_nonces WHERE claimer = ?`, claimer).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return next, err
}

func (s *Sqlite) ConsumeNonce(ctx context.Context, claimer string, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO claimer_nonces (claimer, next_nonce) VALUES (?, ?)
		ON CONFLICT(claimer) DO UPDATE SET next_nonce = excluded.next_nonce`, claimer, nonce+1)
	return err
}

func (s *Sqlite) HasNonce(ctx context.Context, claimer string, nonce uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM claim_requests WHERE claimer = ? AND nonce = ?`, claimer, nonce).Scan(&count)
	return count > 0, err
}

func (s *Sqlite) CountCompletedClaimsSince(ctx context.Context, claimer string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	var err error
	if claimer == "" {
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM claim_requests WHERE status = 'COMPLETED' AND updated_at >= ?`, since.Unix()).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM claim_requests WHERE status = 'COMPLETED' AND claimer = ? AND updated_at >= ?`, claimer, since.Unix()).Scan(&count)
	}
	return count, err
}

// --- Events ------------------------------------------------------------

func (s *Sqlite) AppendEvent(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (swap_id, type, data, timestamp) VALUES (?, ?, ?, ?)`,
		ev.SwapID, ev.Type, string(ev.Data), ev.Timestamp.Unix())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ev.ID = fmt.Sprintf("%d", id)
	return nil
}

func (s *Sqlite) ListEventsAfter(ctx context.Context, swapID, afterID string, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	after := int64(0)
	if afterID != "" {
		fmt.Sscanf(afterID, "%d", &after)
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, swap_id, type, data, timestamp FROM events
		WHERE swap_id = ? AND id > ? ORDER BY id ASC LIMIT ?`, swapID, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var ev Event
		var id, ts int64
		var data string
		if err := rows.Scan(&id, &ev.SwapID, &ev.Type, &data, &ts); err != nil {
			return nil, err
		}
		ev.ID = fmt.Sprintf("%d", id)
		ev.Data = []byte(data)
		ev.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *Sqlite) ListEventsSince(ctx context.Context, afterID string, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	after := int64(0)
	if afterID != "" {
		fmt.Sscanf(afterID, "%d", &after)
	}
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, swap_id, type, data, timestamp FROM events
		WHERE id > ? ORDER BY id ASC LIMIT ?`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var ev Event
		var id, ts int64
		var data string
		if err := rows.Scan(&id, &ev.SwapID, &ev.Type, &data, &ts); err != nil {
			return nil, err
		}
		ev.ID = fmt.Sprintf("%d", id)
		ev.Data = []byte(data)
		ev.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// --- Chain sync state --------------------------------------------------

func (s *Sqlite) GetLastProcessedBlock(ctx context.Context, chain string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var block uint64
	err := s.db.QueryRowContext(ctx, `SELECT last_processed_block FROM chain_sync_state WHERE chain = ?`, chain).Scan(&block)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return block, err
}

func (s *Sqlite) SetLastProcessedBlock(ctx context.Context, chain string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chain_sync_state (chain, last_processed_block) VALUES (?, ?)
		ON CONFLICT(chain) DO UPDATE SET last_processed_block = excluded.last_processed_block`, chain, block)
	return err
}

// --- helpers -------------------------------------------------------------

func nullableStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func unixOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func unixOrZero(n sql.NullInt64) time.Time {
	if !n.Valid || n.Int64 == 0 {
		return time.Time{}
	}
	return time.Unix(n.Int64, 0).UTC()
}

func copyHex(s string, dst []byte) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return
	}
	copy(dst, b)
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
