package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CodeUnit7/Isiziba/core"
)

// SQLiteStore is a core.Store backed by a single SQLite database. Suited to
// single-node deployments; the reputation ledger leans on SQLite
// transactions for its check-then-write-marker atomicity.
type SQLiteStore struct {
	db   *sql.DB
	feed *changeFeed
}

// NewSQLiteStore opens (or creates) the database at path and runs schema
// migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &SQLiteStore{db: db, feed: newChangeFeed(changeBuffer)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS agents (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    name TEXT NOT NULL,
    category TEXT,
    credential TEXT NOT NULL,
    reputation REAL NOT NULL,
    tx_count INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    UNIQUE (name, type)
);
CREATE INDEX IF NOT EXISTS idx_agents_credential ON agents(credential);

CREATE TABLE IF NOT EXISTS market_items (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    product TEXT NOT NULL,
    price REAL NOT NULL,
    quantity INTEGER NOT NULL,
    category TEXT,
    currency TEXT,
    sender_id TEXT NOT NULL,
    counterpart_id TEXT NOT NULL,
    agent_name TEXT,
    status TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    valid_until INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_valid_until ON market_items(valid_until);

CREATE TABLE IF NOT EXISTS proposals (
    negotiation_id TEXT NOT NULL,
    offer_id TEXT NOT NULL,
    product TEXT,
    sender_id TEXT NOT NULL,
    receiver_id TEXT NOT NULL,
    action TEXT NOT NULL,
    price REAL NOT NULL,
    quantity INTEGER NOT NULL,
    reasoning TEXT,
    ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proposals_negotiation ON proposals(negotiation_id);

CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    negotiation_id TEXT NOT NULL,
    buyer_id TEXT NOT NULL,
    seller_id TEXT NOT NULL,
    amount REAL NOT NULL,
    quantity INTEGER NOT NULL,
    product TEXT,
    offer_id TEXT,
    status TEXT NOT NULL,
    reasoning TEXT,
    ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_negotiation ON transactions(negotiation_id);

CREATE TABLE IF NOT EXISTS reputation_history (
    record_id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    reputation REAL NOT NULL,
    delta REAL NOT NULL,
    ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reputation_agent ON reputation_history(agent_id);

CREATE TABLE IF NOT EXISTS feedback_reports (
    negotiation_id TEXT NOT NULL,
    involved_agents TEXT NOT NULL,
    buyer_feedback TEXT,
    seller_feedback TEXT,
    strategy_score INTEGER,
    product TEXT,
    price REAL,
    transaction_id TEXT,
    ts INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS user_feedback (
    negotiation_id TEXT NOT NULL,
    rating INTEGER NOT NULL,
    comment TEXT,
    user_id TEXT,
    ts INTEGER NOT NULL
);
`
	_, err := s.db.Exec(schema)
	return err
}

// PutAgent inserts or replaces an agent record.
func (s *SQLiteStore) PutAgent(ctx context.Context, agent *core.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO agents (id, type, name, category, credential, reputation, tx_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, string(agent.Type), agent.Name, agent.Category, agent.Credential,
		agent.Reputation, agent.TransactionCount, agent.CreatedAt.UnixNano())
	if err != nil {
		return &core.TransientInfraError{Op: "put agent", Err: err}
	}
	return nil
}

func scanAgent(row interface{ Scan(...any) error }) (*core.Agent, error) {
	var a core.Agent
	var typ string
	var createdAt int64
	if err := row.Scan(&a.ID, &typ, &a.Name, &a.Category, &a.Credential, &a.Reputation, &a.TransactionCount, &createdAt); err != nil {
		return nil, err
	}
	a.Type = core.AgentType(typ)
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	return &a, nil
}

const agentColumns = "id, type, name, category, credential, reputation, tx_count, created_at"

// GetAgent returns the agent by id or core.ErrAgentNotFound.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*core.Agent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+agentColumns+" FROM agents WHERE id = ?", id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrAgentNotFound
	}
	if err != nil {
		return nil, &core.TransientInfraError{Op: "get agent", Err: err}
	}
	return a, nil
}

// FindAgentByCredential returns the agent holding the credential.
func (s *SQLiteStore) FindAgentByCredential(ctx context.Context, credential string) (*core.Agent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+agentColumns+" FROM agents WHERE credential = ? LIMIT 1", credential)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrAgentNotFound
	}
	if err != nil {
		return nil, &core.TransientInfraError{Op: "find agent by credential", Err: err}
	}
	return a, nil
}

// FindAgentByNameType returns the agent registered under (name, type).
func (s *SQLiteStore) FindAgentByNameType(ctx context.Context, name string, t core.AgentType) (*core.Agent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+agentColumns+" FROM agents WHERE name = ? AND type = ? LIMIT 1", name, string(t))
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrAgentNotFound
	}
	if err != nil {
		return nil, &core.TransientInfraError{Op: "find agent by name", Err: err}
	}
	return a, nil
}

// ListAgents returns the full agent directory.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]core.Agent, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+agentColumns+" FROM agents ORDER BY created_at")
	if err != nil {
		return nil, &core.TransientInfraError{Op: "list agents", Err: err}
	}
	defer rows.Close()
	var out []core.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, &core.TransientInfraError{Op: "list agents", Err: err}
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ApplyReputation runs the check-then-write-marker sequence inside one SQL
// transaction: existence check on the composite record, score read, score
// write, marker insert. A redelivered completion finds the marker and is a
// no-op.
func (s *SQLiteStore) ApplyReputation(ctx context.Context, agentID string, delta float64, transactionID string) (bool, core.ReputationRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, core.ReputationRecord{}, &core.TransientInfraError{Op: "begin reputation tx", Err: err}
	}
	defer tx.Rollback()

	recordID := core.ReputationRecordID(agentID, transactionID)

	var existing core.ReputationRecord
	var ts int64
	err = tx.QueryRowContext(ctx,
		"SELECT agent_id, transaction_id, reputation, delta, ts FROM reputation_history WHERE record_id = ?", recordID).
		Scan(&existing.AgentID, &existing.TransactionID, &existing.Reputation, &existing.Delta, &ts)
	if err == nil {
		existing.Timestamp = time.Unix(0, ts).UTC()
		return false, existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, core.ReputationRecord{}, &core.TransientInfraError{Op: "reputation idempotency check", Err: err}
	}

	var reputation float64
	var count int
	err = tx.QueryRowContext(ctx, "SELECT reputation, tx_count FROM agents WHERE id = ?", agentID).Scan(&reputation, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return false, core.ReputationRecord{}, core.ErrAgentNotFound
	}
	if err != nil {
		return false, core.ReputationRecord{}, &core.TransientInfraError{Op: "read agent score", Err: err}
	}

	rec := core.ReputationRecord{
		AgentID:       agentID,
		TransactionID: transactionID,
		Reputation:    reputation + delta,
		Delta:         delta,
		Timestamp:     time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, "UPDATE agents SET reputation = ?, tx_count = ? WHERE id = ?", rec.Reputation, count+1, agentID); err != nil {
		return false, core.ReputationRecord{}, &core.TransientInfraError{Op: "write agent score", Err: err}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO reputation_history (record_id, agent_id, transaction_id, reputation, delta, ts) VALUES (?, ?, ?, ?, ?, ?)",
		recordID, agentID, transactionID, rec.Reputation, delta, rec.Timestamp.UnixNano()); err != nil {
		return false, core.ReputationRecord{}, &core.TransientInfraError{Op: "write reputation marker", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return false, core.ReputationRecord{}, &core.TransientInfraError{Op: "commit reputation tx", Err: err}
	}
	return true, rec, nil
}

// ReputationHistory returns an agent's records ordered by time.
func (s *SQLiteStore) ReputationHistory(ctx context.Context, agentID string) ([]core.ReputationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT agent_id, transaction_id, reputation, delta, ts FROM reputation_history WHERE agent_id = ? ORDER BY ts", agentID)
	if err != nil {
		return nil, &core.TransientInfraError{Op: "reputation history", Err: err}
	}
	defer rows.Close()
	var out []core.ReputationRecord
	for rows.Next() {
		var rec core.ReputationRecord
		var ts int64
		if err := rows.Scan(&rec.AgentID, &rec.TransactionID, &rec.Reputation, &rec.Delta, &ts); err != nil {
			return nil, &core.TransientInfraError{Op: "reputation history", Err: err}
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

const itemColumns = "id, kind, product, price, quantity, category, currency, sender_id, counterpart_id, agent_name, status, created_at, valid_until"

// PutItem inserts or replaces a market item. Offer writes surface on the
// change feed.
func (s *SQLiteStore) PutItem(ctx context.Context, item core.MarketItem) error {
	var existed bool
	if err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM market_items WHERE id = ?)", item.ID).Scan(&existed); err != nil {
		return &core.TransientInfraError{Op: "put item", Err: err}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO market_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.Kind), item.Product, item.Price, item.Quantity, item.Category,
		item.Currency, item.SenderID, item.CounterpartID, item.AgentName, item.Status,
		item.CreatedAt.UnixNano(), item.ValidUntil.UnixNano())
	if err != nil {
		return &core.TransientInfraError{Op: "put item", Err: err}
	}
	if item.Kind == core.ItemKindOffer {
		kind := core.ChangeAdded
		if existed {
			kind = core.ChangeModified
		}
		s.feed.emit(core.Change{Collection: core.CollectionOffers, Kind: kind, Data: item})
	}
	return nil
}

func scanItem(row interface{ Scan(...any) error }) (*core.MarketItem, error) {
	var item core.MarketItem
	var kind string
	var createdAt, validUntil int64
	if err := row.Scan(&item.ID, &kind, &item.Product, &item.Price, &item.Quantity, &item.Category,
		&item.Currency, &item.SenderID, &item.CounterpartID, &item.AgentName, &item.Status,
		&createdAt, &validUntil); err != nil {
		return nil, err
	}
	item.Kind = core.ItemKind(kind)
	item.CreatedAt = time.Unix(0, createdAt).UTC()
	item.ValidUntil = time.Unix(0, validUntil).UTC()
	return &item, nil
}

// GetOffer returns an offer by id or core.ErrOfferNotFound.
func (s *SQLiteStore) GetOffer(ctx context.Context, id string) (*core.MarketItem, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM market_items WHERE id = ? AND kind = ?", id, string(core.ItemKindOffer))
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrOfferNotFound
	}
	if err != nil {
		return nil, &core.TransientInfraError{Op: "get offer", Err: err}
	}
	return item, nil
}

func (s *SQLiteStore) queryItems(ctx context.Context, op, where string, args ...any) ([]core.MarketItem, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+itemColumns+" FROM market_items "+where, args...)
	if err != nil {
		return nil, &core.TransientInfraError{Op: op, Err: err}
	}
	defer rows.Close()
	var out []core.MarketItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, &core.TransientInfraError{Op: op, Err: err}
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

// ActiveItems returns items whose validity window covers now.
func (s *SQLiteStore) ActiveItems(ctx context.Context, now time.Time) ([]core.MarketItem, error) {
	return s.queryItems(ctx, "active items", "WHERE valid_until > ? ORDER BY created_at", now.UnixNano())
}

// LatestOffers returns up to limit offers, newest first.
func (s *SQLiteStore) LatestOffers(ctx context.Context, limit int) ([]core.MarketItem, error) {
	return s.queryItems(ctx, "latest offers", "WHERE kind = ? ORDER BY created_at DESC LIMIT ?", string(core.ItemKindOffer), limit)
}

// AppendProposal appends one move to the negotiation log.
func (s *SQLiteStore) AppendProposal(ctx context.Context, ev core.ProposalEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proposals (negotiation_id, offer_id, product, sender_id, receiver_id, action, price, quantity, reasoning, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.NegotiationID, ev.OfferID, ev.Product, ev.SenderID, ev.ReceiverID, string(ev.Action),
		ev.Price, ev.Quantity, ev.Reasoning, ev.Timestamp.UnixNano())
	if err != nil {
		return &core.TransientInfraError{Op: "append proposal", Err: err}
	}
	return nil
}

const proposalColumns = "negotiation_id, offer_id, product, sender_id, receiver_id, action, price, quantity, reasoning, ts"

func (s *SQLiteStore) queryProposals(ctx context.Context, op, where string, args ...any) ([]core.ProposalEvent, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+proposalColumns+" FROM proposals "+where, args...)
	if err != nil {
		return nil, &core.TransientInfraError{Op: op, Err: err}
	}
	defer rows.Close()
	var out []core.ProposalEvent
	for rows.Next() {
		var ev core.ProposalEvent
		var action string
		var ts int64
		if err := rows.Scan(&ev.NegotiationID, &ev.OfferID, &ev.Product, &ev.SenderID, &ev.ReceiverID,
			&action, &ev.Price, &ev.Quantity, &ev.Reasoning, &ts); err != nil {
			return nil, &core.TransientInfraError{Op: op, Err: err}
		}
		ev.Action = core.Action(action)
		ev.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Proposals returns the full log for a negotiation.
func (s *SQLiteStore) Proposals(ctx context.Context, negotiationID string) ([]core.ProposalEvent, error) {
	return s.queryProposals(ctx, "proposals", "WHERE negotiation_id = ?", negotiationID)
}

// CountProposals returns the number of logged moves for a negotiation.
func (s *SQLiteStore) CountProposals(ctx context.Context, negotiationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM proposals WHERE negotiation_id = ?", negotiationID).Scan(&n)
	if err != nil {
		return 0, &core.TransientInfraError{Op: "count proposals", Err: err}
	}
	return n, nil
}

// LatestProposals returns up to limit events, newest first.
func (s *SQLiteStore) LatestProposals(ctx context.Context, limit int) ([]core.ProposalEvent, error) {
	return s.queryProposals(ctx, "latest proposals", "ORDER BY ts DESC LIMIT ?", limit)
}

// PutTransaction writes a transaction record and surfaces it on the change
// feed.
func (s *SQLiteStore) PutTransaction(ctx context.Context, tx core.Transaction) error {
	var existed bool
	if err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM transactions WHERE id = ?)", tx.ID).Scan(&existed); err != nil {
		return &core.TransientInfraError{Op: "put transaction", Err: err}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO transactions (id, negotiation_id, buyer_id, seller_id, amount, quantity, product, offer_id, status, reasoning, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.NegotiationID, tx.BuyerID, tx.SellerID, tx.Amount, tx.Quantity,
		tx.Product, tx.OfferID, tx.Status, tx.Reasoning, tx.Timestamp.UnixNano())
	if err != nil {
		return &core.TransientInfraError{Op: "put transaction", Err: err}
	}
	kind := core.ChangeAdded
	if existed {
		kind = core.ChangeModified
	}
	s.feed.emit(core.Change{Collection: core.CollectionTransactions, Kind: kind, Data: tx})
	return nil
}

const txColumns = "id, negotiation_id, buyer_id, seller_id, amount, quantity, product, offer_id, status, reasoning, ts"

func scanTransaction(row interface{ Scan(...any) error }) (*core.Transaction, error) {
	var tx core.Transaction
	var ts int64
	if err := row.Scan(&tx.ID, &tx.NegotiationID, &tx.BuyerID, &tx.SellerID, &tx.Amount,
		&tx.Quantity, &tx.Product, &tx.OfferID, &tx.Status, &tx.Reasoning, &ts); err != nil {
		return nil, err
	}
	tx.Timestamp = time.Unix(0, ts).UTC()
	return &tx, nil
}

// TransactionByNegotiation returns the committed transaction or nil.
func (s *SQLiteStore) TransactionByNegotiation(ctx context.Context, negotiationID string) (*core.Transaction, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+txColumns+" FROM transactions WHERE negotiation_id = ? LIMIT 1", negotiationID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &core.TransientInfraError{Op: "transaction by negotiation", Err: err}
	}
	return tx, nil
}

// LatestTransactions returns up to limit transactions, newest first.
func (s *SQLiteStore) LatestTransactions(ctx context.Context, limit int) ([]core.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+txColumns+" FROM transactions ORDER BY ts DESC LIMIT ?", limit)
	if err != nil {
		return nil, &core.TransientInfraError{Op: "latest transactions", Err: err}
	}
	defer rows.Close()
	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, &core.TransientInfraError{Op: "latest transactions", Err: err}
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

// PutReport stores a coach feedback report.
func (s *SQLiteStore) PutReport(ctx context.Context, report core.FeedbackReport) error {
	involved, err := json.Marshal(report.InvolvedAgents)
	if err != nil {
		return fmt.Errorf("marshal involved agents: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO feedback_reports (negotiation_id, involved_agents, buyer_feedback, seller_feedback, strategy_score, product, price, transaction_id, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.NegotiationID, string(involved), report.Feedback.BuyerFeedback, report.Feedback.SellerFeedback,
		report.Feedback.StrategyScore, report.Product, report.Price, report.TransactionID, report.Timestamp.UnixNano())
	if err != nil {
		return &core.TransientInfraError{Op: "put report", Err: err}
	}
	return nil
}

// PutUserFeedback stores a human rating.
func (s *SQLiteStore) PutUserFeedback(ctx context.Context, fb core.UserFeedback) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_feedback (negotiation_id, rating, comment, user_id, ts)
		VALUES (?, ?, ?, ?, ?)`,
		fb.NegotiationID, fb.Rating, fb.Comment, fb.UserID, fb.Timestamp.UnixNano())
	if err != nil {
		return &core.TransientInfraError{Op: "put user feedback", Err: err}
	}
	return nil
}

// LatestReports returns up to limit coach reports, newest first.
func (s *SQLiteStore) LatestReports(ctx context.Context, limit int) ([]core.FeedbackReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT negotiation_id, involved_agents, buyer_feedback, seller_feedback, strategy_score, product, price, transaction_id, ts
		FROM feedback_reports ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, &core.TransientInfraError{Op: "latest reports", Err: err}
	}
	defer rows.Close()
	var out []core.FeedbackReport
	for rows.Next() {
		var r core.FeedbackReport
		var involved string
		var ts int64
		if err := rows.Scan(&r.NegotiationID, &involved, &r.Feedback.BuyerFeedback, &r.Feedback.SellerFeedback,
			&r.Feedback.StrategyScore, &r.Product, &r.Price, &r.TransactionID, &ts); err != nil {
			return nil, &core.TransientInfraError{Op: "latest reports", Err: err}
		}
		if err := json.Unmarshal([]byte(involved), &r.InvolvedAgents); err != nil {
			return nil, fmt.Errorf("unmarshal involved agents: %w", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestUserFeedback returns up to limit ratings, newest first.
func (s *SQLiteStore) LatestUserFeedback(ctx context.Context, limit int) ([]core.UserFeedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT negotiation_id, rating, comment, user_id, ts FROM user_feedback ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, &core.TransientInfraError{Op: "latest user feedback", Err: err}
	}
	defer rows.Close()
	var out []core.UserFeedback
	for rows.Next() {
		var fb core.UserFeedback
		var ts int64
		if err := rows.Scan(&fb.NegotiationID, &fb.Rating, &fb.Comment, &fb.UserID, &ts); err != nil {
			return nil, &core.TransientInfraError{Op: "latest user feedback", Err: err}
		}
		fb.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, fb)
	}
	return out, rows.Err()
}

// Changes returns the store's change feed.
func (s *SQLiteStore) Changes() <-chan core.Change { return s.feed.ch }

// Close closes the change feed and the database.
func (s *SQLiteStore) Close() error {
	s.feed.close()
	return s.db.Close()
}

// Compile-time interface check.
var _ core.Store = (*SQLiteStore)(nil)
