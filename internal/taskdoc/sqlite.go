package taskdoc

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"sessiond/internal/agentapi"
)

// SQLiteDoc 基于 SQLite (WAL) 的任务文档副本，供 CLI 单机使用
// SQLiteDoc is the SQLite-backed (WAL mode) task-document replica used by the
// CLI. Every update-by-id re-reads the target row inside a transaction, so a
// row inserted by another process between capture and write cannot be
// clobbered.
type SQLiteDoc struct {
	db   *sql.DB
	path string
}

// NewSQLiteDoc creates and initializes the task database.
func NewSQLiteDoc(dbPath string) (*SQLiteDoc, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	doc := &SQLiteDoc{db: db, path: dbPath}
	if err := doc.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return doc, nil
}

func (d *SQLiteDoc) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS task (
		id          INTEGER PRIMARY KEY CHECK (id = 1),
		status      TEXT NOT NULL DEFAULT 'submitted',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		seq              INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id       TEXT NOT NULL UNIQUE,
		agent_session_id TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL DEFAULT 'pending',
		cwd              TEXT NOT NULL DEFAULT '',
		model            TEXT NOT NULL DEFAULT '',
		machine_id       TEXT NOT NULL DEFAULT '',
		created_at       TEXT NOT NULL,
		completed_at     TEXT NOT NULL DEFAULT '',
		total_cost_usd   REAL NOT NULL DEFAULT 0,
		duration_ms      INTEGER NOT NULL DEFAULT 0,
		error            TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL UNIQUE,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL DEFAULT '[]',
		model      TEXT NOT NULL DEFAULT '',
		timestamp  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS plans (
		seq           INTEGER PRIMARY KEY AUTOINCREMENT,
		plan_id       TEXT NOT NULL UNIQUE,
		markdown      TEXT NOT NULL,
		review_status TEXT NOT NULL DEFAULT 'pending'
	);

	CREATE TABLE IF NOT EXISTS plan_drafts (
		plan_id TEXT PRIMARY KEY,
		draft   TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS todos (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		content      TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'pending',
		active_form  TEXT NOT NULL DEFAULT '',
		started_at   TEXT NOT NULL DEFAULT '',
		completed_at TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_id ON sessions(session_id);
	CREATE INDEX IF NOT EXISTS idx_messages_id ON messages(message_id);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return err
	}
	now := NowUTC()
	_, err := d.db.Exec(`INSERT OR IGNORE INTO task (id, status, created_at, updated_at) VALUES (1, 'submitted', ?, ?)`, now, now)
	return err
}

// Close 关闭数据库连接 / Close the database connection.
func (d *SQLiteDoc) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// --- Meta document ---

func (d *SQLiteDoc) Task() (TaskSnapshot, error) {
	row := d.db.QueryRow(`SELECT status, created_at, updated_at FROM task WHERE id=1`)
	var snap TaskSnapshot
	if err := row.Scan(&snap.Status, &snap.CreatedAt, &snap.UpdatedAt); err != nil {
		return TaskSnapshot{}, fmt.Errorf("load task: %w", err)
	}
	return snap, nil
}

func (d *SQLiteDoc) SetStatus(status TaskStatus) error {
	if _, err := d.db.Exec(`UPDATE task SET status=?, updated_at=? WHERE id=1`, string(status), NowUTC()); err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	return nil
}

// --- Session records ---

func (d *SQLiteDoc) Sessions() ([]SessionRecord, error) {
	rows, err := d.db.Query(`
		SELECT session_id, agent_session_id, status, cwd, model, machine_id,
		       created_at, completed_at, total_cost_usd, duration_ms, error
		FROM sessions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var recs []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.SessionID, &rec.AgentSessionID, &rec.Status, &rec.CWD,
			&rec.Model, &rec.MachineID, &rec.CreatedAt, &rec.CompletedAt,
			&rec.TotalCostUSD, &rec.DurationMS, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (d *SQLiteDoc) PushSession(rec SessionRecord) error {
	if strings.TrimSpace(rec.CreatedAt) == "" {
		rec.CreatedAt = NowUTC()
	}
	_, err := d.db.Exec(`
		INSERT INTO sessions (session_id, agent_session_id, status, cwd, model, machine_id,
			created_at, completed_at, total_cost_usd, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.AgentSessionID, string(rec.Status), rec.CWD, rec.Model,
		rec.MachineID, rec.CreatedAt, rec.CompletedAt, rec.TotalCostUSD, rec.DurationMS, rec.Error)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (d *SQLiteDoc) UpdateSession(sessionID string, fn func(*SessionRecord)) (bool, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRow(`
		SELECT session_id, agent_session_id, status, cwd, model, machine_id,
		       created_at, completed_at, total_cost_usd, duration_ms, error
		FROM sessions WHERE session_id=?`, sessionID)
	var rec SessionRecord
	err = row.Scan(&rec.SessionID, &rec.AgentSessionID, &rec.Status, &rec.CWD,
		&rec.Model, &rec.MachineID, &rec.CreatedAt, &rec.CompletedAt,
		&rec.TotalCostUSD, &rec.DurationMS, &rec.Error)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}

	fn(&rec)

	_, err = tx.Exec(`
		UPDATE sessions SET agent_session_id=?, status=?, cwd=?, model=?, machine_id=?,
			completed_at=?, total_cost_usd=?, duration_ms=?, error=?
		WHERE session_id=?`,
		rec.AgentSessionID, string(rec.Status), rec.CWD, rec.Model, rec.MachineID,
		rec.CompletedAt, rec.TotalCostUSD, rec.DurationMS, rec.Error, sessionID)
	if err != nil {
		return false, fmt.Errorf("update session: %w", err)
	}
	return true, tx.Commit()
}

// --- Conversation messages ---

func (d *SQLiteDoc) Messages() ([]ConversationMessage, error) {
	rows, err := d.db.Query(`SELECT message_id, role, content, model, timestamp FROM messages ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []ConversationMessage
	for rows.Next() {
		var msg ConversationMessage
		var content string
		if err := rows.Scan(&msg.MessageID, &msg.Role, &content, &msg.Model, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		blocks, err := agentapi.DecodeContentBlocks(json.RawMessage(content))
		if err != nil {
			return nil, fmt.Errorf("decode message %s content: %w", msg.MessageID, err)
		}
		msg.Content = blocks
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func encodeBlocks(blocks []agentapi.ContentBlock) (string, error) {
	if len(blocks) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(blocks)
	if err != nil {
		return "", fmt.Errorf("encode content blocks: %w", err)
	}
	return string(data), nil
}

func (d *SQLiteDoc) PushMessage(msg ConversationMessage) error {
	content, err := encodeBlocks(msg.Content)
	if err != nil {
		return err
	}
	if strings.TrimSpace(msg.Timestamp) == "" {
		msg.Timestamp = NowUTC()
	}
	_, err = d.db.Exec(`
		INSERT INTO messages (message_id, role, content, model, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		msg.MessageID, msg.Role, content, msg.Model, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (d *SQLiteDoc) UpdateMessage(messageID string, fn func(*ConversationMessage)) (bool, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRow(`SELECT message_id, role, content, model, timestamp FROM messages WHERE message_id=?`, messageID)
	var msg ConversationMessage
	var content string
	err = row.Scan(&msg.MessageID, &msg.Role, &content, &msg.Model, &msg.Timestamp)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load message: %w", err)
	}
	blocks, err := agentapi.DecodeContentBlocks(json.RawMessage(content))
	if err != nil {
		return false, fmt.Errorf("decode message content: %w", err)
	}
	msg.Content = blocks

	fn(&msg)

	encoded, err := encodeBlocks(msg.Content)
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(`UPDATE messages SET content=?, model=? WHERE message_id=?`, encoded, msg.Model, messageID); err != nil {
		return false, fmt.Errorf("update message: %w", err)
	}
	return true, tx.Commit()
}

// --- Review document ---

func (d *SQLiteDoc) Plans() ([]Plan, error) {
	rows, err := d.db.Query(`SELECT plan_id, markdown, review_status FROM plans ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		var plan Plan
		if err := rows.Scan(&plan.PlanID, &plan.Markdown, &plan.ReviewStatus); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func (d *SQLiteDoc) PushPlan(plan Plan) error {
	if plan.ReviewStatus == "" {
		plan.ReviewStatus = "pending"
	}
	_, err := d.db.Exec(`INSERT INTO plans (plan_id, markdown, review_status) VALUES (?, ?, ?)`,
		plan.PlanID, plan.Markdown, plan.ReviewStatus)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

func (d *SQLiteDoc) EnsurePlanDraft(planID string) error {
	if _, err := d.db.Exec(`INSERT OR IGNORE INTO plan_drafts (plan_id, draft) VALUES (?, '')`, planID); err != nil {
		return fmt.Errorf("ensure plan draft: %w", err)
	}
	return nil
}

func (d *SQLiteDoc) PlanDraft(planID string) (string, bool, error) {
	row := d.db.QueryRow(`SELECT draft FROM plan_drafts WHERE plan_id=?`, planID)
	var draft string
	err := row.Scan(&draft)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load plan draft: %w", err)
	}
	return draft, true, nil
}

func (d *SQLiteDoc) Todos() ([]TodoItem, error) {
	rows, err := d.db.Query(`SELECT content, status, active_form, started_at, completed_at FROM todos ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query todos: %w", err)
	}
	defer rows.Close()

	var items []TodoItem
	for rows.Next() {
		var item TodoItem
		if err := rows.Scan(&item.Content, &item.Status, &item.ActiveForm, &item.StartedAt, &item.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (d *SQLiteDoc) ReplaceTodos(items []TodoItem) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM todos`); err != nil {
		return fmt.Errorf("delete old todos: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO todos (content, status, active_form, started_at, completed_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, item := range items {
		if strings.TrimSpace(item.Content) == "" {
			continue
		}
		if _, err := stmt.Exec(item.Content, item.Status, item.ActiveForm, item.StartedAt, item.CompletedAt); err != nil {
			return fmt.Errorf("insert todo %d: %w", i, err)
		}
	}
	return tx.Commit()
}
