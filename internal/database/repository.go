package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"WebdevReplay/internal/protocol"
)

var ErrNotFound = errors.New("record not found")

// DBTX pgxpool.Pool、pgx.Conn和pgx.Tx的公共子集
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Schema 表结构
const Schema = `
CREATE TABLE IF NOT EXISTS webdev_logs (
	id              BIGSERIAL PRIMARY KEY,
	content_package TEXT        NOT NULL,
	problem_name    TEXT        NOT NULL,
	session_id      TEXT        NOT NULL,
	user_id         TEXT        NOT NULL,
	ab              BOOLEAN     NOT NULL,
	status          TEXT        NOT NULL,
	log             JSONB       NOT NULL,
	protocol        JSONB       NOT NULL DEFAULT '{}',
	received_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS webdev_logs_session_idx ON webdev_logs (session_id, received_at);

CREATE TABLE IF NOT EXISTS webdev_grades (
	id              BIGSERIAL PRIMARY KEY,
	content_package TEXT        NOT NULL,
	problem_name    TEXT        NOT NULL,
	session_id      TEXT        NOT NULL,
	user_id         TEXT        NOT NULL,
	points          INTEGER     NOT NULL,
	max_points      INTEGER     NOT NULL,
	feedback        TEXT        NOT NULL,
	received_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const (
	insertLogSQL = `INSERT INTO webdev_logs
	(content_package, problem_name, session_id, user_id, ab, status, log, protocol)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	insertGradeSQL = `INSERT INTO webdev_grades
	(content_package, problem_name, session_id, user_id, points, max_points, feedback)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	latestLogSQL = `SELECT content_package, problem_name, user_id, ab, status, log, received_at
	FROM webdev_logs WHERE session_id = $1 ORDER BY received_at DESC, id DESC LIMIT 1`
)

// StoredLog 数据库中的最后一次log事件
type StoredLog struct {
	ContentPackage string
	Message        protocol.LogMessage
	ReceivedAt     time.Time
}

// LogRepository 宿主事件镜像
type LogRepository struct {
	db DBTX
}

// NewLogRepository 创建仓库
func NewLogRepository(db DBTX) *LogRepository {
	return &LogRepository{db: db}
}

// EnsureSchema 建表
func (r *LogRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveLog 实现ingest.Repository
func (r *LogRepository) SaveLog(ctx context.Context, contentPackage string, msg protocol.LogMessage, protocolMeta map[string]interface{}) error {
	if protocolMeta == nil {
		protocolMeta = map[string]interface{}{}
	}
	meta, err := json.Marshal(protocolMeta)
	if err != nil {
		return fmt.Errorf("encode protocol: %w", err)
	}
	logJSON := []byte(msg.Log)
	if len(logJSON) == 0 {
		logJSON = []byte("[]")
	}

	_, err = r.db.Exec(ctx, insertLogSQL,
		contentPackage, msg.ProblemName, msg.Session, msg.User, msg.AB, msg.Status, logJSON, meta)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// SaveGrade 实现ingest.Repository
func (r *LogRepository) SaveGrade(ctx context.Context, contentPackage string, msg protocol.GradeMessage) error {
	_, err := r.db.Exec(ctx, insertGradeSQL,
		contentPackage, msg.ProblemName, msg.Session, msg.User, msg.Points, msg.MaxPoints, msg.Feedback)
	if err != nil {
		return fmt.Errorf("insert grade: %w", err)
	}
	return nil
}

// LatestLog 会话最后一次log事件
func (r *LogRepository) LatestLog(ctx context.Context, sessionID string) (*StoredLog, error) {
	var (
		out     StoredLog
		logJSON []byte
	)
	err := r.db.QueryRow(ctx, latestLogSQL, sessionID).Scan(
		&out.ContentPackage,
		&out.Message.ProblemName,
		&out.Message.User,
		&out.Message.AB,
		&out.Message.Status,
		&logJSON,
		&out.ReceivedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest log: %w", err)
	}
	out.Message.Session = sessionID
	out.Message.Log = json.RawMessage(logJSON)
	return &out, nil
}
