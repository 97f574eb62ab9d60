package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/predictbot/gopredict/internal/timeline"
)

// Store 持久化运行账本：锚定记录与帧延迟样本写入 SQLite，
// 供事后复盘与状态 API 查询。
type Store struct {
	db *sql.DB
}

// AnchorRecord 一次锚定的落库记录
type AnchorRecord struct {
	ID             int64
	TimelineID     string
	PacketID       string
	ErrorMagnitude float64
	Pruned         int
	CreatedAt      time.Time
}

// FrameRecord 一帧的落库记录
type FrameRecord struct {
	ID         int64
	ElapsedUs  int64
	BudgetUs   int64
	OverBudget bool
	Packets    int
	CreatedAt  time.Time
}

func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("ledger: db path is required")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS anchors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timeline_id TEXT NOT NULL,
	packet_id TEXT NOT NULL,
	error_magnitude REAL NOT NULL,
	pruned INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS frames (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	elapsed_us INTEGER NOT NULL,
	budget_us INTEGER NOT NULL,
	over_budget INTEGER NOT NULL DEFAULT 0,
	packets INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anchors_created ON anchors(created_at);
CREATE INDEX IF NOT EXISTS idx_frames_created ON frames(created_at);
`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// RecordAnchor 写入一条锚定记录
func (s *Store) RecordAnchor(ctx context.Context, a timeline.Anchor, pruned int) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO anchors (timeline_id,packet_id,error_magnitude,pruned,created_at)
VALUES (?,?,?,?,?)
`, a.TimelineID, a.BestMatch.ID, a.ErrorMagnitude, pruned, a.Timestamp.Format(time.RFC3339Nano))
	return err
}

// RecordFrame 写入一条帧延迟样本
func (s *Store) RecordFrame(ctx context.Context, elapsed, budget time.Duration, packets int) error {
	over := 0
	if elapsed > budget {
		over = 1
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO frames (elapsed_us,budget_us,over_budget,packets,created_at)
VALUES (?,?,?,?,?)
`, elapsed.Microseconds(), budget.Microseconds(), over, packets, time.Now().Format(time.RFC3339Nano))
	return err
}

// RecentAnchors 按时间倒序取最近 limit 条锚定记录
func (s *Store) RecentAnchors(ctx context.Context, limit int) ([]AnchorRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id,timeline_id,packet_id,error_magnitude,pruned,created_at
FROM anchors ORDER BY id DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AnchorRecord
	for rows.Next() {
		var r AnchorRecord
		var created string
		if err := rows.Scan(&r.ID, &r.TimelineID, &r.PacketID, &r.ErrorMagnitude, &r.Pruned, &created); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentFrames 按时间倒序取最近 limit 条帧样本
func (s *Store) RecentFrames(ctx context.Context, limit int) ([]FrameRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id,elapsed_us,budget_us,over_budget,packets,created_at
FROM frames ORDER BY id DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		var r FrameRecord
		var over int
		var created string
		if err := rows.Scan(&r.ID, &r.ElapsedUs, &r.BudgetUs, &over, &r.Packets, &created); err != nil {
			return nil, err
		}
		r.OverBudget = over != 0
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// FrameStats 帧样本的聚合统计
type FrameStats struct {
	Count      int64
	OverBudget int64
	AvgUs      float64
}

// Stats 聚合全部帧样本
func (s *Store) Stats(ctx context.Context) (FrameStats, error) {
	var fs FrameStats
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(over_budget),0), COALESCE(AVG(elapsed_us),0) FROM frames
`)
	if err := row.Scan(&fs.Count, &fs.OverBudget, &fs.AvgUs); err != nil {
		return fs, err
	}
	return fs, nil
}
