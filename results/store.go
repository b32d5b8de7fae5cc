package results

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RunResult 是一次评测单元（模型 × 上下文长度 × 插入深度）的结果。
type RunResult struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	RunName       string    `json:"run_name" gorm:"index:idx_cell,priority:1"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model" gorm:"index:idx_cell,priority:2"`
	ContextLength int       `json:"context_length" gorm:"index:idx_cell,priority:3"`
	DepthPercent  float64   `json:"depth_percent" gorm:"index:idx_cell,priority:4"`
	Needle        string    `json:"needle"`
	Question      string    `json:"question"`
	Response      string    `json:"response"`
	Score         int       `json:"score"`
	ElapsedMS     int64     `json:"elapsed_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// CellSummary 是某个 (context length, depth) 单元的聚合得分。
type CellSummary struct {
	ContextLength int     `json:"context_length"`
	DepthPercent  float64 `json:"depth_percent"`
	MeanScore     float64 `json:"mean_score"`
	Count         int     `json:"count"`
}

// Store persists run results in SQLite.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the results database at path.
// ":memory:" 打开内存库，测试用。
func Open(path string, zl *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open results db: %w", err)
	}

	if err := db.AutoMigrate(&RunResult{}); err != nil {
		return nil, fmt.Errorf("migrate results db: %w", err)
	}

	return &Store{db: db, logger: zl}, nil
}

// Save persists one result. 没有 ID 时自动生成。
func (s *Store) Save(ctx context.Context, r *RunResult) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// Exists reports whether a cell already has a result, so interrupted
// sweeps can resume without repeating API calls.
func (s *Store) Exists(ctx context.Context, runName, model string, contextLength int, depthPercent float64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&RunResult{}).
		Where("run_name = ? AND model = ? AND context_length = ? AND depth_percent = ?",
			runName, model, contextLength, depthPercent).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check result exists: %w", err)
	}
	return count > 0, nil
}

// List returns all results of a run ordered by length then depth.
func (s *Store) List(ctx context.Context, runName string) ([]RunResult, error) {
	var out []RunResult
	err := s.db.WithContext(ctx).
		Where("run_name = ?", runName).
		Order("context_length, depth_percent").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return out, nil
}

// Summary aggregates mean score per (context length, depth) cell.
func (s *Store) Summary(ctx context.Context, runName string) ([]CellSummary, error) {
	var out []CellSummary
	err := s.db.WithContext(ctx).
		Model(&RunResult{}).
		Select("context_length, depth_percent, AVG(score) AS mean_score, COUNT(*) AS count").
		Where("run_name = ?", runName).
		Group("context_length, depth_percent").
		Order("context_length, depth_percent").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("summarize results: %w", err)
	}
	return out, nil
}

// Export writes the run's results as one JSON file per cell into dir.
func (s *Store) Export(ctx context.Context, runName, dir string) error {
	list, err := s.List(ctx, runName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	for _, r := range list {
		name := fmt.Sprintf("%s_len%d_depth%g.json", r.Model, r.ContextLength, r.DepthPercent)
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result %s: %w", r.ID, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("write export %s: %w", name, err)
		}
	}

	s.logger.Info("exported results",
		zap.String("run", runName),
		zap.Int("cells", len(list)),
		zap.String("dir", dir))
	return nil
}
