package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"cmc-drop-sentry/pkg/types"
)

// Snapshot 快照日志表，只追加
type Snapshot struct {
	ID              uint            `gorm:"primaryKey"`
	Symbol          string          `gorm:"type:varchar(32);not null;index:idx_symbol_time;check:chk_snapshot_symbol,symbol <> ''"`
	Price           decimal.Decimal `gorm:"type:decimal(30,12);not null"`
	PercentChange7d decimal.Decimal `gorm:"column:percent_change_7d;type:decimal(20,8);not null"`
	Timestamp       time.Time       `gorm:"not null;index:idx_symbol_time;index:idx_timestamp"`
}

func (Snapshot) TableName() string { return "snapshot_records" }

// TrackedSymbol 关注列表
type TrackedSymbol struct {
	Symbol  string    `gorm:"primaryKey;type:varchar(32)"`
	AddedAt time.Time `gorm:"not null"`
}

func (TrackedSymbol) TableName() string { return "tracked_symbols" }

// GormStore 基于GORM的持久化存储
type GormStore struct {
	db *gorm.DB
	// 写操作互斥，读操作共享
	mutex sync.RWMutex
}

// NewSQLiteStore 打开内嵌SQLite，path为":memory:"时使用内存库
func NewSQLiteStore(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("打开SQLite失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库实例失败: %w", err)
	}
	// SQLite只允许单写，内存库每个连接都是独立的库
	sqlDB.SetMaxOpenConns(1)

	zap.L().Info("✅ SQLite数据库已打开", zap.String("path", path))
	return newGormStore(db)
}

// NewMySQLStore 连接MySQL
func NewMySQLStore(config types.MySQLConfig) (*GormStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		config.Username,
		config.Password,
		config.Host,
		config.Port,
		config.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库实例失败: %w", err)
	}

	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	zap.L().Info("✅ MySQL数据库连接成功",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("database", config.Database))

	return newGormStore(db)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 生产环境使用Silent
	}
}

func newGormStore(db *gorm.DB) (*GormStore, error) {
	store := &GormStore{db: db}

	// 自动迁移表结构
	if err := store.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}
	return store, nil
}

// AutoMigrate 自动迁移表结构
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&Snapshot{},
		&TrackedSymbol{},
	)
}

// RecordSnapshot 在单个事务中写入整批行情，任意一条失败则整批回滚
func (s *GormStore) RecordSnapshot(ctx context.Context, quotes []types.Quote) error {
	if len(quotes) == 0 {
		return nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, q := range quotes {
			row := &Snapshot{
				Symbol:          q.Symbol,
				Price:           q.Price,
				PercentChange7d: q.PercentChange7d,
				Timestamp:       now,
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("写入快照%q失败: %w", q.Symbol, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	zap.L().Debug("✅ 快照批量写入完成", zap.Int("count", len(quotes)))
	return nil
}

func (s *GormStore) LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var row Snapshot
	err := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("timestamp DESC").
		Order("id DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return row.Price, true, nil
}

func (s *GormStore) RecentHistory(ctx context.Context, n int) ([]types.SnapshotRecord, error) {
	if n <= 0 {
		return nil, nil
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var rows []Snapshot
	err := s.db.WithContext(ctx).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]types.SnapshotRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, types.SnapshotRecord{
			ID:              row.ID,
			Symbol:          row.Symbol,
			Price:           row.Price,
			PercentChange7d: row.PercentChange7d,
			Timestamp:       row.Timestamp,
		})
	}
	return records, nil
}

// Track 重复关注不报错
func (s *GormStore) Track(ctx context.Context, symbol string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&TrackedSymbol{Symbol: symbol, AddedAt: time.Now()}).Error
}

func (s *GormStore) Untrack(ctx context.Context, symbol string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.db.WithContext(ctx).Where("symbol = ?", symbol).Delete(&TrackedSymbol{}).Error
}

func (s *GormStore) TrackedSymbols(ctx context.Context) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var rows []TrackedSymbol
	if err := s.db.WithContext(ctx).Order("added_at ASC").Order("symbol ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(rows))
	for _, row := range rows {
		symbols = append(symbols, row.Symbol)
	}
	return symbols, nil
}

// ClearWatchlist 清空关注列表，快照历史保留
func (s *GormStore) ClearWatchlist(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.db.WithContext(ctx).Where("1 = 1").Delete(&TrackedSymbol{}).Error
}

// Close 关闭数据库连接
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
