package database

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// Transactor 事务边界抽象，编排层只依赖该接口
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxManager 事务管理器
// 事务句柄通过context传递，仓库层优先使用context中的事务连接，
// 使同一事务内的多次仓库调用共享原子性
type TxManager struct {
	db *gorm.DB
}

// NewTxManager 创建事务管理器
func NewTxManager(db *gorm.DB) *TxManager {
	return &TxManager{db: db}
}

// WithTransaction 在事务中执行fn，fn返回错误时回滚
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// FromContext 取出context中的事务连接，没有时返回fallback
func FromContext(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return fallback.WithContext(ctx)
}
