package repository

import (
	"context"
	"fmt"

	"retryflow/internal/model"

	"gorm.io/gorm"
)

// Store groups the repositories that must share a transaction.
type Store interface {
	Nodes() NodeInterface
	Configs() ConfigInterface
	Tasks() RetryTaskInterface
	TaskLogs() RetryTaskLogInterface
	DeadLetters() DeadLetterInterface
	// Transaction runs fn against a Store bound to one database transaction.
	// fn returning an error rolls everything back.
	Transaction(ctx context.Context, fn func(tx Store) error) error
	PingContext(ctx context.Context) error
}

type GormStore struct {
	db          *gorm.DB
	nodes       NodeInterface
	configs     ConfigInterface
	tasks       RetryTaskInterface
	taskLogs    RetryTaskLogInterface
	deadLetters DeadLetterInterface
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		db:          db,
		nodes:       NewNodeRepository(db),
		configs:     NewConfigRepository(db),
		tasks:       NewRetryTaskRepository(db),
		taskLogs:    NewRetryTaskLogRepository(db),
		deadLetters: NewDeadLetterRepository(db),
	}
}

func (s *GormStore) Nodes() NodeInterface             { return s.nodes }
func (s *GormStore) Configs() ConfigInterface         { return s.configs }
func (s *GormStore) Tasks() RetryTaskInterface        { return s.tasks }
func (s *GormStore) TaskLogs() RetryTaskLogInterface  { return s.taskLogs }
func (s *GormStore) DeadLetters() DeadLetterInterface { return s.deadLetters }

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{
			db:          tx,
			nodes:       s.nodes.WithTx(tx),
			configs:     s.configs.WithTx(tx),
			tasks:       s.tasks.WithTx(tx),
			taskLogs:    s.taskLogs.WithTx(tx),
			deadLetters: s.deadLetters.WithTx(tx),
		})
	})
}

func (s *GormStore) PingContext(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Migrate creates the shared tables and every partition table.
func Migrate(db *gorm.DB, totalPartition int) error {
	if err := db.AutoMigrate(
		&model.ServerNode{},
		&model.GroupConfig{},
		&model.SceneConfig{},
		&model.RetryTaskLog{},
		&model.RetryTaskLogMessage{},
	); err != nil {
		return err
	}
	if totalPartition <= 0 {
		totalPartition = DefaultTotalPartition
	}
	for i := 0; i < totalPartition; i++ {
		p := Partition(i)
		if err := db.Table(p.TaskTable()).AutoMigrate(&model.RetryTask{}); err != nil {
			return fmt.Errorf("migrate %s: %w", p.TaskTable(), err)
		}
		if err := db.Table(p.DeadLetterTable()).AutoMigrate(&model.RetryDeadLetter{}); err != nil {
			return fmt.Errorf("migrate %s: %w", p.DeadLetterTable(), err)
		}
	}
	return nil
}
