package repository

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"gorm.io/gorm"
)

// DefaultTotalPartition applies when a group leaves total_partition unset.
const DefaultTotalPartition = 32

// Partition selects the shard tables a group's tasks and dead letters live in.
type Partition int

// PartitionOf derives the partition from the group name. The mapping is
// stable for a fixed totalPartition.
func PartitionOf(groupName string, totalPartition int) Partition {
	if totalPartition <= 0 {
		totalPartition = DefaultTotalPartition
	}
	return Partition(xxhash.Sum64String(groupName) % uint64(totalPartition))
}

func (p Partition) TaskTable() string {
	return fmt.Sprintf("retry_task_%d", p)
}

func (p Partition) DeadLetterTable() string {
	return fmt.Sprintf("retry_dead_letter_%d", p)
}

func (p Partition) tasks(db *gorm.DB) *gorm.DB {
	return db.Table(p.TaskTable())
}

func (p Partition) deadLetters(db *gorm.DB) *gorm.DB {
	return db.Table(p.DeadLetterTable())
}
