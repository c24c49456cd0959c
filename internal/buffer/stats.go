package buffer

import "time"

// Stats is the snapshot returned by MessageBuffer.GetStats.
type Stats struct {
	Count int
	MemorySize int
	MaxMemorySize int
	UtilizationPct float64
	DropCount int
	ExpiredCount int
	PersistCount int
	LoadCount int
	OldestMessageAge time.Duration
	CountByPriority map[string]int
}
