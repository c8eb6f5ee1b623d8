package database

import (
	"time"
)

// TickStats summarizes the readings appended at one tick timestamp
type TickStats struct {
	Timestamp   time.Time
	Readings    int64
	Optimized   int64
	TotalLoadKW float64
}
