package xclimit

// Stats 是 Limiter 的统计快照。
type Stats struct {
	// Hits Acquire 命中次数。
	Hits uint64
	// Misses 构建并注册新条目的次数。
	Misses uint64
	// Evictions 因容量或 Purge 被淘汰的条目数（不含 Close 释放的条目）。
	Evictions uint64
	// FactoryErrors Factory 返回错误的次数。
	FactoryErrors uint64

	// Entries 存活条目数。
	Entries int
	// InUse 被至少一个 Guard 持有的条目数。
	InUse int
	// Cost 存活条目的代价总和。
	Cost int
	// Capacity 当前容量。
	Capacity int
}

// HitRatio 返回命中率 (0.0 - 1.0)，没有任何 Acquire 时返回 0。
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats 返回统计快照。计数器与存量字段分别读取，并发时二者之间可能有微小偏差。
func (l *Limiter[T]) Stats() Stats {
	l.mu.Lock()
	s := Stats{
		Entries:  l.entries.Len(),
		InUse:    l.inUse,
		Cost:     l.costLocked(),
		Capacity: l.capacity,
	}
	l.mu.Unlock()

	s.Hits = l.hits.Load()
	s.Misses = l.misses.Load()
	s.Evictions = l.evictions.Load()
	s.FactoryErrors = l.factoryErrors.Load()
	return s
}
