package filterloop

// recentLog keeps the newest entries first, up to capacity.
type recentLog struct {
	capacity int
	entries  []QueryLogEntry
}

func newRecentLog(capacity int) *recentLog {
	return &recentLog{capacity: capacity}
}

func (r *recentLog) push(e QueryLogEntry) {
	if r.capacity <= 0 {
		return
	}
	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, QueryLogEntry{})
	}
	copy(r.entries[1:], r.entries[:len(r.entries)-1])
	r.entries[0] = e
}

func (r *recentLog) list() []QueryLogEntry {
	out := make([]QueryLogEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *recentLog) size() int {
	return len(r.entries)
}

func (r *recentLog) clear() {
	r.entries = nil
}
