package session

import (
	"sync"
)

// DefaultFlushThreshold 待发送条目超过该值时自动flush
const DefaultFlushThreshold = 4

// RecordOption 录制选项
type RecordOption func(*recordOptions)

type recordOptions struct {
	flushExempt bool
}

// FlushExempt 标记条目不触发自动flush（用于卸载/失焦序列本身的事件）
func FlushExempt() RecordOption {
	return func(o *recordOptions) {
		o.flushExempt = true
	}
}

// MutationRecord 内容变更通知
type MutationRecord struct {
	Kind      EntryType
	Target    string
	Attribute string
	Markup    string
}

// Recorder 事件录制器
type Recorder struct {
	store     *LogStore
	flusher   *Flusher
	threshold int

	mu      sync.Mutex
	pending int
}

// NewRecorder 创建录制器，threshold<=0时使用默认值
func NewRecorder(store *LogStore, flusher *Flusher, threshold int) *Recorder {
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	return &Recorder{
		store:     store,
		flusher:   flusher,
		threshold: threshold,
	}
}

// Record 追加条目。录制本身不会失败
func (r *Recorder) Record(entryType EntryType, fields Fields, opts ...RecordOption) LogEntry {
	var o recordOptions
	for _, opt := range opts {
		opt(&o)
	}

	entry := r.store.Append(entryType, fields)

	r.mu.Lock()
	r.pending++
	trigger := !o.flushExempt && r.pending > r.threshold
	if trigger {
		r.pending = 0
	}
	r.mu.Unlock()

	if trigger {
		r.flusher.Flush(FlushLogQueue)
	}
	return entry
}

// RecordMutations 内容变更回调，每条变更一个条目
func (r *Recorder) RecordMutations(records []MutationRecord) {
	for _, rec := range records {
		fields := Fields{}
		if rec.Target != "" {
			fields["target"] = rec.Target
		}
		if rec.Attribute != "" {
			fields["attribute"] = rec.Attribute
		}
		if rec.Markup != "" {
			fields["markup"] = rec.Markup
		}
		kind := rec.Kind
		if kind == "" {
			kind = EntryChildList
		}
		r.Record(kind, fields)
	}
}

// Flush 显式flush，清零待发送计数
func (r *Recorder) Flush(reason string) {
	r.mu.Lock()
	r.pending = 0
	r.mu.Unlock()

	r.flusher.Flush(reason)
}

// Pending 自上次flush以来的条目数
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Store 底层日志
func (r *Recorder) Store() *LogStore {
	return r.store
}
