// Package usage tracks token usage and estimated cost per model and task type.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/tierroute/internal/models"
)

// Usage represents token usage.
type Usage struct {
	Requests     int64   `json:"requests"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Total returns the total token count.
func (u *Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

// Add adds another usage record to this one.
func (u *Usage) Add(other *Usage) {
	if other == nil {
		return
	}
	u.Requests += other.Requests
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CostUSD += other.CostUSD
}

// Record is one completed provider call.
type Record struct {
	ID           string      `json:"id"`
	TaskType     string      `json:"task_type"`
	ModelID      string      `json:"model_id"`
	Tier         models.Tier `json:"tier"`
	InputTokens  int64       `json:"input_tokens"`
	OutputTokens int64       `json:"output_tokens"`
	CostUSD      float64     `json:"cost_usd"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Store persists usage records.
type Store interface {
	Save(ctx context.Context, r Record) error
}

// PriceLookup resolves a model ID to its pricing.
type PriceLookup interface {
	Get(id string) (models.ModelSpec, bool)
}

// Tracker tracks usage across multiple requests.
type Tracker struct {
	mu       sync.RWMutex
	records  []Record
	byModel  map[string]*Usage
	byTask   map[string]*Usage
	total    Usage
	maxAge   time.Duration
	maxCount int
	prices   PriceLookup
	store    Store
	logger   *slog.Logger
	now      func() time.Time

	// queue feeds the store writer; closed once Close runs.
	queue  chan Record
	closed bool
	writer sync.WaitGroup
}

// TrackerConfig configures the usage tracker.
type TrackerConfig struct {
	MaxAge   time.Duration
	MaxCount int
	// Prices estimates cost for records that carry none.
	Prices PriceLookup
	// Store receives every record in the background. Optional.
	Store Store
	// QueueSize bounds records waiting for the store (default 1024).
	// Records are dropped with a warning when the queue is full.
	QueueSize int
	Logger    *slog.Logger
}

// DefaultTrackerConfig returns default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MaxAge:   24 * time.Hour,
		MaxCount: 10000,
	}
}

// NewTracker creates a new usage tracker.
func NewTracker(config TrackerConfig) *Tracker {
	if config.MaxAge <= 0 {
		config.MaxAge = 24 * time.Hour
	}
	if config.MaxCount <= 0 {
		config.MaxCount = 10000
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}

	t := &Tracker{
		records:  make([]Record, 0),
		byModel:  make(map[string]*Usage),
		byTask:   make(map[string]*Usage),
		maxAge:   config.MaxAge,
		maxCount: config.MaxCount,
		prices:   config.Prices,
		store:    config.Store,
		logger:   config.Logger.With("component", "usage"),
		now:      time.Now,
	}
	if t.store != nil {
		t.queue = make(chan Record, config.QueueSize)
		t.writer.Add(1)
		go t.persist()
	}
	return t
}

// RecordUsage adds a record, filling in ID, timestamp, task type and cost
// when missing. The record is handed to the store without waiting for it;
// store failures are logged and do not fail the call.
func (t *Tracker) RecordUsage(r Record) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = t.now()
	}
	if r.TaskType == "" {
		r.TaskType = "unknown"
	}
	if r.CostUSD == 0 && t.prices != nil {
		if spec, ok := t.prices.Get(r.ModelID); ok {
			r.CostUSD = spec.EstimateCost(r.InputTokens, r.OutputTokens)
		}
	}

	t.mu.Lock()
	t.records = append(t.records, r)
	delta := &Usage{Requests: 1, InputTokens: r.InputTokens, OutputTokens: r.OutputTokens, CostUSD: r.CostUSD}
	addTo(t.byModel, r.ModelID, delta)
	addTo(t.byTask, r.TaskType, delta)
	t.total.Add(delta)
	t.pruneOld()
	if t.queue != nil && !t.closed {
		select {
		case t.queue <- r:
		default:
			t.logger.Warn("usage store queue full, dropping record", "id", r.ID)
		}
	}
	t.mu.Unlock()
}

// persist writes queued records until Close.
func (t *Tracker) persist() {
	defer t.writer.Done()
	for r := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := t.store.Save(ctx, r); err != nil {
			t.logger.Warn("failed to persist usage record", "id", r.ID, "error", err)
		}
		cancel()
	}
}

// Close stops accepting records for the store and waits until the queued
// ones are written. Records added after Close are still aggregated.
func (t *Tracker) Close() error {
	t.mu.Lock()
	if t.queue == nil || t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.queue)
	t.mu.Unlock()

	t.writer.Wait()
	return nil
}

func addTo(m map[string]*Usage, key string, delta *Usage) {
	if m[key] == nil {
		m[key] = &Usage{}
	}
	m[key].Add(delta)
}

// pruneOld drops records older than maxAge and beyond maxCount. Aggregates are kept.
func (t *Tracker) pruneOld() {
	cutoff := t.now().Add(-t.maxAge)

	startIdx := 0
	for i, r := range t.records {
		if r.Timestamp.After(cutoff) {
			startIdx = i
			break
		}
		startIdx = i + 1
	}
	if startIdx > 0 {
		t.records = t.records[startIdx:]
	}

	if len(t.records) > t.maxCount {
		t.records = t.records[len(t.records)-t.maxCount:]
	}
}

// ModelTotals returns usage totals for a model.
func (t *Tracker) ModelTotals(modelID string) *Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyUsage(t.byModel[modelID])
}

// TaskTotals returns usage totals for a task type.
func (t *Tracker) TaskTotals(taskType string) *Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyUsage(t.byTask[taskType])
}

// Total returns usage across every record.
func (t *Tracker) Total() Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.total
}

// RecentRecords returns up to limit of the most recent records.
func (t *Tracker) RecentRecords(limit int) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limit <= 0 || limit > len(t.records) {
		limit = len(t.records)
	}
	start := len(t.records) - limit
	result := make([]Record, limit)
	copy(result, t.records[start:])
	return result
}

// Summary returns per-model totals sorted by cost, highest first.
func (t *Tracker) Summary() []ModelSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]ModelSummary, 0, len(t.byModel))
	for id, u := range t.byModel {
		result = append(result, ModelSummary{ModelID: id, Usage: *u})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Usage.CostUSD != result[j].Usage.CostUSD {
			return result[i].Usage.CostUSD > result[j].Usage.CostUSD
		}
		return result[i].ModelID < result[j].ModelID
	})
	return result
}

// ModelSummary is one row of Summary.
type ModelSummary struct {
	ModelID string `json:"model_id"`
	Usage   Usage  `json:"usage"`
}

func copyUsage(u *Usage) *Usage {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// FormatTokenCount formats a token count for display.
func FormatTokenCount(count int64) string {
	if count <= 0 {
		return "0"
	}
	if count >= 1_000_000 {
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	}
	if count >= 10_000 {
		return fmt.Sprintf("%dk", count/1_000)
	}
	if count >= 1_000 {
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	}
	return fmt.Sprintf("%d", count)
}

// FormatUSD formats a dollar amount for display.
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return "$0"
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}
