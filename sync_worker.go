package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"visitmaster/kiosk/client"
	"visitmaster/kiosk/storage"
)

// Logger interface for sync worker operations
type Logger interface {
	Error(msg string, context ...interface{})
	Warn(msg string, context ...interface{})
	Info(msg string, context ...interface{})
	Debug(msg string, context ...interface{})
}

// SyncWorker keeps the kiosk's view of the backend fresh and replays
// check-ins that were captured while the backend was unreachable.
type SyncWorker struct {
	client *client.Client
	queue  storage.QueueStore
	logger Logger

	// WebSocket event stream (optional, polling covers its absence)
	eventsClient *client.EventsClient
	useEvents    bool
	eventsMu     sync.RWMutex

	// Configuration
	syncInterval     time.Duration
	queueMaxAttempts int

	// State tracking
	mu          sync.RWMutex
	lastSync    time.Time
	activeCount int
	running     bool

	// Lifecycle
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSyncWorker creates a sync worker. queue may be nil, which disables the
// offline check-in path.
func NewSyncWorker(apiClient *client.Client, queue storage.QueueStore, logger Logger, syncInterval time.Duration, queueMaxAttempts int, useEvents bool) *SyncWorker {
	if syncInterval <= 0 {
		syncInterval = 60 * time.Second
	}
	if queueMaxAttempts <= 0 {
		queueMaxAttempts = 10
	}
	return &SyncWorker{
		client:           apiClient,
		queue:            queue,
		logger:           logger,
		useEvents:        useEvents,
		syncInterval:     syncInterval,
		queueMaxAttempts: queueMaxAttempts,
		stopCh:           make(chan struct{}),
	}
}

// SyncWorkerStatus surfaces internal worker timings for diagnostics.
type SyncWorkerStatus struct {
	Running         bool      `json:"running"`
	LastSync        time.Time `json:"last_sync"`
	ActiveVisitors  int       `json:"active_visitors"`
	QueuedCheckIns  int       `json:"queued_check_ins"`
	EventsEnabled   bool      `json:"events_enabled"`
	EventsConnected bool      `json:"events_connected"`
}

// Status returns snapshot information about the worker lifecycle and recent activity.
func (w *SyncWorker) Status() SyncWorkerStatus {
	if w == nil {
		return SyncWorkerStatus{}
	}
	w.mu.RLock()
	status := SyncWorkerStatus{
		Running:        w.running,
		LastSync:       w.lastSync,
		ActiveVisitors: w.activeCount,
		EventsEnabled:  w.useEvents,
	}
	w.mu.RUnlock()

	if w.queue != nil {
		if n, err := w.queue.Len(); err == nil {
			status.QueuedCheckIns = n
		}
	}

	w.eventsMu.RLock()
	ec := w.eventsClient
	w.eventsMu.RUnlock()
	if ec != nil && ec.IsConnected() {
		status.EventsConnected = true
	}
	return status
}

// Start begins the sync loop and, when enabled, the WebSocket event stream.
func (w *SyncWorker) Start(ctx context.Context) error {
	if w.useEvents {
		base, err := w.client.Resolver().Resolve(ctx)
		if err != nil && !errors.Is(err, client.ErrNoReachableEndpoint) {
			return err
		}

		w.eventsMu.Lock()
		w.eventsClient = client.NewEventsClient(base, w.client.GetToken(), func(e client.VisitorEvent) {
			w.logger.Debug("Visitor event received", "type", e.Type, "visit_id", e.VisitID)
			w.refreshActiveCount(context.Background())
		})
		w.eventsMu.Unlock()
		w.eventsClient.Start()
		w.logger.Info("Event stream client started")
	}

	w.wg.Add(1)
	go w.syncLoop()

	w.mu.Lock()
	w.running = true
	w.mu.Unlock()

	w.logger.Info("Sync worker started",
		"sync_interval", w.syncInterval,
		"events_enabled", w.useEvents)

	return nil
}

// Stop shuts down the worker and waits for in-flight work to finish.
func (w *SyncWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()

	w.eventsMu.Lock()
	if w.eventsClient != nil {
		w.eventsClient.Stop()
		w.eventsClient = nil
	}
	w.eventsMu.Unlock()

	w.logger.Info("Sync worker stopped")
}

// SubmitCheckIn sends a check-in to the backend, falling back to the offline
// queue when the backend is unreachable. The returned response is nil for a
// queued check-in.
func (w *SyncWorker) SubmitCheckIn(ctx context.Context, req client.CheckInRequest) (*client.CheckInResponse, error) {
	resp, err := w.client.CheckIn(ctx, req)
	if err == nil {
		w.refreshActiveCount(ctx)
		return resp, nil
	}

	if w.queue != nil && (errors.Is(err, client.ErrNetwork) || errors.Is(err, client.ErrTimeout)) {
		payload, marshalErr := json.Marshal(req)
		if marshalErr != nil {
			return nil, err
		}
		if _, qErr := w.queue.Enqueue(payload); qErr != nil {
			w.logger.Error("Failed to queue offline check-in", "error", qErr)
			return nil, err
		}
		w.logger.Warn("Backend unreachable, check-in queued for sync", "name", req.Name)
		return nil, nil
	}

	return nil, err
}

// syncLoop periodically refreshes the active visitor count and drains the
// offline queue.
func (w *SyncWorker) syncLoop() {
	defer w.wg.Done()

	// Initial sync immediately on start
	w.doSync()

	ticker := time.NewTicker(w.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.doSync()
		}
	}
}

func (w *SyncWorker) doSync() {
	ctx, cancel := context.WithTimeout(context.Background(), w.syncInterval)
	defer cancel()

	w.drainQueue(ctx)
	w.refreshActiveCount(ctx)

	w.mu.Lock()
	w.lastSync = time.Now()
	w.mu.Unlock()
}

// drainQueue replays queued check-ins oldest first. A transport failure
// stops the pass; entries that keep failing for other reasons are dropped
// after queueMaxAttempts so one poison payload cannot wedge the queue.
func (w *SyncWorker) drainQueue(ctx context.Context) {
	if w.queue == nil {
		return
	}

	pending, err := w.queue.Pending(50)
	if err != nil {
		w.logger.Error("Failed to read offline queue", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	w.logger.Info("Syncing offline check-ins", "count", len(pending))

	for _, item := range pending {
		var req client.CheckInRequest
		if err := json.Unmarshal(item.Payload, &req); err != nil {
			w.logger.Error("Dropping undecodable queued check-in", "id", item.ID, "error", err)
			_ = w.queue.DeleteQueued(item.ID)
			continue
		}

		if _, err := w.client.CheckIn(ctx, req); err != nil {
			if errors.Is(err, client.ErrNetwork) || errors.Is(err, client.ErrTimeout) {
				// Still offline; try again next cycle.
				return
			}
			w.logger.Warn("Queued check-in rejected", "id", item.ID, "error", err)
			if item.Attempts+1 >= w.queueMaxAttempts {
				w.logger.Error("Dropping queued check-in after repeated failures", "id", item.ID, "attempts", item.Attempts+1)
				_ = w.queue.DeleteQueued(item.ID)
			} else {
				_ = w.queue.IncrementAttempts(item.ID)
			}
			continue
		}

		w.logger.Info("Offline check-in synced", "id", item.ID, "name", req.Name)
		_ = w.queue.DeleteQueued(item.ID)
	}
}

func (w *SyncWorker) refreshActiveCount(ctx context.Context) {
	resp, err := w.client.ActiveVisitors(ctx)
	if err != nil {
		w.logger.Debug("Active visitor refresh failed", "error", err)
		return
	}
	w.mu.Lock()
	w.activeCount = resp.Count
	w.mu.Unlock()
}

// ActiveCount returns the most recently synced active visitor count.
func (w *SyncWorker) ActiveCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.activeCount
}
