package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contract-intel/backend/internal/storage/models"
	"github.com/contract-intel/backend/pkg/apperror"
	"github.com/contract-intel/backend/pkg/logger"
)

const (
	DefaultTaskType = "audit_simulation"

	statusCompleted = "completed"
	eventFinished   = "analysis_finished"
	detailsComplete = "Analysis complete"
)

var ErrClosed = errors.New("dispatcher is shut down")

type Settings struct {
	Delay   time.Duration
	Timeout time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		Delay:   5 * time.Second,
		Timeout: 10 * time.Second,
	}
}

type payload struct {
	Status string      `json:"status"`
	Event  string      `json:"event"`
	Data   payloadData `json:"data"`
}

type payloadData struct {
	Task    string `json:"task"`
	Details string `json:"details"`
}

// Dispatcher delivers completion callbacks in the background. Deliveries run
// on the dispatcher's own context, so they outlive the request that queued them.
type Dispatcher struct {
	client   *resty.Client
	settings Settings

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(settings Settings) *Dispatcher {
	client := resty.New().
		SetTimeout(settings.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json")

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		client:   client,
		settings: settings,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// NewTask builds a task with a fresh id. An empty task type falls back to
// DefaultTaskType.
func NewTask(callbackURL, taskType string) models.NotificationTask {
	if strings.TrimSpace(taskType) == "" {
		taskType = DefaultTaskType
	}
	return models.NotificationTask{
		ID:          uuid.NewString(),
		CallbackURL: callbackURL,
		TaskType:    taskType,
		CreatedAt:   time.Now().UTC(),
	}
}

// Submit queues the task and returns immediately.
func (d *Dispatcher) Submit(task models.NotificationTask) error {
	if strings.TrimSpace(task.CallbackURL) == "" {
		return apperror.InvalidInput("notify.Submit", "callback_url is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return apperror.New(apperror.KindInternal, "notify.Submit", ErrClosed)
	}

	d.wg.Add(1)
	go d.run(task)

	logger.Info("Notification scheduled",
		zap.String("task_id", task.ID),
		zap.String("task_type", task.TaskType),
		zap.Duration("delay", d.settings.Delay),
	)
	return nil
}

func (d *Dispatcher) run(task models.NotificationTask) {
	defer d.wg.Done()

	timer := time.NewTimer(d.settings.Delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-d.ctx.Done():
		logger.Warn("Notification dropped on shutdown", zap.String("task_id", task.ID))
		return
	}

	if err := d.deliver(d.ctx, task); err != nil {
		logger.Error("Notification delivery failed",
			zap.String("task_id", task.ID),
			zap.String("callback_url", task.CallbackURL),
			zap.Error(err),
		)
		return
	}

	logger.Info("Notification delivered", zap.String("task_id", task.ID))
}

func (d *Dispatcher) deliver(ctx context.Context, task models.NotificationTask) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(payload{
			Status: statusCompleted,
			Event:  eventFinished,
			Data: payloadData{
				Task:    task.TaskType,
				Details: detailsComplete,
			},
		}).
		Post(task.CallbackURL)
	if err != nil {
		return fmt.Errorf("failed to post callback: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("callback responded with status %d", resp.StatusCode())
	}
	return nil
}

// Shutdown stops accepting tasks and waits for in-flight deliveries. When ctx
// expires first, pending deliveries are cancelled.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return fmt.Errorf("failed to drain notifications: %w", ctx.Err())
	}
}
