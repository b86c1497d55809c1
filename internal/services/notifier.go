package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sterilization-gateway/internal/alerts"
	"sterilization-gateway/internal/logging"
	"sterilization-gateway/internal/models"
	"sterilization-gateway/internal/providers"
)

// NotificationStore loads policies and records deliveries; *db.DB satisfies it.
type NotificationStore interface {
	ListActivePolicies(ctx context.Context) ([]models.Policy, error)
	CreateNotification(ctx context.Context, n models.Notification) error
	UpdateNotificationStatus(ctx context.Context, id [16]byte, status, lastError string) error
}

// Notifier turns alert escalations into notifications. Workers evaluate every
// active policy against the escalated severity and dispatch through the
// contact point's provider.
type Notifier struct {
	store     NotificationStore
	providers map[string]providers.Provider
	logger    *logging.Logger
	workers   int
	tasks     chan models.Task
	ctx       context.Context
	cancel    context.CancelFunc
	wg        *sync.WaitGroup
}

func NewNotifier(store NotificationStore, provs map[string]providers.Provider, queueSize, workers int, logger *logging.Logger) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		store:     store,
		providers: provs,
		logger:    logger,
		workers:   workers,
		tasks:     make(chan models.Task, queueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker pool
func (n *Notifier) Start(wg *sync.WaitGroup) {
	n.wg = wg
	for i := 0; i < n.workers; i++ {
		n.wg.Add(1)
		go n.worker(i)
	}
}

// Stop cancels in-flight work; pending tasks are dropped.
func (n *Notifier) Stop() {
	n.cancel()
}

// OnEscalation is the poller's escalation callback.
func (n *Notifier) OnEscalation(esc alerts.Escalation, open []models.Alert) {
	n.QueueTask(models.Task{
		RequestID: uuid.NewString(),
		CycleID:   esc.CycleID,
		Severity:  esc.Current,
		Previous:  esc.Previous,
		Alerts:    open,
		Timestamp: time.Now(),
	})
}

// QueueTask enqueues a Task for processing
func (n *Notifier) QueueTask(task models.Task) {
	select {
	case n.tasks <- task:
		n.logger.Infof("Queued task: request_id=%s cycle=%s", task.RequestID, task.CycleID)
	default:
		n.logger.Errorf("Queue full, dropping task: request_id=%s", task.RequestID)
	}
}

// worker processes Tasks until context is cancelled
func (n *Notifier) worker(id int) {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			n.logger.Infof("Worker %d stopped", id)
			return
		case task := <-n.tasks:
			n.handleTask(n.ctx, task)
		}
	}
}

func (n *Notifier) handleTask(ctx context.Context, task models.Task) {
	reqID, err := uuid.Parse(task.RequestID)
	if err != nil {
		n.logger.Errorf("Invalid request ID %s: %v", task.RequestID, err)
		return
	}

	policies, err := n.store.ListActivePolicies(ctx)
	if err != nil {
		n.logger.Errorf("Failed to load policies: %v", err)
		return
	}

	subject, body := compose(task)
	for _, pol := range policies {
		polID := uuid.UUID(pol.ID)
		if !evaluateCondition(pol.ConditionType, task.Severity.Rank(), pol.Severity.Rank()) {
			n.logger.Debugf("Policy %s skipped (severity %s does not satisfy %s %s)", polID, task.Severity, pol.ConditionType, pol.Severity)
			continue
		}
		if pol.ContactPoint == nil {
			n.logger.Warnf("Policy %s has no active contact point, skipping", polID)
			continue
		}
		provider, ok := n.providers[pol.ContactPoint.Type]
		if !ok {
			n.logger.Warnf("Policy %s: no provider for contact point type %q", polID, pol.ContactPoint.Type)
			continue
		}

		notif := models.Notification{
			ID:             uuid.New(),
			CreatedAt:      time.Now(),
			CycleID:        task.CycleID,
			Severity:       task.Severity,
			Subject:        subject,
			Body:           body,
			PolicyID:       pol.ID,
			DeliveryMethod: pol.ContactPoint.Type,
			Status:         "pending",
			RequestID:      reqID,
		}
		if err := n.store.CreateNotification(ctx, notif); err != nil {
			n.logger.Errorf("CreateNotification failed: %v", err)
			continue
		}

		final, lastError := "success", ""
		if err := provider.Send(ctx, notif, *pol.ContactPoint); err != nil {
			final, lastError = "failed", err.Error()
			n.logger.Errorf("Dispatch error via %s: %v", pol.ContactPoint.Type, err)
		}
		if err := n.store.UpdateNotificationStatus(ctx, notif.ID, final, lastError); err != nil {
			n.logger.Errorf("UpdateNotificationStatus failed: %v", err)
		}
		n.logger.Infof("Policy %s dispatched %s via %s", polID, final, pol.ContactPoint.Type)
	}
}

func compose(task models.Task) (string, string) {
	subject := fmt.Sprintf("%s: cycle %s", task.Severity, task.CycleID)
	var b strings.Builder
	if task.Previous == "" {
		fmt.Fprintf(&b, "Cycle %s has open %s alerts.\n", task.CycleID, task.Severity)
	} else {
		fmt.Fprintf(&b, "Cycle %s escalated from %s to %s.\n", task.CycleID, task.Previous, task.Severity)
	}
	for _, a := range task.Alerts {
		fmt.Fprintf(&b, "- [%s] %s", a.Severity, a.Kind)
		if a.Stage != "" {
			fmt.Fprintf(&b, " at %s", a.Stage)
		}
		if a.Message != "" {
			fmt.Fprintf(&b, ": %s", a.Message)
		}
		b.WriteString("\n")
	}
	return subject, strings.TrimRight(b.String(), "\n")
}

// evaluateCondition checks if the alert severity rank satisfies the policy condition
func evaluateCondition(cond string, alertSeverity, policySeverity int) bool {
	switch cond {
	case "EQ":
		return alertSeverity == policySeverity
	case "NEQ":
		return alertSeverity != policySeverity
	case "GT":
		return alertSeverity > policySeverity
	case "GTE":
		return alertSeverity >= policySeverity
	case "LT":
		return alertSeverity < policySeverity
	case "LTE":
		return alertSeverity <= policySeverity
	default:
		return false
	}
}
