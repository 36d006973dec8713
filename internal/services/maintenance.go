package services

import (
	"github.com/robfig/cron/v3"

	"github.com/mescon/desup/internal/db"
	"github.com/mescon/desup/internal/domain"
	"github.com/mescon/desup/internal/eventbus"
	"github.com/mescon/desup/internal/logger"
)

// MaintenanceService runs scheduled database maintenance: pruning resolved
// scans and events past the retention window and compacting the database.
type MaintenanceService struct {
	repo          *db.Repository
	events        eventbus.Publisher
	cron          *cron.Cron
	schedule      string
	retentionDays int
}

func NewMaintenanceService(repo *db.Repository, events eventbus.Publisher, schedule string, retentionDays int) *MaintenanceService {
	return &MaintenanceService{
		repo:          repo,
		events:        events,
		cron:          cron.New(),
		schedule:      schedule,
		retentionDays: retentionDays,
	}
}

// Start registers the maintenance job and starts the scheduler.
func (m *MaintenanceService) Start() error {
	if _, err := m.cron.AddFunc(m.schedule, m.Run); err != nil {
		return err
	}
	m.cron.Start()
	logger.Infof("Maintenance scheduled: %s (retention %d days)", m.schedule, m.retentionDays)
	return nil
}

// Stop halts the scheduler. A maintenance run already in progress finishes.
func (m *MaintenanceService) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

// Run executes one maintenance pass immediately.
func (m *MaintenanceService) Run() {
	result, err := m.repo.RunMaintenance(m.retentionDays)
	if err != nil {
		logger.Errorf("Database maintenance failed: %v", err)
		return
	}

	if result.ScansPruned == 0 && result.EventsPruned == 0 {
		return
	}
	event := domain.Event{
		AggregateID: "maintenance",
		EventType:   domain.ScansPruned,
		EventData: map[string]interface{}{
			"scans_pruned":  result.ScansPruned,
			"events_pruned": result.EventsPruned,
		},
	}
	if err := m.events.Publish(event); err != nil {
		logger.Errorf("Failed to publish maintenance event: %v", err)
	}
}
