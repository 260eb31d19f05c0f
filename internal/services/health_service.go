package services

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/CoderXiaopang/npm-meta/backend/internal/config"
	"github.com/CoderXiaopang/npm-meta/backend/internal/logger"
	"github.com/CoderXiaopang/npm-meta/backend/internal/metrics"
	"github.com/CoderXiaopang/npm-meta/backend/internal/models"
	"github.com/CoderXiaopang/npm-meta/backend/internal/npm"
)

// HealthRecord is the in-memory form of the most recent probe observation
// for one stream.
type HealthRecord struct {
	Status    string
	Message   string
	LastCheck time.Time
}

// HealthService runs the background probe daemon and owns the two shared
// structures the foreground and background sides communicate through: the
// status cache and the last stream list seen by any foreground read. The
// database remains the durable source of truth for health records; the cache
// only accelerates reads and may lag behind.
type HealthService struct {
	db     *gorm.DB
	client *npm.Client

	serviceEmail    string
	servicePassword string

	warmupDelay   time.Duration
	cycleInterval time.Duration

	// mu guards everything the daemon shares with foreground workers: the
	// status cache, the fallback snapshot, and the service token (a cycle
	// can be triggered from a handler while the startup login is in flight).
	mu          sync.RWMutex
	token       string
	statuses    map[uint]HealthRecord
	lastStreams []npm.Stream
}

// NewHealthService creates the daemon around its store and NPM client.
// Nothing runs until Run is called.
func NewHealthService(db *gorm.DB, client *npm.Client, cfg config.Config) *HealthService {
	return &HealthService{
		db:              db,
		client:          client,
		serviceEmail:    cfg.ServiceEmail,
		servicePassword: cfg.ServicePassword,
		warmupDelay:     2 * time.Second,
		cycleInterval:   60 * time.Second,
		statuses:        make(map[uint]HealthRecord),
	}
}

// Run executes the daemon loop until ctx is cancelled: optional service
// login, a short warmup, then probe cycles separated by a fixed sleep. The
// sleep starts after a cycle completes, so a slow cycle pushes out the next
// one. Every failure is logged and survived.
func (s *HealthService) Run(ctx context.Context) {
	if s.serviceEmail != "" && s.servicePassword != "" {
		token, err := s.client.Login(ctx, s.serviceEmail, s.servicePassword)
		if err != nil {
			logger.Log().WithError(err).Warn("Health daemon service login failed, probing only streams seen by foreground requests")
		} else {
			s.setToken(token)
			logger.Log().Info("Health daemon authenticated with service account")
		}
	}

	// Daily report of annotations whose stream no longer exists remotely.
	// Report only; stale health records are kept on purpose.
	reporter := cron.New()
	if _, err := reporter.AddFunc("@daily", s.ReportOrphans); err != nil {
		logger.Log().WithError(err).Error("Failed to schedule orphan report")
	} else {
		reporter.Start()
		defer reporter.Stop()
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(s.warmupDelay):
	}

	for {
		s.RunCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cycleInterval):
		}
	}
}

// RunCycle probes every stream with a forwarding target once and records the
// results. Exported so a foreground handler can trigger an immediate sweep.
func (s *HealthService) RunCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{"panic": r}).Error("Probe cycle panicked")
		}
	}()

	streams, live := s.streamsToProbe(ctx)
	if streams == nil {
		logger.Log().Info("No stream data available, skipping probe cycle")
		metrics.IncProbeCycleSkipped()
		return
	}

	probed := 0
	for _, stream := range streams {
		if stream.ForwardingHost == "" || stream.ForwardingPort == 0 {
			continue
		}

		status, msg := ProbeTarget(stream.ForwardingHost, stream.ForwardingPort)
		now := time.Now()

		if err := s.persistHealth(stream.ID, status, msg, now); err != nil {
			logger.WithFields(map[string]interface{}{"stream_id": stream.ID}).WithError(err).Error("Failed to persist health record")
		}
		s.setStatus(stream.ID, HealthRecord{Status: status, Message: msg, LastCheck: now})
		metrics.IncProbe(status)
		probed++
	}

	metrics.IncProbeCycle()
	logger.WithFields(map[string]interface{}{"streams": probed, "live_list": live}).Debug("Probe cycle finished")
}

// streamsToProbe prefers a live fetch with the service token and falls back
// to the list last observed by a foreground request. A nil result means
// neither source has data yet.
func (s *HealthService) streamsToProbe(ctx context.Context) (streams []npm.Stream, live bool) {
	if token := s.serviceToken(); token != "" {
		streams, err := s.client.ListStreams(ctx, token)
		if err == nil {
			return streams, true
		}
		logger.Log().WithError(err).Warn("Live stream fetch failed, falling back to last foreground snapshot")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastStreams == nil {
		return nil, false
	}

	snapshot := make([]npm.Stream, len(s.lastStreams))
	copy(snapshot, s.lastStreams)
	return snapshot, false
}

// persistHealth upserts only the health columns so concurrent annotation
// edits are never clobbered.
func (s *HealthService) persistHealth(id uint, status, msg string, at time.Time) error {
	unix := at.Unix()

	res := s.db.Model(&models.StreamMeta{}).Where("npm_id = ?", id).Updates(map[string]interface{}{
		"health_status":     status,
		"health_msg":        msg,
		"health_last_check": unix,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	record := models.StreamMeta{
		NPMID:           id,
		HealthStatus:    status,
		HealthMsg:       msg,
		HealthLastCheck: &unix,
	}
	return s.db.Create(&record).Error
}

// SetLastStreams refreshes the fallback snapshot. Called by the foreground
// list path on every successful fetch.
func (s *HealthService) SetLastStreams(streams []npm.Stream) {
	snapshot := make([]npm.Stream, len(streams))
	copy(snapshot, streams)

	s.mu.Lock()
	s.lastStreams = snapshot
	s.mu.Unlock()
}

// StatusFor returns the cached health record for a stream, if any.
func (s *HealthService) StatusFor(id uint) (HealthRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.statuses[id]
	return rec, ok
}

func (s *HealthService) setStatus(id uint, rec HealthRecord) {
	s.mu.Lock()
	s.statuses[id] = rec
	s.mu.Unlock()
}

func (s *HealthService) setToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *HealthService) serviceToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// ReportOrphans logs how many annotations reference streams absent from the
// last known stream list. Nothing is deleted; the remote manager may simply
// not have been listed recently.
func (s *HealthService) ReportOrphans() {
	s.mu.RLock()
	known := make(map[uint]struct{}, len(s.lastStreams))
	for _, stream := range s.lastStreams {
		known[stream.ID] = struct{}{}
	}
	haveSnapshot := s.lastStreams != nil
	s.mu.RUnlock()

	if !haveSnapshot {
		logger.Log().Debug("Skipping orphan report, no stream list observed yet")
		return
	}

	var metas []models.StreamMeta
	if err := s.db.Find(&metas).Error; err != nil {
		logger.Log().WithError(err).Error("Failed to load annotations for orphan report")
		return
	}

	orphans := 0
	for _, meta := range metas {
		if _, ok := known[meta.NPMID]; !ok {
			orphans++
		}
	}

	if orphans > 0 {
		logger.WithFields(map[string]interface{}{"orphans": orphans}).Info("Annotations without a matching stream")
	}
}
