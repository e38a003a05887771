package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pulse-guard/internal/cache"
	"pulse-guard/internal/config"
	"pulse-guard/internal/dispatch"
	"pulse-guard/internal/evidence"
	"pulse-guard/internal/fusion"
	"pulse-guard/internal/models"
	"pulse-guard/internal/orchestrator"
	"pulse-guard/internal/repository"
	"pulse-guard/internal/sensors"
	"pulse-guard/internal/session"
	"pulse-guard/pkg/database"
	"pulse-guard/pkg/mqtt"
	pkgredis "pulse-guard/pkg/redis"
)

// GuardianService 守护服务（整合各层）
type GuardianService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *pkgredis.Client
	mqttClient  *mqtt.Client
	logger      *zap.Logger

	// 各层组件
	incidentRepo *repository.IncidentRepository
	alertRepo    *repository.AlertRepository
	contactRepo  *repository.ContactRepository
	evidenceRepo *repository.EvidenceRepository
	snapshots    *cache.SnapshotCache
	dispatcher   *dispatch.Dispatcher
	location     *sensors.LocationSource
	lockEngine   *evidence.Engine
	orch         *orchestrator.Orchestrator
	session      *session.Session
}

// NewGuardianService 创建守护服务
func NewGuardianService(cfg *config.Config, logger *zap.Logger) (*GuardianService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := pkgredis.NewRedisClient(&cfg.Redis)
	if err := pkgredis.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT
	mqttClient, err := mqtt.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	// 4. 创建 Repository 层
	incidentRepo := repository.NewIncidentRepository(db, logger)
	alertRepo := repository.NewAlertRepository(db, logger)
	contactRepo := repository.NewContactRepository(db, logger)
	evidenceRepo := repository.NewEvidenceRepository(db, logger)

	// 5. 创建缓存与分发层
	snapshots := cache.NewSnapshotCache(cache.Config{
		SnapshotKeyPrefix: cfg.Guard.Cache.SnapshotKeyPrefix,
		ConfidenceSuffix:  cfg.Guard.Cache.ConfidenceSuffix,
		LockSuffix:        cfg.Guard.Cache.LockSuffix,
		EpisodeKeyPrefix:  cfg.Guard.Cache.EpisodeKeyPrefix,
		SnapshotTTL:       cfg.Guard.Cache.SnapshotTTL,
	}, redisClient, logger)

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		AlertTopicPrefix:   cfg.Guard.Dispatch.AlertTopicPrefix,
		ReleaseTopicPrefix: cfg.Guard.Dispatch.ReleaseTopicPrefix,
		QoS:                cfg.MQTT.QoS,
	}, mqttClient, logger)

	feedback := dispatch.NewFeedbackNotifier(
		"pulse-guard/feedback/"+cfg.Guard.SessionID,
		cfg.MQTT.QoS,
		mqttClient,
		logger,
	)

	// 6. 创建传感器接入层
	motionSource := sensors.NewMotionSource(
		cfg.Guard.Sensors.MotionTopic, cfg.MQTT.QoS, mqttClient, logger)
	speechSource := sensors.NewSpeechSource(
		cfg.Guard.Sensors.SpeechTopic, cfg.MQTT.QoS, mqttClient, logger)

	zones := make([]sensors.Zone, 0, len(cfg.Guard.Sensors.SafeZones))
	for _, z := range cfg.Guard.Sensors.SafeZones {
		zones = append(zones, sensors.Zone{
			Name:         z.Name,
			Latitude:     z.Latitude,
			Longitude:    z.Longitude,
			RadiusMeters: z.RadiusMeters,
			RiskLevel:    z.RiskLevel,
		})
	}
	locationSource := sensors.NewLocationSource(
		cfg.Guard.Sensors.LocationTopic, cfg.MQTT.QoS, zones,
		5*time.Minute, mqttClient, logger)

	// 7. 创建证据锁引擎
	// 持久化经过镜像装饰器，锁的每次状态迁移同时刷新 Redis 快照
	lockStore := &lockMirror{
		store:     evidenceRepo,
		snapshots: snapshots,
		sessionID: cfg.Guard.SessionID,
		logger:    logger,
	}
	lockEngine := evidence.NewEngine(
		time.Duration(cfg.Guard.Lock.GraceMinutes)*time.Minute,
		time.Duration(cfg.Guard.Lock.ReleaseCheckSeconds)*time.Second,
		lockStore,
		dispatcher,
		logger,
	)

	// 8. 创建响应编排器
	orch := orchestrator.NewOrchestrator(
		time.Duration(cfg.Guard.Episode.CooldownSeconds)*time.Second,
		time.Duration(cfg.Guard.Sensors.LocationTimeoutSeconds)*time.Second,
		incidentRepo,
		alertRepo,
		contactRepo,
		locationSource,
		dispatcher,
		feedback,
		snapshots,
		logger,
	)

	// 9. 创建监控会话
	sess := session.New(session.Config{
		SessionID: cfg.Guard.SessionID,
		Weights: models.WeightTable{
			models.SignalMotion:     cfg.Guard.Weights.Motion,
			models.SignalVoice:      cfg.Guard.Weights.Voice,
			models.SignalInactivity: cfg.Guard.Weights.Inactivity,
			models.SignalLocation:   cfg.Guard.Weights.Location,
			models.SignalTime:       cfg.Guard.Weights.Time,
			models.SignalPattern:    cfg.Guard.Weights.Pattern,
		},
		HistoryCapacity: cfg.Guard.Fusion.HistoryCapacity,
		Decay:           time.Duration(cfg.Guard.Fusion.DecayMinutes * float64(time.Minute)),
		Risk: fusion.RiskTable{
			Monitoring: cfg.Guard.Risk.MonitoringThreshold,
			Armed:      cfg.Guard.Risk.ArmedThreshold,
			Critical:   cfg.Guard.Risk.CriticalThreshold,
			Hysteresis: cfg.Guard.Risk.Hysteresis,
		},
		Gate: fusion.GateConfig{
			Window:           time.Duration(cfg.Guard.Verification.WindowSeconds) * time.Second,
			ConfirmThreshold: cfg.Guard.Verification.ConfirmThreshold,
			KeywordWeight:    cfg.Guard.Verification.KeywordWeight,
			ScreamWeight:     cfg.Guard.Verification.ScreamWeight,
		},
		Keywords:            cfg.Guard.Sensors.Keywords,
		InactivityCheck:     time.Duration(cfg.Guard.Sensors.InactivityCheckSeconds) * time.Second,
		InactivityThreshold: time.Duration(cfg.Guard.Sensors.InactivityThresholdMinutes) * time.Minute,
		LocationPoll:        time.Duration(cfg.Guard.Sensors.LocationPollSeconds) * time.Second,
		LocationTimeout:     time.Duration(cfg.Guard.Sensors.LocationTimeoutSeconds) * time.Second,
		SpeechRestartBase:   time.Duration(cfg.Guard.Sensors.SpeechRestartBaseSeconds) * time.Second,
		SpeechRestartMax:    time.Duration(cfg.Guard.Sensors.SpeechRestartMaxSeconds) * time.Second,
	}, speechSource, motionSource, locationSource, orch, snapshots, logger)

	return &GuardianService{
		config:       cfg,
		db:           db,
		redisClient:  redisClient,
		mqttClient:   mqttClient,
		logger:       logger,
		incidentRepo: incidentRepo,
		alertRepo:    alertRepo,
		contactRepo:  contactRepo,
		evidenceRepo: evidenceRepo,
		snapshots:    snapshots,
		dispatcher:   dispatcher,
		location:     locationSource,
		lockEngine:   lockEngine,
		orch:         orch,
		session:      sess,
	}, nil
}

// Start 启动服务
func (s *GuardianService) Start(ctx context.Context) error {
	s.logger.Info("Starting guardian service",
		zap.String("session_id", s.config.Guard.SessionID),
	)

	if err := s.location.Start(ctx); err != nil {
		return fmt.Errorf("failed to start location source: %w", err)
	}

	s.lockEngine.Start(ctx)

	if err := s.session.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitoring session: %w", err)
	}

	return nil
}

// Stop 停止服务
func (s *GuardianService) Stop() error {
	s.logger.Info("Stopping guardian service")

	s.session.Stop()
	s.lockEngine.Stop()

	if err := s.location.Stop(); err != nil {
		s.logger.Error("Failed to stop location source",
			zap.Error(err),
		)
	}

	s.mqttClient.Disconnect()

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	if err := pkgredis.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	return nil
}

// Session 返回监控会话
func (s *GuardianService) Session() *session.Session {
	return s.session
}

// SetAutonomous 开关自主响应模式
func (s *GuardianService) SetAutonomous(enabled bool) {
	s.session.SetAutonomous(enabled)
}

// TriggerSOS 手动SOS触发
func (s *GuardianService) TriggerSOS(ctx context.Context) (*models.Incident, error) {
	return s.session.TriggerSOS(ctx)
}

// ActivateEvidenceLock 为事故激活证据锁
func (s *GuardianService) ActivateEvidenceLock(ctx context.Context, incidentRef string) (models.EvidenceLock, error) {
	return s.lockEngine.Activate(ctx, incidentRef, s.config.Guard.Lock.DefaultReleaseHours)
}

// AddEvidence 追加证据项
func (s *GuardianService) AddEvidence(ctx context.Context, kind string, content []byte) (models.EvidenceItem, error) {
	return s.lockEngine.AddEvidence(ctx, kind, content)
}

// CancelEvidenceLock 宽限期内撤销证据锁（误报路径）
func (s *GuardianService) CancelEvidenceLock(ctx context.Context) error {
	return s.lockEngine.Cancel(ctx)
}

// ReleaseEvidenceNow 用户主动提前释放证据
func (s *GuardianService) ReleaseEvidenceNow(ctx context.Context) error {
	return s.lockEngine.ReleaseNow(ctx)
}

// VerifyEvidence 校验证据项内容是否被篡改
func (s *GuardianService) VerifyEvidence(itemID string, content []byte) (bool, error) {
	return s.lockEngine.Verify(itemID, content)
}

// CloseIncident 关闭事故并把会话重置回 safe
func (s *GuardianService) CloseIncident(ctx context.Context, incidentID string) error {
	if err := s.incidentRepo.CloseIncident(ctx, incidentID); err != nil {
		return err
	}
	s.session.Reset()
	return nil
}

// ListIncidents 查询会话事故历史
func (s *GuardianService) ListIncidents(ctx context.Context, page, size int) ([]*models.Incident, int, error) {
	return s.incidentRepo.ListIncidents(ctx, s.config.Guard.SessionID, page, size)
}

// ListAlerts 查询事故的报警记录
func (s *GuardianService) ListAlerts(ctx context.Context, incidentID string) ([]*models.Alert, error) {
	return s.alertRepo.ListAlerts(ctx, incidentID)
}

// lockMirror 证据持久化镜像：写库的同时刷新 Redis 锁快照
// 快照失败只记录，不影响持久化结果
type lockMirror struct {
	store     *repository.EvidenceRepository
	snapshots *cache.SnapshotCache
	sessionID string
	logger    *zap.Logger

	mu   sync.Mutex
	last models.EvidenceLock
}

func (m *lockMirror) CreateLock(ctx context.Context, lock *models.EvidenceLock) error {
	m.mu.Lock()
	m.last = *lock
	m.mu.Unlock()
	m.publish(ctx)

	return m.store.CreateLock(ctx, lock)
}

func (m *lockMirror) AddItem(ctx context.Context, item *models.EvidenceItem) error {
	return m.store.AddItem(ctx, item)
}

func (m *lockMirror) UpdateLockState(ctx context.Context, lockID string, state models.LockState, releasedAt *time.Time) error {
	m.mu.Lock()
	if m.last.LockID == lockID {
		m.last.State = state
		m.last.ReleasedAt = releasedAt
		m.last.UpdatedAt = time.Now()
	}
	m.mu.Unlock()
	m.publish(ctx)

	return m.store.UpdateLockState(ctx, lockID, state, releasedAt)
}

func (m *lockMirror) publish(ctx context.Context) {
	m.mu.Lock()
	lock := m.last
	m.mu.Unlock()

	if lock.LockID == "" {
		return
	}
	if err := m.snapshots.PutLockState(ctx, m.sessionID, &lock); err != nil {
		m.logger.Warn("Failed to publish lock snapshot",
			zap.Error(err),
		)
	}
}
