// Package orchestrator 自主响应编排器
//
// 确认后的紧急状态在这里转化为一次性的对外动作序列：
// 创建事故记录、获取当前位置、创建报警记录、向联系人分发通知、
// 请求本地反馈。各步骤尽力而为、互不阻塞；每个事件周期（episode）
// 恰好产生一个对外可见的动作序列。
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulse-guard/internal/models"
)

// ErrEpisodeActive 当前事件周期内已触发过，重复触发被折叠
var ErrEpisodeActive = errors.New("response already triggered in current episode")

// LocationProvider 位置获取接口（超时后继续无位置流程）
type LocationProvider interface {
	GetCurrent(ctx context.Context) (lat, lng float64, err error)
}

// AlertDispatcher 通知分发接口（发出请求即视为完成，投递由外部负责）
type AlertDispatcher interface {
	SendEmergencyAlert(ctx context.Context, contacts []models.EmergencyContact, message string, lat, lng *float64) error
}

// Feedback 本地用户反馈接口（触觉/视觉提示）
type Feedback interface {
	RequestFeedback(ctx context.Context, kind string) error
}

// IncidentStore 事故记录存储
type IncidentStore interface {
	CreateIncident(ctx context.Context, incident *models.Incident) error
}

// AlertStore 报警记录存储
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
}

// ContactStore 联系人查询
type ContactStore interface {
	ListActiveContacts(ctx context.Context) ([]models.EmergencyContact, error)
}

// EpisodeMarker 跨进程触发去重标记（Redis SETNX，尽力而为）
type EpisodeMarker interface {
	MarkEpisode(ctx context.Context, sessionID string, ttl time.Duration) (bool, error)
}

// TriggerContext 触发上下文
type TriggerContext struct {
	SessionID string
	Cause     string // verified_fusion / manual_sos
	Score     float64
	Tier      models.RiskTier
	Note      string
}

// Orchestrator 自主响应编排器
//
// 事件周期守卫：processing + since 防止重入，固定冷却（默认10秒）后
// 无条件清除——即使下游分发失败，后续真实险情也不会被永久压制。
type Orchestrator struct {
	cooldown        time.Duration
	locationTimeout time.Duration

	incidents IncidentStore
	alerts    AlertStore
	contacts  ContactStore
	location  LocationProvider
	dispatch  AlertDispatcher
	feedback  Feedback
	marker    EpisodeMarker
	logger    *zap.Logger

	mu         sync.Mutex
	processing bool
	since      time.Time

	now func() time.Time
}

// NewOrchestrator 创建响应编排器
func NewOrchestrator(
	cooldown time.Duration,
	locationTimeout time.Duration,
	incidents IncidentStore,
	alerts AlertStore,
	contacts ContactStore,
	location LocationProvider,
	dispatch AlertDispatcher,
	feedback Feedback,
	marker EpisodeMarker,
	logger *zap.Logger,
) *Orchestrator {
	if cooldown <= 0 {
		cooldown = 10 * time.Second
	}
	if locationTimeout <= 0 {
		locationTimeout = 10 * time.Second
	}

	return &Orchestrator{
		cooldown:        cooldown,
		locationTimeout: locationTimeout,
		incidents:       incidents,
		alerts:          alerts,
		contacts:        contacts,
		location:        location,
		dispatch:        dispatch,
		feedback:        feedback,
		marker:          marker,
		logger:          logger,
		now:             time.Now,
	}
}

// Trigger 触发自主响应（每个事件周期恰好一次）
//
// 冷却窗口内的并发/重复调用折叠为一次动作序列并返回 ErrEpisodeActive。
// 各副作用步骤失败只记录日志，不阻塞兄弟步骤，也不提前清除守卫。
func (o *Orchestrator) Trigger(ctx context.Context, tc TriggerContext) (*models.Incident, error) {
	if !o.acquireGuard() {
		o.logger.Info("Duplicate trigger suppressed by episode guard",
			zap.String("session_id", tc.SessionID),
			zap.String("cause", tc.Cause),
		)
		return nil, ErrEpisodeActive
	}

	// Redis 去重标记（跨重启加固，失败不影响本地守卫）
	if o.marker != nil {
		if ok, err := o.marker.MarkEpisode(ctx, tc.SessionID, o.cooldown); err != nil {
			o.logger.Warn("Failed to set episode marker",
				zap.String("session_id", tc.SessionID),
				zap.Error(err),
			)
		} else if !ok {
			o.logger.Info("Duplicate trigger suppressed by episode marker",
				zap.String("session_id", tc.SessionID),
			)
			return nil, ErrEpisodeActive
		}
	}

	o.logger.Warn("Autonomous emergency response triggered",
		zap.String("session_id", tc.SessionID),
		zap.String("cause", tc.Cause),
		zap.Float64("score", tc.Score),
		zap.String("tier", tc.Tier.String()),
	)

	now := o.now()

	// 1. 创建事故记录
	incident := &models.Incident{
		IncidentID:  uuid.New().String(),
		SessionID:   tc.SessionID,
		Cause:       tc.Cause,
		Score:       tc.Score,
		Tier:        tc.Tier.String(),
		Status:      "active",
		TriggeredAt: now,
		Metadata:    json.RawMessage("{}"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if o.incidents != nil {
		if err := o.incidents.CreateIncident(ctx, incident); err != nil {
			o.logger.Error("Failed to create incident record",
				zap.String("incident_id", incident.IncidentID),
				zap.Error(err),
			)
		}
	}

	// 2. 获取当前位置（超时后继续无位置流程）
	lat, lng := o.resolveLocation(ctx)

	// 3. 创建报警记录
	alert := &models.Alert{
		AlertID:          uuid.New().String(),
		IncidentID:       incident.IncidentID,
		Message:          o.buildMessage(tc),
		Latitude:         lat,
		Longitude:        lng,
		NotifiedContacts: json.RawMessage("[]"),
		DispatchedAt:     o.now(),
		CreatedAt:        o.now(),
	}

	// 4. 向联系人分发通知请求
	contacts := o.resolveContacts(ctx)
	if len(contacts) > 0 && o.dispatch != nil {
		if err := o.dispatch.SendEmergencyAlert(ctx, contacts, alert.Message, lat, lng); err != nil {
			o.logger.Error("Failed to dispatch emergency alert",
				zap.String("incident_id", incident.IncidentID),
				zap.Int("contact_count", len(contacts)),
				zap.Error(err),
			)
		} else {
			ids := make([]string, 0, len(contacts))
			for _, c := range contacts {
				ids = append(ids, c.ContactID)
			}
			if notified, err := json.Marshal(ids); err == nil {
				alert.NotifiedContacts = notified
			}
		}
	}

	if o.alerts != nil {
		if err := o.alerts.CreateAlert(ctx, alert); err != nil {
			o.logger.Error("Failed to create alert record",
				zap.String("alert_id", alert.AlertID),
				zap.Error(err),
			)
		}
	}

	// 5. 本地用户反馈
	if o.feedback != nil {
		if err := o.feedback.RequestFeedback(ctx, "emergency"); err != nil {
			o.logger.Warn("Failed to request local feedback",
				zap.Error(err),
			)
		}
	}

	return incident, nil
}

// acquireGuard 获取事件周期守卫
// 冷却到期的旧守卫视为已清除（时间判定 + 定时器双保险）
func (o *Orchestrator) acquireGuard() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	if o.processing && now.Sub(o.since) < o.cooldown {
		return false
	}

	o.processing = true
	o.since = now

	// 固定冷却后无条件清除守卫，与下游结果无关
	time.AfterFunc(o.cooldown, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.since.Equal(now) {
			o.processing = false
		}
	})

	return true
}

// GuardActive 返回守卫状态（UI/遥测用）
func (o *Orchestrator) GuardActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.processing && o.now().Sub(o.since) < o.cooldown
}

// resolveLocation 带超时获取位置，失败返回 nil
func (o *Orchestrator) resolveLocation(ctx context.Context) (*float64, *float64) {
	if o.location == nil {
		return nil, nil
	}

	locCtx, cancel := context.WithTimeout(ctx, o.locationTimeout)
	defer cancel()

	lat, lng, err := o.location.GetCurrent(locCtx)
	if err != nil {
		o.logger.Warn("Failed to resolve location, proceeding without",
			zap.Error(err),
		)
		return nil, nil
	}
	return &lat, &lng
}

// resolveContacts 查询联系人，失败返回空列表
func (o *Orchestrator) resolveContacts(ctx context.Context) []models.EmergencyContact {
	if o.contacts == nil {
		return nil
	}

	contacts, err := o.contacts.ListActiveContacts(ctx)
	if err != nil {
		o.logger.Error("Failed to list emergency contacts",
			zap.Error(err),
		)
		return nil
	}
	return contacts
}

// buildMessage 构造报警消息
func (o *Orchestrator) buildMessage(tc TriggerContext) string {
	if tc.Cause == "manual_sos" {
		return fmt.Sprintf("Manual SOS triggered (session %s)", tc.SessionID)
	}
	return fmt.Sprintf("Danger detected with score %.0f (%s), verified by corroborating signals", tc.Score, tc.Tier)
}
