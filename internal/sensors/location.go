package sensors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoFix 尚无可用位置（未收到上报或已过期）
var ErrNoFix = errors.New("no recent location fix")

// Zone 圆形安全区
type Zone struct {
	Name         string
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
	RiskLevel    float64 // 区外风险等级 [0,1]
}

// LocationSource MQTT 位置源
// 缓存设备端最近一次 GPS 上报；地理围栏判定与响应定位都基于该缓存
type LocationSource struct {
	topic      string
	qos        byte
	zones      []Zone
	maxFixAge  time.Duration
	subscriber Subscriber
	logger     *zap.Logger

	mu      sync.RWMutex
	lat     float64
	lng     float64
	fixedAt time.Time

	now func() time.Time
}

// NewLocationSource 创建位置源
func NewLocationSource(topic string, qos byte, zones []Zone, maxFixAge time.Duration, subscriber Subscriber, logger *zap.Logger) *LocationSource {
	if maxFixAge <= 0 {
		maxFixAge = 5 * time.Minute
	}
	return &LocationSource{
		topic:      topic,
		qos:        qos,
		zones:      zones,
		maxFixAge:  maxFixAge,
		subscriber: subscriber,
		logger:     logger,
		now:        time.Now,
	}
}

// locationReading 位置上报载荷
type locationReading struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Start 订阅位置主题（非阻塞）
func (l *LocationSource) Start(ctx context.Context) error {
	err := l.subscriber.Subscribe(l.topic, l.qos, func(topic string, payload []byte) error {
		var reading locationReading
		if err := json.Unmarshal(payload, &reading); err != nil {
			return fmt.Errorf("failed to unmarshal location reading: %w", err)
		}

		l.mu.Lock()
		l.lat = reading.Latitude
		l.lng = reading.Longitude
		l.fixedAt = l.now()
		l.mu.Unlock()

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to location topic: %w", err)
	}

	l.logger.Info("Location source started",
		zap.String("topic", l.topic),
		zap.Int("zone_count", len(l.zones)),
	)

	return nil
}

// Stop 取消订阅
func (l *LocationSource) Stop() error {
	if err := l.subscriber.Unsubscribe(l.topic); err != nil {
		return fmt.Errorf("failed to unsubscribe from location topic: %w", err)
	}
	return nil
}

// GetCurrent 返回最近一次位置（响应编排用）
func (l *LocationSource) GetCurrent(ctx context.Context) (float64, float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.fixedAt.IsZero() || l.now().Sub(l.fixedAt) > l.maxFixAge {
		return 0, 0, ErrNoFix
	}
	return l.lat, l.lng, nil
}

// Check 地理围栏判定（会话位置生产者用）
// 未配置安全区时视为始终在区内；命中任一区即为安全
func (l *LocationSource) Check(ctx context.Context) (string, bool, float64, error) {
	if len(l.zones) == 0 {
		return "", true, 0, nil
	}

	lat, lng, err := l.GetCurrent(ctx)
	if err != nil {
		return "", false, 0, err
	}

	nearest := l.zones[0]
	nearestDist := haversineMeters(lat, lng, nearest.Latitude, nearest.Longitude)
	for _, zone := range l.zones[1:] {
		dist := haversineMeters(lat, lng, zone.Latitude, zone.Longitude)
		if dist < nearestDist {
			nearest = zone
			nearestDist = dist
		}
	}

	inside := nearestDist <= nearest.RadiusMeters
	return nearest.Name, inside, nearest.RiskLevel, nil
}

const earthRadiusMeters = 6371000

// haversineMeters 两点球面距离（米）
func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}
