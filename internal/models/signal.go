package models

import "time"

// SignalKind 信号来源类型
type SignalKind string

const (
	SignalMotion     SignalKind = "motion"     // 加速度异常
	SignalVoice      SignalKind = "voice"      // 语音内容/声学压力
	SignalInactivity SignalKind = "inactivity" // 长时间静止
	SignalLocation   SignalKind = "location"   // 地理围栏
	SignalTime       SignalKind = "time"       // 时间上下文（如深夜）
	SignalPattern    SignalKind = "pattern"    // 行为模式异常
)

// Valid 检查信号类型是否合法
func (k SignalKind) Valid() bool {
	switch k {
	case SignalMotion, SignalVoice, SignalInactivity, SignalLocation, SignalTime, SignalPattern:
		return true
	}
	return false
}

// Signal 归一化后的传感器信号（创建后不可变）
type Signal struct {
	Kind       SignalKind `json:"kind"`
	Magnitude  float64    `json:"magnitude"`   // [0,100]
	ObservedAt time.Time  `json:"observed_at"` // 入站时间，非源端时间
	Note       string     `json:"note"`
}

// WeightTable 信号权重表（kind → weight[0,100]，运行时只读）
type WeightTable map[SignalKind]float64

// Weight 获取信号类型的权重（未知类型返回 0）
func (w WeightTable) Weight(kind SignalKind) float64 {
	return w[kind]
}

// RiskTier 风险等级（按阈值严格升序）
type RiskTier int

const (
	TierSafe       RiskTier = iota // 安全
	TierMonitoring                 // 关注
	TierArmed                      // 预警
	TierCritical                   // 紧急
)

// String 返回风险等级名称
func (t RiskTier) String() string {
	switch t {
	case TierSafe:
		return "safe"
	case TierMonitoring:
		return "monitoring"
	case TierArmed:
		return "armed"
	case TierCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ConfidenceState 当前危险置信度状态（仅由聚合器修改）
type ConfidenceState struct {
	Score      float64   `json:"score"` // [0,100]
	Tier       RiskTier  `json:"tier"`
	TierName   string    `json:"tier_name"`
	History    []Signal  `json:"history"` // 有界，旧信号先淘汰
	LastUpdate time.Time `json:"last_update"`
	TierSince  time.Time `json:"tier_since"` // 当前等级的驻留起点（用于UI/遥测）
}
