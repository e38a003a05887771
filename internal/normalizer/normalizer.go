// Package normalizer 将源端原始事件转换为统一的 Signal 记录
//
// 纯函数，无保留状态。magnitude 一律截断到 [0,100]，
// observed_at 使用入站时间而非源端时间，保证下游衰减计算一致。
package normalizer

import (
	"fmt"
	"math"
	"time"

	"pulse-guard/internal/models"
)

// 重力加速度（m/s²），用于剔除静止分量
const gravity = 9.81

// clamp 将值截断到 [0,100]
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// FromSpeech 从语音识别结果生成 voice 信号
// confidence: 外部检测器给出的声学压力/内容置信度 [0,1]
func FromSpeech(transcript string, confidence float64) models.Signal {
	return models.Signal{
		Kind:       models.SignalVoice,
		Magnitude:  clamp(confidence * 100),
		ObservedAt: time.Now(),
		Note:       transcript,
	}
}

// FromMotion 从三轴加速度生成 motion 信号
// 取合加速度相对重力的偏差：静止时接近 0，剧烈晃动/跌落时偏差大
func FromMotion(x, y, z float64) models.Signal {
	total := math.Sqrt(x*x + y*y + z*z)
	deviation := math.Abs(total - gravity)

	// 偏差 20 m/s² 以上视为满量程
	magnitude := clamp(deviation / 20 * 100)

	return models.Signal{
		Kind:       models.SignalMotion,
		Magnitude:  magnitude,
		ObservedAt: time.Now(),
		Note:       fmt.Sprintf("accel_deviation=%.2f", deviation),
	}
}

// FromInactivity 从空闲时长生成 inactivity 信号
// threshold: 静止告警阈值；idle 达到阈值两倍时满量程
func FromInactivity(idle, threshold time.Duration) models.Signal {
	var magnitude float64
	if threshold > 0 {
		magnitude = clamp(float64(idle) / float64(2*threshold) * 100)
	}

	return models.Signal{
		Kind:       models.SignalInactivity,
		Magnitude:  magnitude,
		ObservedAt: time.Now(),
		Note:       fmt.Sprintf("idle=%s", idle.Round(time.Second)),
	}
}

// FromGeofence 从地理围栏判定生成 location 信号
// inside=false（离开安全区）时量级按 riskLevel [0,1] 换算，inside=true 为 0
func FromGeofence(zone string, inside bool, riskLevel float64) models.Signal {
	var magnitude float64
	if !inside {
		magnitude = clamp(riskLevel * 100)
	}

	return models.Signal{
		Kind:       models.SignalLocation,
		Magnitude:  magnitude,
		ObservedAt: time.Now(),
		Note:       fmt.Sprintf("zone=%s inside=%t", zone, inside),
	}
}
