// Package notify は通知ジョブのバックグラウンド配送処理を提供する。
// ワーカー、配送ロジック、リトライ/フォールバック戦略を含む。
package notify

import (
	"time"

	"github.com/hitoshi/eventometer/internal/model"
)

const (
	// maxPrimaryAttempts はダイレクトメッセージの最大試行回数。
	// これを超えるとフォールバックチャンネルへ切り替える。
	maxPrimaryAttempts = 2
	// initialRetryDelay は再試行の初回遅延（30秒）。
	initialRetryDelay = 30 * time.Second
	// maxRetryDelay は再試行の最大遅延（5分）。
	maxRetryDelay = 5 * time.Minute
)

// CalculateRetryDelay は試行回数に基づいて再試行遅延を計算する。
// 初回30秒、2倍ずつ増加、最大5分。
func CalculateRetryDelay(attempts int) time.Duration {
	delay := initialRetryDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay > maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// ApplyPrimaryDelivered はダイレクトメッセージでの配送成功をジョブに反映する。
func ApplyPrimaryDelivered(job *model.NotificationJob) {
	job.State = model.DeliveredPrimary
	job.LastError = ""
	job.UpdatedAt = time.Now()
}

// ApplyPrimaryFailure はダイレクトメッセージの配送失敗をジョブに反映する。
// 試行回数をインクリメントし、次回試行時刻を遅延させる。
func ApplyPrimaryFailure(job *model.NotificationJob, reason string) {
	job.AttemptCount++
	job.LastError = reason
	job.NextAttemptAt = time.Now().Add(CalculateRetryDelay(job.AttemptCount))
	job.UpdatedAt = time.Now()
}

// ShouldFallback はフォールバックチャンネルへ切り替えるべきかを返す。
func ShouldFallback(job *model.NotificationJob) bool {
	return job.AttemptCount >= maxPrimaryAttempts
}

// ApplyFallbackDelivered はフォールバックチャンネル経由の配送をジョブに反映する。
func ApplyFallbackDelivered(job *model.NotificationJob, channelID string) {
	job.State = model.DeliveredFallback
	job.FallbackChannelID = channelID
	job.LastError = ""
	job.UpdatedAt = time.Now()
}

// ApplyFailed は配送不能をジョブに反映する。これ以上の再試行は行われない。
func ApplyFailed(job *model.NotificationJob, reason string) {
	job.State = model.DeliveryFailed
	job.LastError = reason
	job.UpdatedAt = time.Now()
}
