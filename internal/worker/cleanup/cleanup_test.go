package cleanup

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/eventometer/internal/model"
)

type mockNotificationRepo struct {
	dueChannels []*model.FallbackChannel
	listErr     error
	deleted     []string
	deleteErr   error
	gotMaxAge   time.Duration
}

func (m *mockNotificationRepo) Enqueue(ctx context.Context, job *model.NotificationJob) error {
	return nil
}
func (m *mockNotificationRepo) ListDue(ctx context.Context, limit int) ([]*model.NotificationJob, error) {
	return nil, nil
}
func (m *mockNotificationRepo) Update(ctx context.Context, job *model.NotificationJob) error {
	return nil
}
func (m *mockNotificationRepo) CountQueued(ctx context.Context) (int, error) { return 0, nil }
func (m *mockNotificationRepo) ListFailedByEvent(ctx context.Context, eventID string) ([]*model.NotificationJob, error) {
	return nil, nil
}
func (m *mockNotificationRepo) CreateFallbackChannel(ctx context.Context, channel *model.FallbackChannel) error {
	return nil
}
func (m *mockNotificationRepo) FindOpenFallbackChannel(ctx context.Context, cid int64, eventID string) (*model.FallbackChannel, error) {
	return nil, nil
}
func (m *mockNotificationRepo) ScheduleChannelDeletion(ctx context.Context, cid int64, eventID string, deleteAfter time.Time) error {
	return nil
}
func (m *mockNotificationRepo) ListChannelsDueForDeletion(ctx context.Context, maxAge time.Duration) ([]*model.FallbackChannel, error) {
	m.gotMaxAge = maxAge
	return m.dueChannels, m.listErr
}
func (m *mockNotificationRepo) DeleteFallbackChannel(ctx context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, id)
	return nil
}

type mockRemover struct {
	removed []string
	err     error
}

func (m *mockRemover) DeleteChannel(ctx context.Context, channelID string) error {
	if m.err != nil {
		return m.err
	}
	m.removed = append(m.removed, channelID)
	return nil
}

type mockSweeper struct {
	swept int
}

func (m *mockSweeper) Sweep() int { return m.swept }

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

func TestNewCleanupJob_ReturnsNonNil(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockNotificationRepo{}, &mockRemover{}, &mockSweeper{}, newTestLogger(&buf))

	if job == nil {
		t.Fatal("NewCleanupJob は nil を返してはならない")
	}
	if job.MaxChannelAge != 24*time.Hour {
		t.Errorf("MaxChannelAge = %v, want 24h", job.MaxChannelAge)
	}
}

func TestRun_DeletesDueChannels(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockNotificationRepo{
		dueChannels: []*model.FallbackChannel{
			{ID: "channel-1", Handle: "gw-1"},
			{ID: "channel-2", Handle: "gw-2"},
		},
	}
	remover := &mockRemover{}
	job := NewCleanupJob(repo, remover, &mockSweeper{}, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}

	// ゲートウェイにはハンドル、レコード削除には内部IDを使う
	if len(remover.removed) != 2 || remover.removed[0] != "gw-1" {
		t.Errorf("ゲートウェイから2件削除されるべき, got %v", remover.removed)
	}
	if len(repo.deleted) != 2 || repo.deleted[0] != "channel-1" {
		t.Errorf("レコードが2件削除されるべき, got %v", repo.deleted)
	}
	if repo.gotMaxAge != 24*time.Hour {
		t.Errorf("上限存続時間が渡されるべき, got %v", repo.gotMaxAge)
	}
}

func TestRun_GatewayFailureKeepsRecord(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockNotificationRepo{
		dueChannels: []*model.FallbackChannel{{ID: "channel-1", Handle: "gw-1"}},
	}
	remover := &mockRemover{err: errors.New("ゲートウェイ障害")}
	job := NewCleanupJob(repo, remover, &mockSweeper{}, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("個別の削除失敗でジョブは失敗しないべき: %v", err)
	}

	// レコードは残して次回に持ち越す
	if len(repo.deleted) != 0 {
		t.Errorf("ゲートウェイ削除失敗時はレコードを残すべき, got %v", repo.deleted)
	}
	if !strings.Contains(buf.String(), "ゲートウェイのチャンネル削除に失敗しました") {
		t.Error("削除失敗がログに記録されるべき")
	}
}

func TestRun_ListFailureReturnsError(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockNotificationRepo{listErr: errors.New("接続エラー")}
	job := NewCleanupJob(repo, &mockRemover{}, &mockSweeper{}, newTestLogger(&buf))

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("取得失敗でエラーが返るべき")
	}
}

func TestRun_SweepsSessions(t *testing.T) {
	var buf bytes.Buffer
	sweeper := &mockSweeper{swept: 3}
	job := NewCleanupJob(&mockNotificationRepo{}, &mockRemover{}, sweeper, newTestLogger(&buf))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run がエラーを返した: %v", err)
	}
	if !strings.Contains(buf.String(), `"sessions_swept":3`) {
		t.Errorf("セッション破棄件数がログに記録されるべき:\n%s", buf.String())
	}
}

func TestRun_EmptyIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockNotificationRepo{}, &mockRemover{}, &mockSweeper{}, newTestLogger(&buf))

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("削除対象がなくてもエラーにならないべき: %v", err)
		}
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	var buf bytes.Buffer
	job := NewCleanupJob(&mockNotificationRepo{}, &mockRemover{}, &mockSweeper{}, newTestLogger(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Start(ctx, time.Hour)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("コンテキストキャンセルで停止すべき")
	}
}
