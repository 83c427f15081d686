package model

import (
	"fmt"
	"time"
)

// EventStatus はイベントのライフサイクル状態を表す。
type EventStatus string

const (
	// EventStatusDraft はインポート直後の下書き状態。応募は受け付けない。
	EventStatusDraft EventStatus = "draft"
	// EventStatusOpen はブッキング受付中の状態。この状態でのみ応募を作成できる。
	EventStatusOpen EventStatus = "open"
	// EventStatusLocked はブッキング締め切り後の状態。候補者起点の応募作成を凍結する。
	EventStatusLocked EventStatus = "locked"
	// EventStatusClosed はイベント終了後のアーカイブ状態。
	EventStatusClosed EventStatus = "closed"
)

// Label はステータスの表示名を返す。
func (s EventStatus) Label() string {
	switch s {
	case EventStatusDraft:
		return "下書き"
	case EventStatusOpen:
		return "受付中"
	case EventStatusLocked:
		return "締め切り"
	case EventStatusClosed:
		return "終了"
	default:
		return string(s)
	}
}

// Event は外部イベントAPIからインポートされたイベントを表す。
// ポジションとタイムブロックの集合を所有する。
type Event struct {
	ID        string
	VatsimID  int64
	Name      string
	Link      string
	BannerURL string
	StartTime time.Time
	EndTime   time.Time

	ShortDescription string
	Description      string

	Status       EventStatus
	BlockMinutes int

	// 告知メッセージの参照（告知後に設定される）
	AnnounceChannelID string
	AnnounceMessageID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DurationMinutes はイベントの所要時間を分単位で返す。
func (e *Event) DurationMinutes() int {
	return int(e.EndTime.Sub(e.StartTime).Minutes())
}

// TotalBlocks はブロック長から計算されるタイムブロック数を返す。
func (e *Event) TotalBlocks() int {
	if e.BlockMinutes <= 0 {
		return 0
	}
	return e.DurationMinutes() / e.BlockMinutes
}

// TimeBlock はイベントの時間帯を分割した1ブロックを表す。
// 同一イベント内でブロック同士は重複しない。
type TimeBlock struct {
	ID        string
	EventID   string
	Number    int
	StartTime time.Time
	EndTime   time.Time
}

// Label はブロックの表示ラベルを返す（例: "ブロック1: 22:00–23:00z"）。
func (b *TimeBlock) Label() string {
	return fmt.Sprintf("ブロック%d: %s–%sz",
		b.Number,
		b.StartTime.UTC().Format("15:04"),
		b.EndTime.UTC().Format("15:04"),
	)
}

// GenerateTimeBlocks はイベントの時間帯をブロック長で分割してタイムブロックを生成する。
// ブロック番号は1始まり。イベント時間がブロック長で割り切れない余りは切り捨てる。
func GenerateTimeBlocks(event *Event) []*TimeBlock {
	total := event.TotalBlocks()
	blocks := make([]*TimeBlock, 0, total)
	for i := 0; i < total; i++ {
		start := event.StartTime.Add(time.Duration(i*event.BlockMinutes) * time.Minute)
		end := start.Add(time.Duration(event.BlockMinutes) * time.Minute)
		blocks = append(blocks, &TimeBlock{
			EventID:   event.ID,
			Number:    i + 1,
			StartTime: start,
			EndTime:   end,
		})
	}
	return blocks
}

// Position はイベント内の1管制ポジションを表す（例: SBBR_TWR）。
// ICAOコードとポジション名、最低レーティング要件を持つ。
// 各（ポジション, タイムブロック）の定員は常に1。
type Position struct {
	ID        string
	EventID   string
	ICAO      string
	Name      string
	MinRating Rating
}

// Callsign はICAOとポジション名を結合したコールサインを返す。
func (p *Position) Callsign() string {
	return p.ICAO + "_" + p.Name
}

// Slot は排他制御の単位となる（ポジション, タイムブロック）の組。
type Slot struct {
	PositionID  string
	TimeBlockID string
}
