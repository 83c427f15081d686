// Package announce はイベント告知メッセージの組み立てと投稿を行う。
package announce

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hitoshi/eventometer/internal/booking"
	"github.com/hitoshi/eventometer/internal/model"
)

// BuildView はイベントの割り当て状況から告知メッセージ本文を組み立てる。
// 同じスナップショットからは常に同じ文字列が得られる。
// タイムブロックは番号順、ポジションはコールサイン順に整列する。
func BuildView(summary *booking.EventSummary) string {
	event := summary.Event

	blocks := make([]*model.TimeBlock, len(summary.Blocks))
	copy(blocks, summary.Blocks)
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Number < blocks[j].Number })

	positions := make([]*model.Position, len(summary.Positions))
	copy(positions, summary.Positions)
	sort.Slice(positions, func(i, j int) bool { return positions[i].Callsign() < positions[j].Callsign() })

	// ブロックID×ポジションID → 占有者と選考待ち件数
	occupants := make(map[string]*model.ApplicationDetail)
	pendingCounts := make(map[string]int)
	for _, app := range summary.Applications {
		key := app.TimeBlockID + "/" + app.PositionID
		if app.Status.OccupiesSlot() {
			occupants[key] = app
		}
		if app.Status == model.StatusPending {
			pendingCounts[key]++
		}
	}

	var b strings.Builder

	fmt.Fprintf(&b, "**%s**\n", event.Name)
	fmt.Fprintf(&b, "%s – %sz（%s）\n",
		event.StartTime.UTC().Format("2006-01-02 15:04"),
		event.EndTime.UTC().Format("15:04"),
		event.Status.Label())
	if event.Link != "" {
		fmt.Fprintf(&b, "%s\n", event.Link)
	}

	for _, block := range blocks {
		fmt.Fprintf(&b, "\n%s\n", block.Label())
		for _, position := range positions {
			key := block.ID + "/" + position.ID
			occupant := occupants[key]
			if occupant == nil {
				if n := pendingCounts[key]; n > 0 {
					fmt.Fprintf(&b, "  %s: 空き（応募 %d件）\n", position.Callsign(), n)
				} else {
					fmt.Fprintf(&b, "  %s: 空き\n", position.Callsign())
				}
				continue
			}
			fmt.Fprintf(&b, "  %s: %s（%s）\n",
				position.Callsign(), occupant.CandidateName, occupant.Status.Label())
		}
	}

	if event.Status == model.EventStatusOpen {
		b.WriteString("\nブッキング受付中です。応募をお待ちしています。\n")
	}

	return b.String()
}
