// Package vatsim はVATSIM APIの連携機能を提供する。
// イベント情報の取得、チャットアカウントとCIDの紐付け解決、
// 管制実績に基づくレーティング判定を含む。
package vatsim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// defaultBaseURL はVATSIM APIのベースURL。
const defaultBaseURL = "https://api.vatsim.net"

// Client はVATSIM APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にベースURLを差し替え可能
}

// NewClient はClient の新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    defaultBaseURL,
	}
}

// SetBaseURL はAPIのベースURLを差し替える。空文字列の場合は何もしない。
func (c *Client) SetBaseURL(baseURL string) {
	if baseURL != "" {
		c.baseURL = baseURL
	}
}

// EventData はイベントAPIから取得したイベント情報。
type EventData struct {
	ID               int64
	Name             string
	Link             string
	Banner           string
	StartTime        time.Time
	EndTime          time.Time
	ShortDescription string
	Description      string
}

type eventResponse struct {
	Data struct {
		ID               int64  `json:"id"`
		Name             string `json:"name"`
		Link             string `json:"link"`
		Banner           string `json:"banner"`
		StartTime        string `json:"start_time"`
		EndTime          string `json:"end_time"`
		ShortDescription string `json:"short_description"`
		Description      string `json:"description"`
	} `json:"data"`
}

// FetchEvent はイベントAPIからイベント情報を取得する。
// イベントが存在しない場合は (nil, nil) を返す。
func (c *Client) FetchEvent(ctx context.Context, vatsimID int64) (*EventData, error) {
	body, notFound, err := c.get(ctx, "/api/v2/events/view/"+strconv.FormatInt(vatsimID, 10))
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, nil
	}

	var resp eventResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("イベントレスポンスのパースに失敗しました: %w", err)
	}

	start, err := time.Parse(time.RFC3339, resp.Data.StartTime)
	if err != nil {
		return nil, fmt.Errorf("イベント開始時刻のパースに失敗しました: %w", err)
	}
	end, err := time.Parse(time.RFC3339, resp.Data.EndTime)
	if err != nil {
		return nil, fmt.Errorf("イベント終了時刻のパースに失敗しました: %w", err)
	}

	return &EventData{
		ID:               resp.Data.ID,
		Name:             resp.Data.Name,
		Link:             resp.Data.Link,
		Banner:           resp.Data.Banner,
		StartTime:        start,
		EndTime:          end,
		ShortDescription: resp.Data.ShortDescription,
		Description:      resp.Data.Description,
	}, nil
}

type identityResponse struct {
	ID int64 `json:"id"`
}

// ResolveIdentity はチャットユーザーIDからCIDを解決する。
// 紐付けが存在しない場合は (0, nil) を返す。
func (c *Client) ResolveIdentity(ctx context.Context, chatUserID string) (int64, error) {
	body, notFound, err := c.get(ctx, "/api/v2/members/discord/"+chatUserID)
	if err != nil {
		return 0, err
	}
	if notFound {
		return 0, nil
	}

	var resp identityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("紐付けレスポンスのパースに失敗しました: %w", err)
	}
	return resp.ID, nil
}

// GetMemberStats はメンバーの管制実績を取得する。
// レーティングキー（s1, s2, ...）から管制時間数へのマップを返す。
func (c *Client) GetMemberStats(ctx context.Context, cid int64) (map[string]float64, error) {
	body, notFound, err := c.get(ctx, "/api/v2/members/"+strconv.FormatInt(cid, 10)+"/stats")
	if err != nil {
		return nil, err
	}
	if notFound {
		return nil, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("実績レスポンスのパースに失敗しました: %w", err)
	}

	// 数値フィールドのみを実績として扱う
	stats := make(map[string]float64, len(raw))
	for key, value := range raw {
		if hours, ok := value.(float64); ok {
			stats[key] = hours
		}
	}
	return stats, nil
}

// get はGETリクエストを実行する。404の場合は notFound=true を返す。
func (c *Client) get(ctx context.Context, path string) (body []byte, notFound bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, false, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("VATSIM APIの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("VATSIM APIがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, false, fmt.Errorf("VATSIM APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	return body, false, nil
}
