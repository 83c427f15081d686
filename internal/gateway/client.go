// Package gateway はチャットゲートウェイAPIのクライアントを提供する。
// ダイレクトメッセージ送信、フォールバックチャンネルの作成と破棄、
// 告知メッセージの投稿と編集を含む。
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// ErrUndeliverable は受信者がダイレクトメッセージを受け付けない場合のエラー。
// 呼び出し元は再試行ではなくフォールバックチャンネルへ切り替える。
var ErrUndeliverable = errors.New("受信者にダイレクトメッセージを送信できません")

// Client はチャットゲートウェイAPIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	token      string
}

// NewClient はClient の新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, token string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		token:      token,
	}
}

// Message はゲートウェイへ送るメッセージ本体。
// ActionIDが空でない場合、受信側に応答ボタンが表示される。
type Message struct {
	Content  string `json:"content"`
	ActionID string `json:"action_id,omitempty"`
}

type directRequest struct {
	RecipientID string `json:"recipient_id"`
	Message
}

type channelRequest struct {
	Name    string   `json:"name"`
	Viewers []string `json:"viewers"`
}

type channelResponse struct {
	ID string `json:"id"`
}

type messageResponse struct {
	ID string `json:"id"`
}

// SendDirect は受信者へダイレクトメッセージを送信する。
// 受信者がDMを拒否している場合はErrUndeliverableを返す。
func (c *Client) SendDirect(ctx context.Context, recipientID string, msg Message) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/direct-messages", directRequest{
		RecipientID: recipientID,
		Message:     msg,
	})
	return err
}

// CreatePrivateChannel はフォールバック用のプライベートチャンネルを作成する。
// viewersに指定した利用者のみが閲覧できる。作成されたチャンネルIDを返す。
func (c *Client) CreatePrivateChannel(ctx context.Context, name string, viewers []string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/v1/channels", channelRequest{
		Name:    name,
		Viewers: viewers,
	})
	if err != nil {
		return "", err
	}

	var resp channelResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("チャンネル作成レスポンスのパースに失敗しました: %w", err)
	}
	return resp.ID, nil
}

// SendToChannel はチャンネルへメッセージを投稿する。
func (c *Client) SendToChannel(ctx context.Context, channelID string, msg Message) error {
	_, err := c.do(ctx, http.MethodPost, "/v1/channels/"+channelID+"/messages", msg)
	return err
}

// DeleteChannel はチャンネルを削除する。既に存在しない場合も成功として扱う。
func (c *Client) DeleteChannel(ctx context.Context, channelID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/channels/"+channelID, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("チャットゲートウェイがステータス %d を返しました", resp.StatusCode)
	}
	return nil
}

// PostAnnouncement はチャンネルへ告知メッセージを投稿し、メッセージIDを返す。
func (c *Client) PostAnnouncement(ctx context.Context, channelID, content string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/v1/channels/"+channelID+"/messages", Message{Content: content})
	if err != nil {
		return "", err
	}

	var resp messageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("メッセージ投稿レスポンスのパースに失敗しました: %w", err)
	}
	return resp.ID, nil
}

// EditAnnouncement は既存の告知メッセージの本文を置き換える。
func (c *Client) EditAnnouncement(ctx context.Context, channelID, messageID, content string) error {
	_, err := c.do(ctx, http.MethodPatch, "/v1/channels/"+channelID+"/messages/"+messageID, Message{Content: content})
	return err
}

// do はJSONボディ付きのリクエストを実行し、レスポンスボディを返す。
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("チャットゲートウェイの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	// DM拒否はゲートウェイが403で表現する
	if resp.StatusCode == http.StatusForbidden {
		return nil, ErrUndeliverable
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("チャットゲートウェイがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("チャットゲートウェイがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	return body, nil
}
