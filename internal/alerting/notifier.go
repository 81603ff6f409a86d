package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Notification 封装一次结算失败的上下文。
type Notification struct {
	SpendTxHash string
	AccountID   string
	ChainID     int64
	Token       string
	SpendAmount decimal.Decimal
	Savings     decimal.Decimal
	ChainMode   string
	Reason      string
	Attempts    int
	OccurredAt  time.Time
	// SubmittedTx 非空时表示广播结果未知, 需按哈希人工核对链上状态。
	SubmittedTx string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("spend_tx_hash", note.SpendTxHash).
		Str("account_id", note.AccountID).
		Int("attempts", note.Attempts).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[AutoHODL Settlement Failed]\n")
	builder.WriteString(fmt.Sprintf("Tx: %s (chain %d)\n", note.SpendTxHash, note.ChainID))
	if note.AccountID != "" {
		builder.WriteString(fmt.Sprintf("Account: %s (%s)\n", note.AccountID, note.ChainMode))
	}
	builder.WriteString(fmt.Sprintf("Spend: %s\n", note.SpendAmount.String()))
	if !note.Savings.IsZero() {
		builder.WriteString(fmt.Sprintf("Round-up: %s\n", note.Savings.String()))
	}
	if note.Token != "" {
		builder.WriteString(fmt.Sprintf("Token: %s\n", note.Token))
	}
	if note.Attempts > 0 {
		builder.WriteString(fmt.Sprintf("Attempts: %d\n", note.Attempts))
	}
	if note.SubmittedTx != "" {
		builder.WriteString(fmt.Sprintf("Submitted tx (unconfirmed): %s\n", note.SubmittedTx))
	}
	if !note.OccurredAt.IsZero() {
		builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.OccurredAt.UTC().Format(time.RFC3339)))
	}
	if note.Reason != "" {
		builder.WriteString("Reason: " + note.Reason)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
