// Package paystack предоставляет клиент платёжного шлюза Paystack.
package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultBaseURL задаёт адрес боевого API Paystack.
const DefaultBaseURL = "https://api.paystack.co"

// StatusSuccess обозначает успешную транзакцию в ответе verify.
const StatusSuccess = "success"

var (
	// ErrNotConfigured возвращается, если клиент создан без секретного ключа.
	ErrNotConfigured = errors.New("paystack client not configured")
	// ErrRejected возвращается, если Paystack ответил, но отклонил запрос (ответ 4xx
	// или status=false). Шлюз при этом доступен.
	ErrRejected = errors.New("paystack rejected request")
)

type noRetryKey struct{}

// retryPolicy повторяет только идемпотентные запросы. Повтор POST после 5xx
// может создать платёж дважды.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if once, _ := ctx.Value(noRetryKey{}).(bool); once {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Client инкапсулирует HTTP-взаимодействие с Paystack.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *retryablehttp.Client
}

// InitializeRequest описывает запрос на создание платежа.
type InitializeRequest struct {
	Email       string
	Amount      decimal.Decimal
	Reference   string
	CallbackURL string
	Metadata    map[string]any
}

// Authorization содержит ответ Paystack на инициализацию платежа.
type Authorization struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// Verification содержит результат проверки транзакции.
type Verification struct {
	Status    string
	Reference string
	Amount    decimal.Decimal
	PaidAt    *time.Time
}

// Succeeded сообщает, что платёж прошёл.
func (v *Verification) Succeeded() bool {
	return v.Status == StatusSuccess
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type verifyData struct {
	Status    string     `json:"status"`
	Reference string     `json:"reference"`
	Amount    int64      `json:"amount"`
	PaidAt    *time.Time `json:"paid_at"`
}

// NewClient создаёт клиент Paystack. Временные ошибки и ответы 5xx повторяются
// только для GET.
func NewClient(baseURL, secretKey string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.CheckRetry = retryPolicy
	rc.Logger = nil
	if logger != nil {
		rc.Logger = leveledLogger{logger.Sugar().Named("paystack")}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: rc,
	}
}

// Initialize создаёт платёж и возвращает ссылку на страницу оплаты.
func (c *Client) Initialize(ctx context.Context, in InitializeRequest) (*Authorization, error) {
	body, err := json.Marshal(map[string]any{
		"email":        in.Email,
		"amount":       ToKobo(in.Amount),
		"reference":    in.Reference,
		"callback_url": in.CallbackURL,
		"metadata":     in.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var auth Authorization
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &auth); err != nil {
		return nil, err
	}
	if auth.Reference == "" {
		auth.Reference = in.Reference
	}
	return &auth, nil
}

// Verify запрашивает у Paystack итоговый статус транзакции.
func (c *Client) Verify(ctx context.Context, reference string) (*Verification, error) {
	var data verifyData
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data); err != nil {
		return nil, err
	}
	return &Verification{
		Status:    data.Status,
		Reference: data.Reference,
		Amount:    FromKobo(data.Amount),
		PaidAt:    data.PaidAt,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if c == nil || c.secretKey == "" {
		return ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	if method != http.MethodGet {
		ctx = context.WithValue(ctx, noRetryKey{}, true)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	switch {
	case resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, env.Message)
	case decodeErr != nil:
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, decodeErr)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, env.Message)
	case !env.Status:
		return fmt.Errorf("%w: %s", ErrRejected, env.Message)
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// VerifySignature проверяет подпись вебхука: HMAC-SHA512 тела запроса по секретному ключу.
func (c *Client) VerifySignature(body []byte, signature string) bool {
	if c == nil || c.secretKey == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(c.secretKey))
	mac.Write(body)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// ToKobo переводит сумму в минимальные единицы валюты.
func ToKobo(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// FromKobo переводит минимальные единицы валюты в сумму.
func FromKobo(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}
