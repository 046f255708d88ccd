package messaging

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hamsafar/dispatch/pkg/async"
	"github.com/hamsafar/dispatch/pkg/logger"
	"github.com/hamsafar/dispatch/pkg/models"
)

const signatureHeader = "X-Hub-Signature-256"

// WebhookHandler terminates WhatsApp status callbacks. The ACK path is kept
// fast: signature check, 200, then detached processing.
type WebhookHandler struct {
	store       Store
	appSecret   string
	verifyToken string
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(store Store, appSecret, verifyToken string) *WebhookHandler {
	return &WebhookHandler{store: store, appSecret: appSecret, verifyToken: verifyToken}
}

// Verify handles the provider's one-time GET subscription handshake.
func (h *WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || token != h.verifyToken {
		c.Status(http.StatusForbidden)
		return
	}

	c.String(http.StatusOK, challenge)
}

// Receive handles POST status callbacks. Invalid signatures are rejected with
// 403; valid payloads are acknowledged immediately and processed afterwards.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	if !h.validSignature(body, c.GetHeader(signatureHeader)) {
		logger.WarnContext(c.Request.Context(), "webhook signature mismatch")
		c.Status(http.StatusForbidden)
		return
	}

	// ACK before processing; the provider expects a response within 5s.
	c.Status(http.StatusOK)

	async.Go(c.Request.Context(), "webhook-status-update", func(ctx context.Context) {
		h.process(ctx, body)
	})
}

func (h *WebhookHandler) validSignature(body []byte, header string) bool {
	if h.appSecret == "" || header == "" {
		return false
	}

	expected := strings.TrimPrefix(header, "sha256=")
	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}

type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Statuses []struct {
					ID     string `json:"id"`
					Status string `json:"status"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// statusFromProvider maps provider callback strings onto delivery statuses.
var statusFromProvider = map[string]models.DeliveryStatus{
	"sent":      models.DeliverySent,
	"delivered": models.DeliveryDelivered,
	"read":      models.DeliveryRead,
	"failed":    models.DeliveryFailed,
}

func (h *WebhookHandler) process(ctx context.Context, body []byte) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.WarnContext(ctx, "webhook payload decode failed", zap.Error(err))
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				next, ok := statusFromProvider[st.Status]
				if !ok || st.ID == "" {
					continue
				}
				advanced, err := h.store.AdvanceStatusByMessageID(ctx, st.ID, next)
				if err != nil {
					logger.ErrorContext(ctx, "webhook status update failed",
						zap.String("message_id", st.ID),
						zap.Error(err),
					)
					continue
				}
				if !advanced {
					logger.DebugContext(ctx, "webhook status ignored",
						zap.String("message_id", st.ID),
						zap.String("status", st.Status),
					)
				}
			}
		}
	}
}
