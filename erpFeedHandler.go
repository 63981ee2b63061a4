package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/utils"
	"github.com/mmdatafocus/supplymap_backend/workflow"
	"github.com/sirupsen/logrus"
)

const signatureAttribute = "signature"

// PubSubMessage is the push envelope Pub/Sub posts to the endpoint.
type PubSubMessage struct {
	Message struct {
		Data       []byte            `json:"data,omitempty"`
		ID         string            `json:"id"`
		Attributes map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

var errBadSignature = errors.New("erp feed signature mismatch")

// verifyFeedSignature checks the hex HMAC-SHA256 of data when secret is set.
func verifyFeedSignature(secret string, data []byte, signature string) error {
	if secret == "" {
		return nil
	}
	expected, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(expected) == 0 {
		return errBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return errBadSignature
	}
	return nil
}

// erpFeedPushHandler consumes ERP receipt lines pushed by Pub/Sub. Malformed,
// unsigned or rejected messages are acknowledged with 204 so they do not loop;
// infrastructure failures answer 500 so Pub/Sub redelivers.
func erpFeedPushHandler(logger *logrus.Logger, settings config.SupplySettings) gin.HandlerFunc {
	secret := os.Getenv("ERP_FEED_SECRET")
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "erpFeedPushHandler")
		defer span.End()

		var msg PubSubMessage
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "erpFeedHandler.go", "erpFeedPushHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}
		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "erpFeedHandler.go", "erpFeedPushHandler", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}

		fields := logrus.Fields{
			"field":        "erpFeedPushHandler",
			"message_id":   msg.Message.ID,
			"subscription": msg.Subscription,
		}
		if err := verifyFeedSignature(secret, msg.Message.Data, msg.Message.Attributes[signatureAttribute]); err != nil {
			logger.WithFields(fields).Warn("dropping erp feed message: " + err.Error())
			c.Status(http.StatusNoContent)
			return
		}

		var feed workflow.ReceiptFeedMessage
		if err := json.Unmarshal(msg.Message.Data, &feed); err != nil {
			config.LogError(logger, "erpFeedHandler.go", "erpFeedPushHandler", "Unmarshal feed message", string(msg.Message.Data), err)
			c.Status(http.StatusNoContent)
			return
		}
		// the Pub/Sub id stands in when the ERP did not set one
		if strings.TrimSpace(feed.MessageId) == "" {
			feed.MessageId = msg.Message.ID
		}

		ctx = utils.SetUserNameInContext(ctx, workflow.FeedSource)
		if _, err := workflow.ProcessReceiptFeedMessage(ctx, logger, settings, feed); err != nil {
			if utils.IsValidationError(err, "") {
				c.Status(http.StatusNoContent)
				return
			}
			span.RecordError(err)
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
