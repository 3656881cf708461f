package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/karanmehta/fraudlens/internal/logging"
	"github.com/karanmehta/fraudlens/internal/transaction"
	"github.com/karanmehta/fraudlens/internal/validation"
)

// Action tiers for the caller. Independent of the persisted fraud flag: a
// transaction can be flagged for investigation yet still only warrant a
// step-up check.
const (
	ActionClear   = "clear"
	ActionReview  = "review"
	ActionBlocked = "blocked"
)

// checkRequest is the inbound transaction. Field names follow the model
// schema's column naming, which is the service's public wire format.
type checkRequest struct {
	TransactionID  int64   `json:"TransactionID" binding:"required"`
	TransactionAmt float64 `json:"TransactionAmt" binding:"required"`
	TransactionDT  string  `json:"TransactionDT" binding:"required"`
	UserID         int64   `json:"User_ID" binding:"required"`
	ProductCD      string  `json:"ProductCD"`
	Merchant       string  `json:"Merchant"`
	CardNumber     string  `json:"CardNumber"`
	BINNumber      string  `json:"BINNumber"`
	CardNetwork    string  `json:"CardNetwork"`
	CardTier       string  `json:"CardTier"`
	CardType       string  `json:"CardType"`
	PhoneNumbers   string  `json:"PhoneNumbers"`
	UserRegion     string  `json:"User_Region"`
	OrderRegion    string  `json:"Order_Region"`
	ReceiverRegion string  `json:"Receiver_Region"`
	SenderEmail    string  `json:"Sender_email"`
	MerchantEmail  string  `json:"Merchant_email"`
	DeviceType     string  `json:"DeviceType"`
	DeviceInfo     string  `json:"DeviceInfo"`
}

// timestampFormats are accepted TransactionDT layouts, tried in order.
var timestampFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampFormats {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func (s *Server) checkTransaction(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "invalid request body: " + err.Error(),
		})
		return
	}

	if errs := validation.Validate(
		validation.Positive("TransactionAmt", req.TransactionAmt),
		validation.Required("TransactionDT", req.TransactionDT),
		validation.ValidCardNumber("CardNumber", req.CardNumber),
		validation.ValidBIN("BINNumber", req.BINNumber, req.CardNumber),
		validation.ValidEmail("Sender_email", req.SenderEmail),
		validation.ValidEmail("Merchant_email", req.MerchantEmail),
		validation.ValidPhone("PhoneNumbers", req.PhoneNumbers),
		validation.MaxLength("Merchant", req.Merchant, validation.MaxStringLength),
		validation.MaxLength("DeviceInfo", req.DeviceInfo, validation.MaxStringLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"errors": errs,
		})
		return
	}

	ts, err := parseTimestamp(req.TransactionDT)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "TransactionDT is not a recognized timestamp format",
		})
		return
	}

	txn := &transaction.Transaction{
		ID:              req.TransactionID,
		UserID:          req.UserID,
		Amount:          req.TransactionAmt,
		Timestamp:       ts,
		ProductCategory: req.ProductCD,
		Merchant:        req.Merchant,
		MerchantEmail:   req.MerchantEmail,
		SenderEmail:     req.SenderEmail,
		CardNumber:      req.CardNumber,
		BIN:             req.BINNumber,
		CardNetwork:     req.CardNetwork,
		CardTier:        req.CardTier,
		CardType:        req.CardType,
		PhoneNumber:     req.PhoneNumbers,
		UserRegion:      req.UserRegion,
		OrderRegion:     req.OrderRegion,
		ReceiverRegion:  req.ReceiverRegion,
		DeviceType:      req.DeviceType,
		DeviceInfo:      req.DeviceInfo,
	}

	result, err := s.pipeline.Process(c.Request.Context(), txn)
	if err != nil {
		if errors.Is(err, transaction.ErrDuplicateID) {
			c.JSON(http.StatusConflict, gin.H{
				"status":  "error",
				"message": "transaction id already exists",
			})
			return
		}
		logging.L(c.Request.Context()).Error("scoring failed",
			"txn_id", req.TransactionID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "transaction could not be scored",
		})
		return
	}

	action := s.tier(result.Probability)

	if result.IsFraud {
		c.JSON(http.StatusOK, gin.H{
			"status":             "success",
			"transaction_stored": true,
			"transaction_id":     result.TransactionID,
			"Distance":           result.Distance,
			"fraud_detection": gin.H{
				"is_fraud":          true,
				"fraud_probability": result.Probability,
			},
			"transaction_details": gin.H{
				"Transaction": req.TransactionID,
				"Amount":      req.TransactionAmt,
				"Datetime":    req.TransactionDT,
				"Merchant":    req.Merchant,
				"Region":      req.OrderRegion,
			},
			"Top_features": result.Explanation,
			"action":       action,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":             "success",
		"transaction_stored": true,
		"transaction_id":     result.TransactionID,
		"is_fraud":           false,
		"fraud_probability":  result.Probability,
		"message":            "transaction is not fraudulent, no attribution computed",
		"action":             action,
	})
}

// tier maps a probability to the caller-facing action: at or below the
// review threshold the transaction clears, above the block threshold it is
// blocked, and the band in between asks for a step-up check.
func (s *Server) tier(p float64) string {
	switch {
	case p <= s.cfg.ReviewThreshold:
		return ActionClear
	case p <= s.cfg.BlockThreshold:
		return ActionReview
	default:
		return ActionBlocked
	}
}
