package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/payrouter/internal/auth"
	"github.com/danmuck/payrouter/internal/ledger"
	"github.com/danmuck/payrouter/internal/observability"
	"github.com/danmuck/payrouter/internal/router"
	"github.com/danmuck/payrouter/internal/txn"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const homeMessage = "Payment processing API is running correctly."

func (s *Server) registerRoutes() {
	s.engine.GET("/", home)
	s.engine.GET("/health", s.health)
	s.engine.GET("/ready", s.ready)
	s.engine.GET("/metrics", gin.WrapH(observability.Handler()))

	v1 := s.engine.Group("/api/v1")
	v1.GET("/", home)
	v1.POST("/payments/process", s.processPayment)
	if token := strings.TrimSpace(s.cfg.AdminToken); token != "" {
		v1.GET("/history", requireToken(auth.StaticToken{Token: token}), s.history)
	} else {
		v1.GET("/history", s.history)
	}
	v1.GET("/protocols", s.listProtocols)
}

func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.CheckHeader(v, c.GetHeader("Authorization")); err != nil {
			log.Warn().Str("path", c.FullPath()).Str("client_ip", c.ClientIP()).Msg("unauthorized_request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func home(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": homeMessage})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

func (s *Server) ready(c *gin.Context) {
	if pinger, ok := s.ledger.(ledger.Pinger); ok {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pinger.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// paymentRequest is the JSON body of POST /api/v1/payments/process.
type paymentRequest struct {
	Protocol       string     `json:"protocol"`
	Amount         flexAmount `json:"amount"`
	AuthCode       string     `json:"auth_code"`
	CardNumber     string     `json:"card_number"`
	PayoutType     string     `json:"payout_type"`
	MerchantWallet string     `json:"merchant_wallet"`
}

// flexAmount accepts "12.50" and 12.50 alike and keeps the literal text.
type flexAmount string

func (a *flexAmount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = flexAmount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("amount must be a string or number: %w", err)
	}
	*a = flexAmount(n.String())
	return nil
}

func (p paymentRequest) toRequest() txn.Request {
	return txn.Request{
		Protocol:      p.Protocol,
		Amount:        string(p.Amount),
		ApprovalCode:  p.AuthCode,
		CardNumber:    p.CardNumber,
		PayoutNetwork: txn.NetworkFromPayoutType(p.PayoutType),
		Destination:   strings.TrimSpace(p.MerchantWallet),
		Channel:       txn.ChannelHTTP,
	}
}

func decodePayment(body io.Reader) (paymentRequest, error) {
	var req paymentRequest
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return paymentRequest{}, err
	}
	return req, nil
}

func (s *Server) processPayment(c *gin.Context) {
	payload, err := decodePayment(c.Request.Body)
	if err != nil {
		log.Warn().Err(err).Msg("payment_body_rejected")
		c.JSON(http.StatusBadRequest, gin.H{"status": router.StatusDeclined, "message": router.MessageValidationFailed})
		return
	}
	res := s.processor.Process(c.Request.Context(), payload.toRequest())
	status, body := renderResult(res)
	c.JSON(status, body)
}

// renderResult maps a router outcome onto the HTTP status and JSON body.
func renderResult(res router.Result) (int, gin.H) {
	switch res.Outcome {
	case router.Declined:
		return http.StatusBadRequest, gin.H{"status": router.StatusDeclined, "message": router.MessageValidationFailed}
	case router.PersistFailed:
		return http.StatusInternalServerError, gin.H{"status": router.StatusError, "message": router.MessageInternalError}
	}

	code := http.StatusBadRequest
	if res.Outcome == router.Settled {
		code = http.StatusOK
	}
	if res.SettlementType == txn.SettlementPayout {
		return code, gin.H{
			"status":  res.Status,
			"message": router.MessagePayoutInitiated,
			"tx_hash": txn.OptionalString(res.TxHash),
		}
	}
	return code, gin.H{
		"status":         res.Status,
		"transaction_id": res.TransactionID,
	}
}

func (s *Server) history(c *gin.Context) {
	limit := DefaultHistoryLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	records, err := s.ledger.History(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("history_failed")
		c.JSON(http.StatusInternalServerError, gin.H{"status": router.StatusError, "message": router.MessageInternalError})
		return
	}
	if records == nil {
		records = []txn.Record{}
	}
	c.JSON(http.StatusOK, records)
}

type protocolInfo struct {
	Name               string `json:"name"`
	ApprovalCodeLength int    `json:"approval_length"`
	Settlement         string `json:"settlement"`
}

func (s *Server) listProtocols(c *gin.Context) {
	defs := s.registry.List()
	out := make([]protocolInfo, 0, len(defs))
	for _, def := range defs {
		out = append(out, protocolInfo{
			Name:               def.Name,
			ApprovalCodeLength: def.ApprovalCodeLength,
			Settlement:         string(def.Settlement),
		})
	}
	c.JSON(http.StatusOK, out)
}
