// Package wire maps terminal frames onto router requests.
package wire

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/danmuck/payrouter/internal/terminal/frame"
	"github.com/danmuck/payrouter/internal/terminal/tlv"
	"github.com/danmuck/payrouter/internal/txn"
	"github.com/rs/zerolog/log"
)

// Field ids of an auth request.
const (
	FieldProtocol       uint16 = 1
	FieldAmount         uint16 = 2
	FieldAuthCode       uint16 = 3
	FieldCardNumber     uint16 = 4
	FieldPayoutType     uint16 = 5
	FieldMerchantWallet uint16 = 6
)

// ErrInvalidMessage wraps every reason a terminal message could not be decoded.
var ErrInvalidMessage = errors.New("wire: invalid message format")

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("wire: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("wire: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	frame.MsgAuthRequest: {
		{FieldProtocol, tlv.TypeString},
		{FieldAmount, tlv.TypeString},
		{FieldAuthCode, tlv.TypeString},
		{FieldCardNumber, tlv.TypeString},
	},
}

var optional = map[uint16]uint8{
	FieldPayoutType:     tlv.TypeString,
	FieldMerchantWallet: tlv.TypeString,
}

// Validate enforces required fields and field types for a message type.
// Unknown field ids are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	for id, typ := range optional {
		if f, found := tlv.GetField(fields, id); found && f.Type != typ {
			return ValidationError{MessageType: messageType, FieldID: id, Reason: "type mismatch"}
		}
	}
	return nil
}

// AuthRequest is the decoded body of a terminal authorization message.
type AuthRequest struct {
	Protocol       string
	Amount         string
	AuthCode       string
	CardNumber     string
	PayoutType     string
	MerchantWallet string
}

func (m AuthRequest) Request() txn.Request {
	return txn.Request{
		Protocol:      m.Protocol,
		Amount:        strings.TrimSpace(m.Amount),
		ApprovalCode:  m.AuthCode,
		CardNumber:    m.CardNumber,
		PayoutNetwork: txn.NetworkFromPayoutType(m.PayoutType),
		Destination:   strings.TrimSpace(m.MerchantWallet),
		Channel:       txn.ChannelTerminal,
	}
}

func (m AuthRequest) fields() []tlv.Field {
	fields := []tlv.Field{
		tlv.String(FieldProtocol, m.Protocol),
		tlv.String(FieldAmount, m.Amount),
		tlv.String(FieldAuthCode, m.AuthCode),
		tlv.String(FieldCardNumber, m.CardNumber),
	}
	if m.PayoutType != "" {
		fields = append(fields, tlv.String(FieldPayoutType, m.PayoutType))
	}
	if m.MerchantWallet != "" {
		fields = append(fields, tlv.String(FieldMerchantWallet, m.MerchantWallet))
	}
	return fields
}

// Decoder turns one inbound message into a router request.
type Decoder interface {
	Decode(r io.Reader) (txn.Request, error)
}

// FrameDecoder reads a single POS1 frame carrying an auth request.
type FrameDecoder struct {
	Limits frame.Limits
}

func NewDecoder() FrameDecoder {
	return FrameDecoder{Limits: frame.DefaultLimits()}
}

func (d FrameDecoder) Decode(r io.Reader) (txn.Request, error) {
	m, err := d.ReadAuthRequest(r)
	if err != nil {
		return txn.Request{}, err
	}
	return m.Request(), nil
}

// ReadAuthRequest reads and validates one frame. All failures wrap
// ErrInvalidMessage.
func (d FrameDecoder) ReadAuthRequest(r io.Reader) (AuthRequest, error) {
	limits := d.Limits
	if limits.MaxPayloadBytes == 0 {
		limits = frame.DefaultLimits()
	}
	f, err := frame.ReadFrame(r, limits)
	if err != nil {
		return AuthRequest{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if f.Header.Flags&frame.FlagIsResponse != 0 {
		return AuthRequest{}, fmt.Errorf("%w: response flag set on request", ErrInvalidMessage)
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return AuthRequest{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if err := Validate(f.Header.MessageType, fields); err != nil {
		return AuthRequest{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}

	var m AuthRequest
	targets := map[uint16]*string{
		FieldProtocol:       &m.Protocol,
		FieldAmount:         &m.Amount,
		FieldAuthCode:       &m.AuthCode,
		FieldCardNumber:     &m.CardNumber,
		FieldPayoutType:     &m.PayoutType,
		FieldMerchantWallet: &m.MerchantWallet,
	}
	for id, dst := range targets {
		field, ok := tlv.GetField(fields, id)
		if !ok {
			continue
		}
		text, err := field.Text()
		if err != nil {
			return AuthRequest{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
		}
		*dst = text
	}
	log.Debug().
		Uint64("message_id", f.Header.MessageID).
		Int("fields", len(fields)).
		Str("protocol", m.Protocol).
		Msg("terminal_message_decoded")
	return m, nil
}

// Encode builds the frame a terminal sends for m.
func Encode(messageID uint64, m AuthRequest) frame.Frame {
	return frame.New(messageID, frame.MsgAuthRequest, tlv.EncodeFields(m.fields()))
}

// Write encodes m and writes it to w.
func Write(w io.Writer, messageID uint64, m AuthRequest) error {
	return frame.WriteFrame(w, Encode(messageID, m), frame.DefaultLimits())
}
