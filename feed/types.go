package feed

import (
	"encoding/json"
	"fmt"
	"time"
)

// Exchange segment names used on the wire.
const (
	SegmentIndex  = "IDX_I"
	SegmentNSEEQ  = "NSE_EQ"
	SegmentBSEEQ  = "BSE_EQ"
	SegmentNSEFO  = "NSE_FO"
	SegmentBSEFO  = "BSE_FO"
	SegmentMCXCom = "MCX_COM"
)

// Mode selects how much data the feed streams for an instrument.
type Mode string

const (
	ModeTicker Mode = "TICKER"
	ModeQuote  Mode = "QUOTE"
)

// Subscription request codes. The code distinguishes subscribe-for-quote
// from ticker-only subscriptions.
const (
	RequestCodeSubscribeTicker   = 15
	RequestCodeUnsubscribeTicker = 16
	RequestCodeSubscribeQuote    = 17
	RequestCodeUnsubscribeQuote  = 18
	RequestCodeDisconnect        = 12
)

// SubscribeVersion is sent with every subscription request.
const SubscribeVersion = "v2"

// MaxInstrumentsPerRequest is the wire limit per subscription message.
const MaxInstrumentsPerRequest = 100

// Instrument identifies a tradable instrument. Identity is
// (SecurityID, ExchangeSegment); the display fields are informational.
type Instrument struct {
	SecurityID      string
	ExchangeSegment string
	Symbol          string
	DisplayName     string
}

// Key returns the instrument's identity key.
func (i Instrument) Key() string {
	return i.ExchangeSegment + ":" + i.SecurityID
}

// Valid reports whether the instrument carries its identity.
func (i Instrument) Valid() bool {
	return i.SecurityID != "" && i.ExchangeSegment != ""
}

// Subscription pairs an instrument with a streaming mode. Uniqueness is by
// instrument identity plus mode.
type Subscription struct {
	Instrument Instrument
	Mode       Mode
}

func (s Subscription) key() string {
	return s.Instrument.Key() + ":" + string(s.Mode)
}

// FeedTick is the canonical tick record. Each new tick for an instrument
// supersedes the previous one; no history is retained.
type FeedTick struct {
	SecurityID    string
	LastPrice     float64
	Change        float64
	ChangePercent float64
	ReceivedAt    time.Time
}

// subscribeInstrument is the wire form of one instrument in a subscribe request.
type subscribeInstrument struct {
	ExchangeSegment string `json:"ExchangeSegment"`
	SecurityID      string `json:"SecurityId"`
}

// subscribeRequest is the feed's documented subscription message schema.
type subscribeRequest struct {
	RequestCode     int                   `json:"RequestCode"`
	InstrumentCount int                   `json:"InstrumentCount"`
	InstrumentList  []subscribeInstrument `json:"InstrumentList"`
	Version         string                `json:"version"`
}

// newSubscribeRequest builds one subscription message for up to 100
// instruments of a single mode.
func newSubscribeRequest(code int, instruments []Instrument) (*subscribeRequest, error) {
	if len(instruments) == 0 {
		return nil, fmt.Errorf("no instruments provided")
	}
	if len(instruments) > MaxInstrumentsPerRequest {
		return nil, fmt.Errorf("too many instruments: %d (max %d per message)", len(instruments), MaxInstrumentsPerRequest)
	}

	list := make([]subscribeInstrument, len(instruments))
	for i, inst := range instruments {
		list[i] = subscribeInstrument{
			ExchangeSegment: inst.ExchangeSegment,
			SecurityID:      inst.SecurityID,
		}
	}
	return &subscribeRequest{
		RequestCode:     code,
		InstrumentCount: len(list),
		InstrumentList:  list,
		Version:         SubscribeVersion,
	}, nil
}

func (r *subscribeRequest) toJSON() ([]byte, error) {
	return json.Marshal(r)
}

// subscribeCode maps a mode to its subscribe request code.
func subscribeCode(m Mode) int {
	if m == ModeQuote {
		return RequestCodeSubscribeQuote
	}
	return RequestCodeSubscribeTicker
}

// unsubscribeCode maps a mode to its unsubscribe request code.
func unsubscribeCode(m Mode) int {
	if m == ModeQuote {
		return RequestCodeUnsubscribeQuote
	}
	return RequestCodeUnsubscribeTicker
}

// Inbound feed message types.
const (
	messageTypeConnected  = "connected"
	messageTypeMarketFeed = "market_feed"
	messageTypeError      = "error"
)

// envelope is the inbound feed message frame. Data may be a single tick
// object, an array of ticks, or a segment-keyed nesting.
type envelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Status is the user-visible connection state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusFailed       Status = "failed"
)
