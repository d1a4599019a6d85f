package model

import "time"

// CandleRecord is the canonical unit of the pipeline: one OHLCV summary
// for one symbol over one interval. Records are constructed once per
// inbound candle event, handed to each sink read-only, and discarded.
type CandleRecord struct {
	Symbol    string // Product identifier (e.g., "BTC-USD")
	StartTime int64  // Interval start (seconds since epoch)
	Open      string // Decimal string, as delivered by the feed
	High      string
	Low       string
	Close     string
	Volume    string
}

// EventTime returns the interval start as a UTC timestamp.
func (r CandleRecord) EventTime() time.Time {
	return time.Unix(r.StartTime, 0).UTC()
}

// CandlePayload is the published wire format for a candle. The same
// shape is used for the structured log entry and the broker message.
type CandlePayload struct {
	EventTime  string `json:"event_time"` // ISO-8601
	Symbol     string `json:"symbol"`
	OpenPrice  string `json:"open_price"`
	HighPrice  string `json:"high_price"`
	LowPrice   string `json:"low_price"`
	ClosePrice string `json:"close_price"`
	Volume     string `json:"volume"`
	StartTime  int64  `json:"start_time"` // Seconds since epoch
	Timestamp  string `json:"timestamp,omitempty"`
}

// Payload converts a record to its published form. Timestamp is left
// empty; the publisher stamps it at send time if absent.
func (r CandleRecord) Payload() CandlePayload {
	return CandlePayload{
		EventTime:  r.EventTime().Format(time.RFC3339),
		Symbol:     r.Symbol,
		OpenPrice:  r.Open,
		HighPrice:  r.High,
		LowPrice:   r.Low,
		ClosePrice: r.Close,
		Volume:     r.Volume,
		StartTime:  r.StartTime,
	}
}
