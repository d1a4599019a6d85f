package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/quantfeed/coinbase-ingest/internal/model"
)

// envelope is the decoded shape of an inbound frame. Frames carry an
// optional events list; anything else (subscribe acks, heartbeats) has
// no events and is ignored.
type envelope struct {
	Channel string      `json:"channel"`
	Events  []feedEvent `json:"events"`
}

type feedEvent struct {
	Type    string       `json:"type"`
	Candles []wireCandle `json:"candles"`
}

// wireCandle is one candle object as delivered by the feed.
type wireCandle struct {
	ProductID string      `json:"product_id"`
	Start     unixSeconds `json:"start"`
	Open      string      `json:"open"`
	High      string      `json:"high"`
	Low       string      `json:"low"`
	Close     string      `json:"close"`
	Volume    string      `json:"volume"`
}

// unixSeconds accepts an epoch-seconds value whether the feed quotes it
// or not.
type unixSeconds int64

func (u *unixSeconds) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*u = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse start timestamp %q: %w", s, err)
	}
	*u = unixSeconds(v)
	return nil
}

// DecodeFrame parses a raw frame into candle records, preserving wire
// order. Frames without an events list return (nil, nil); events of
// types other than snapshot/update are skipped. On a malformed candle
// the records normalized before the failure are still returned so the
// caller can dispatch them before counting the error.
func DecodeFrame(data []byte) ([]model.CandleRecord, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse frame: %w", err)
	}

	if len(env.Events) == 0 {
		return nil, nil
	}

	var records []model.CandleRecord
	for _, ev := range env.Events {
		if ev.Type != "snapshot" && ev.Type != "update" {
			continue
		}
		for _, c := range ev.Candles {
			rec, err := c.normalize()
			if err != nil {
				return records, err
			}
			records = append(records, rec)
		}
	}

	return records, nil
}

// normalize maps one wire candle to the canonical record. Price and
// volume strings pass through unparsed.
func (c wireCandle) normalize() (model.CandleRecord, error) {
	if c.ProductID == "" {
		return model.CandleRecord{}, fmt.Errorf("candle missing product_id")
	}
	if c.Start <= 0 {
		return model.CandleRecord{}, fmt.Errorf("candle %s missing start timestamp", c.ProductID)
	}
	for field, v := range map[string]string{
		"open": c.Open, "high": c.High, "low": c.Low, "close": c.Close, "volume": c.Volume,
	} {
		if v == "" {
			return model.CandleRecord{}, fmt.Errorf("candle %s missing %s", c.ProductID, field)
		}
	}

	return model.CandleRecord{
		Symbol:    c.ProductID,
		StartTime: int64(c.Start),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}, nil
}
