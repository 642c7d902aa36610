// Package stream holds the trade event wire codec shared by the producer and
// the dispatcher. Transport implementations live in sub-packages.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

// ContentType is the media type of encoded trade events.
const ContentType = "application/json"

// wireTrade mirrors domain.TradeEvent on the wire. Numeric fields are kept
// raw so that quoted decimals, bare JSON numbers and garbage can be told
// apart. "ts" is accepted as an alias for "timestamp".
type wireTrade struct {
	ID        json.RawMessage `json:"id"`
	Symbol    string          `json:"symbol"`
	Qty       json.RawMessage `json:"qty"`
	Price     json.RawMessage `json:"price"`
	Timestamp *time.Time      `json:"timestamp"`
	TS        *time.Time      `json:"ts"`
}

// EncodeTrade serializes a trade event. Decimals are written as quoted
// strings so neither sign nor precision is lost in transit.
func EncodeTrade(t domain.TradeEvent) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("stream: encode trade %s: %w", t.ID, err)
	}
	return data, nil
}

// DecodeTrade parses a trade event. Every failure is a *domain.InvalidEventError:
// a payload that cannot be decoded now will never decode on redelivery.
func DecodeTrade(data []byte) (domain.TradeEvent, error) {
	var w wireTrade
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return domain.TradeEvent{}, domain.Invalid("", "payload", err.Error())
	}

	id, err := decodeID(w.ID)
	if err != nil {
		return domain.TradeEvent{}, domain.Invalid("", "id", err.Error())
	}

	qty, err := decodeDecimal(w.Qty)
	if err != nil {
		return domain.TradeEvent{}, domain.Invalid(id, "qty", err.Error())
	}
	price, err := decodeDecimal(w.Price)
	if err != nil {
		return domain.TradeEvent{}, domain.Invalid(id, "price", err.Error())
	}

	t := domain.TradeEvent{
		ID:     id,
		Symbol: domain.NormalizeSymbol(w.Symbol),
		Qty:    qty,
		Price:  price,
	}
	switch {
	case w.Timestamp != nil:
		t.Timestamp = w.Timestamp.UTC()
	case w.TS != nil:
		t.Timestamp = w.TS.UTC()
	}
	if t.Symbol == "" {
		return domain.TradeEvent{}, domain.Invalid(id, "symbol", "required")
	}
	return t, nil
}

// decodeID accepts a JSON string or integer id. Producers that key trades
// by a database serial send numbers.
func decodeID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", fmt.Errorf("required")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return "", fmt.Errorf("required")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("must be a string or integer")
	}
	if _, err := n.Int64(); err != nil {
		return "", fmt.Errorf("must be a string or integer")
	}
	return n.String(), nil
}

// decodeDecimal accepts a quoted decimal string or a bare JSON number.
func decodeDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Decimal{}, fmt.Errorf("required")
	}
	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, err
		}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("not a finite number: %q", s)
	}
	return d, nil
}
