package binance

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/quantfold/marketfuse/internal/domain"
)

// Exchange is the name this adapter reports on every StreamMessage.
const Exchange = "binance"

// intervals maps internal timeframes to Binance kline interval strings. They
// happen to coincide, kept as a map so the adapter owns the wire vocabulary.
var intervals = map[domain.Timeframe]string{
	domain.Timeframe1m:  "1m",
	domain.Timeframe5m:  "5m",
	domain.Timeframe15m: "15m",
	domain.Timeframe1h:  "1h",
	domain.Timeframe4h:  "4h",
}

// timeframeFor resolves a wire interval back to the internal timeframe.
func timeframeFor(interval string) (domain.Timeframe, bool) {
	for tf, iv := range intervals {
		if iv == interval {
			return tf, true
		}
	}
	return "", false
}

// streamEnvelope is the combined-stream wrapper: every payload arrives as
// {"stream":"btcusdt@kline_1m","data":{...}}.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// eventHeader identifies the payload type before full decoding.
type eventHeader struct {
	Event string `json:"e"`
}

// klineEvent is a kline/candlestick stream payload.
type klineEvent struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime  int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

// ToDomain converts a kline event into a candle stream message.
func (k *klineEvent) ToDomain() (domain.StreamMessage, bool) {
	tf, ok := timeframeFor(k.Kline.Interval)
	if !ok {
		return domain.StreamMessage{}, false
	}
	return domain.StreamMessage{
		Kind:      domain.KindCandle,
		Exchange:  Exchange,
		Symbol:    k.Symbol,
		EventTime: time.UnixMilli(k.EventTime),
		Timeframe: tf,
		Candle: &domain.Candle{
			OpenTime:  time.UnixMilli(k.Kline.OpenTime),
			Open:      parseFloat(k.Kline.Open),
			High:      parseFloat(k.Kline.High),
			Low:       parseFloat(k.Kline.Low),
			Close:     parseFloat(k.Kline.Close),
			Volume:    parseFloat(k.Kline.Volume),
			Confirmed: k.Kline.Closed,
		},
	}, true
}

// aggTradeEvent is an aggregated trade stream payload.
type aggTradeEvent struct {
	Event        string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// ToDomain converts an aggregated trade into a trade stream message. When the
// buyer is the maker the aggressor was a seller.
func (t *aggTradeEvent) ToDomain() domain.StreamMessage {
	side := domain.TradeBuy
	if t.IsBuyerMaker {
		side = domain.TradeSell
	}
	return domain.StreamMessage{
		Kind:      domain.KindTrade,
		Exchange:  Exchange,
		Symbol:    t.Symbol,
		EventTime: time.UnixMilli(t.EventTime),
		Trade: &domain.Trade{
			Time:  time.UnixMilli(t.TradeTime),
			Price: parseFloat(t.Price),
			Size:  parseFloat(t.Quantity),
			Side:  side,
		},
	}
}

// depthEvent is an incremental order book diff payload.
type depthEvent struct {
	Event     string      `json:"e"`
	EventTime int64       `json:"E"`
	Symbol    string      `json:"s"`
	Bids      [][2]string `json:"b"`
	Asks      [][2]string `json:"a"`
}

// ToDomain converts a depth diff into a book-delta stream message. Binance
// diffs are always deltas; a zero quantity removes the level.
func (d *depthEvent) ToDomain() domain.StreamMessage {
	return domain.StreamMessage{
		Kind:      domain.KindBookDelta,
		Exchange:  Exchange,
		Symbol:    d.Symbol,
		EventTime: time.UnixMilli(d.EventTime),
		Book: &domain.BookDelta{
			Time: time.UnixMilli(d.EventTime),
			Bids: parseLevels(d.Bids),
			Asks: parseLevels(d.Asks),
		},
	}
}

func parseLevels(raw [][2]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, lv := range raw {
		out = append(out, domain.PriceLevel{
			Price: parseFloat(lv[0]),
			Size:  parseFloat(lv[1]),
		})
	}
	return out
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
