package bybit

import (
	"strconv"
	"strings"
	"time"

	"github.com/quantfold/marketfuse/internal/domain"
)

// Exchange is the name this adapter reports on every StreamMessage.
const Exchange = "bybit"

// intervals maps internal timeframes to Bybit v5 interval codes (minutes,
// except D/W/M which this adapter does not use).
var intervals = map[domain.Timeframe]string{
	domain.Timeframe1m:  "1",
	domain.Timeframe5m:  "5",
	domain.Timeframe15m: "15",
	domain.Timeframe1h:  "60",
	domain.Timeframe4h:  "240",
}

func timeframeFor(code string) (domain.Timeframe, bool) {
	for tf, c := range intervals {
		if c == code {
			return tf, true
		}
	}
	return "", false
}

// topicParts splits "kline.15.BTCUSDT" into its segments.
func topicParts(topic string) []string {
	return strings.Split(topic, ".")
}

// klineData is one entry of a kline topic payload.
type klineData struct {
	Start    int64  `json:"start"`
	Interval string `json:"interval"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
	Confirm  bool   `json:"confirm"`
}

// ToDomain converts a kline entry into a candle stream message.
func (k *klineData) ToDomain(symbol string, eventTime time.Time) (domain.StreamMessage, bool) {
	tf, ok := timeframeFor(k.Interval)
	if !ok {
		return domain.StreamMessage{}, false
	}
	return domain.StreamMessage{
		Kind:      domain.KindCandle,
		Exchange:  Exchange,
		Symbol:    symbol,
		EventTime: eventTime,
		Timeframe: tf,
		Candle: &domain.Candle{
			OpenTime:  time.UnixMilli(k.Start),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			Confirmed: k.Confirm,
		},
	}, true
}

// tradeData is one entry of a publicTrade topic payload.
type tradeData struct {
	Time   int64  `json:"T"`
	Symbol string `json:"s"`
	Side   string `json:"S"` // "Buy" or "Sell"
	Size   string `json:"v"`
	Price  string `json:"p"`
}

// ToDomain converts a public trade into a trade stream message.
func (t *tradeData) ToDomain(eventTime time.Time) domain.StreamMessage {
	side := domain.TradeBuy
	if t.Side == "Sell" {
		side = domain.TradeSell
	}
	return domain.StreamMessage{
		Kind:      domain.KindTrade,
		Exchange:  Exchange,
		Symbol:    t.Symbol,
		EventTime: eventTime,
		Trade: &domain.Trade{
			Time:  time.UnixMilli(t.Time),
			Price: parseFloat(t.Price),
			Size:  parseFloat(t.Size),
			Side:  side,
		},
	}
}

// bookData is the orderbook topic payload. The envelope's type field decides
// whether it is a full snapshot or a delta.
type bookData struct {
	Symbol string      `json:"s"`
	Bids   [][2]string `json:"b"`
	Asks   [][2]string `json:"a"`
	Update int64       `json:"u"`
}

// ToDomain converts an orderbook payload into a book-delta stream message.
// Bybit resends a full snapshot after its own service restarts; propagating
// the snapshot flag lets the store discard stale levels.
func (b *bookData) ToDomain(snapshot bool, eventTime time.Time) domain.StreamMessage {
	return domain.StreamMessage{
		Kind:      domain.KindBookDelta,
		Exchange:  Exchange,
		Symbol:    b.Symbol,
		EventTime: eventTime,
		Book: &domain.BookDelta{
			Snapshot: snapshot,
			Time:     eventTime,
			Bids:     parseLevels(b.Bids),
			Asks:     parseLevels(b.Asks),
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
