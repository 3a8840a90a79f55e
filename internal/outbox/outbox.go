package outbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

type Order struct {
	ID        string    `json:"id"`
	Ticker    string    `json:"ticker"`
	Contract  string    `json:"contract"`
	Side      string    `json:"side"` // BUY | SELL
	Qty       int       `json:"qty"`
	Reason    string    `json:"reason"` // signal | reversal | take_profit | stop_loss
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

type Fill struct {
	OrderID     string    `json:"order_id"`
	Ticker      string    `json:"ticker"`
	Contract    string    `json:"contract"`
	Quantity    int       `json:"quantity"`
	Price       float64   `json:"price"`
	Side        string    `json:"side"`
	Timestamp   time.Time `json:"timestamp"`
	LatencyMs   int       `json:"latency_ms"`
	SlippageBps int       `json:"slippage_bps"`
}

type Entry struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Event time.Time       `json:"event"`
}

// Outbox is an append-only JSONL journal of orders and fills. It is the
// durable record of a paper run; nothing in the decision path reads it back.
type Outbox struct {
	path string
}

func New(path string) (*Outbox, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return &Outbox{path: path}, nil
}

func (o *Outbox) WriteOrder(order Order) error {
	return o.appendEntry("order", order)
}

func (o *Outbox) WriteFill(fill Fill) error {
	return o.appendEntry("fill", fill)
}

func (o *Outbox) appendEntry(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	entry := Entry{Type: kind, Data: data, Event: time.Now().UTC()}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(o.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteString(string(line) + "\n")
	return err
}

// Read returns every journal entry in write order. Used by the replay
// summarizer, not by the engine.
func Read(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, line := range splitLines(string(data)) {
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
