package signals

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/optionsignal/trading-engine/internal/observ"
)

// Kind is the directional stance a signal expresses.
type Kind string

const (
	KindCall Kind = "Call"
	KindPut  Kind = "Put"
)

// Right returns the option right matching the stance.
func (k Kind) Right() string {
	if k == KindPut {
		return "put"
	}
	return "call"
}

// Signal is one normalized row of the signal feed. Nanos is the UTC timestamp
// as epoch nanoseconds; every range comparison uses it so signals loaded from
// different timestamp spellings stay mutually comparable.
type Signal struct {
	Nanos  int64
	Ticker string
	Kind   Kind
}

// ErrNoValidSignals means the feed parsed but every row was dropped during
// cleaning. The host must treat this as fatal.
var ErrNoValidSignals = errors.New("no valid signals after cleaning")

// LoadError reports a structurally unusable feed (missing required columns).
type LoadError struct {
	Missing []string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("signal feed missing required columns: %s", strings.Join(e.Missing, ", "))
}

// Store indexes the cleaned signal feed per ticker, sorted ascending by
// timestamp. Immutable after Load.
type Store struct {
	byTicker map[string][]Signal
	total    int
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"1/2/2006 15:04",
	"1/2/2006",
}

// Load parses raw tabular bytes with columns timestamp/ticker/signaltype
// (case-insensitive headers). Rows with unparseable timestamps or a signal
// type outside {Call, Put} are dropped; tickers are trimmed and upper-cased.
func Load(raw []byte) (*Store, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse signal feed: %w", err)
	}
	if len(records) == 0 {
		return nil, &LoadError{Missing: []string{"timestamp", "ticker", "signaltype"}}
	}

	cols := map[string]int{}
	for i, name := range records[0] {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	var missing []string
	for _, want := range []string{"timestamp", "ticker", "signaltype"} {
		if _, ok := cols[want]; !ok {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return nil, &LoadError{Missing: missing}
	}

	tsCol, tickCol, kindCol := cols["timestamp"], cols["ticker"], cols["signaltype"]
	maxCol := tsCol
	if tickCol > maxCol {
		maxCol = tickCol
	}
	if kindCol > maxCol {
		maxCol = kindCol
	}

	s := &Store{byTicker: map[string][]Signal{}}
	dropped := 0
	for _, rec := range records[1:] {
		if len(rec) <= maxCol {
			dropped++
			continue
		}
		nanos, ok := parseTimestamp(rec[tsCol])
		if !ok {
			dropped++
			continue
		}
		kind, ok := parseKind(rec[kindCol])
		if !ok {
			dropped++
			continue
		}
		ticker := strings.ToUpper(strings.TrimSpace(rec[tickCol]))
		if ticker == "" {
			dropped++
			continue
		}
		s.byTicker[ticker] = append(s.byTicker[ticker], Signal{Nanos: nanos, Ticker: ticker, Kind: kind})
		s.total++
	}

	if s.total == 0 {
		return nil, ErrNoValidSignals
	}

	// Stable sort keeps file order for equal timestamps.
	for ticker, sigs := range s.byTicker {
		sort.SliceStable(sigs, func(i, j int) bool { return sigs[i].Nanos < sigs[j].Nanos })
		observ.Log("signals_loaded", map[string]any{"ticker": ticker, "count": len(sigs)})
	}
	observ.IncCounterBy("signals_dropped_total", nil, float64(dropped))
	observ.IncCounterBy("signals_loaded_total", nil, float64(s.total))

	return s, nil
}

func parseTimestamp(field string) (int64, bool) {
	field = strings.TrimSpace(field)
	if field == "" {
		return 0, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, field); err == nil {
			return t.UTC().UnixNano(), true
		}
	}
	return 0, false
}

func parseKind(field string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "call":
		return KindCall, true
	case "put":
		return KindPut, true
	default:
		return "", false
	}
}

// Tickers returns the instrument universe of the feed.
func (s *Store) Tickers() []string {
	out := make([]string, 0, len(s.byTicker))
	for t := range s.byTicker {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of signals retained for a ticker.
func (s *Store) Count(ticker string) int {
	return len(s.byTicker[ticker])
}

// LatestBefore returns the last signal for ticker with
// afterNanos < t <= uptoNanos (inclusive=true) or afterNanos < t < uptoNanos
// (inclusive=false). The pre-market scan uses the exclusive form.
func (s *Store) LatestBefore(ticker string, afterNanos, uptoNanos int64, inclusive bool) (Signal, bool) {
	sigs := s.byTicker[ticker]
	// Binary search for the first signal beyond the upper bound, then step back.
	i := sort.Search(len(sigs), func(i int) bool {
		if inclusive {
			return sigs[i].Nanos > uptoNanos
		}
		return sigs[i].Nanos >= uptoNanos
	})
	if i == 0 {
		return Signal{}, false
	}
	last := sigs[i-1]
	if last.Nanos <= afterNanos {
		return Signal{}, false
	}
	return last, true
}
