package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"sort"

	"github.com/optionsignal/trading-engine/internal/outbox"
)

// Summarizes an outbox journal: pairs buy and sell fills per contract and
// prints per-instrument round-trip P&L.
func main() {
	path := flag.String("outbox", "data/outbox.jsonl", "path to outbox journal")
	flag.Parse()
	log.SetFlags(0)

	entries, err := outbox.Read(*path)
	if err != nil {
		log.Fatalf("read outbox %s: %v", *path, err)
	}
	if len(entries) == 0 {
		log.Fatalf("no entries in %s", *path)
	}

	type openLot struct {
		qty  int
		cost float64 // total paid
	}
	lots := map[string]*openLot{} // contract -> open lot
	tickerOf := map[string]string{}
	pnl := map[string]float64{}
	roundTrips := map[string]int{}
	orders, fills := 0, 0

	for _, entry := range entries {
		switch entry.Type {
		case "order":
			orders++
		case "fill":
			var fill outbox.Fill
			if err := json.Unmarshal(entry.Data, &fill); err != nil {
				continue
			}
			fills++
			tickerOf[fill.Contract] = fill.Ticker
			lot := lots[fill.Contract]
			if lot == nil {
				lot = &openLot{}
				lots[fill.Contract] = lot
			}
			switch fill.Side {
			case "BUY":
				lot.qty += fill.Quantity
				lot.cost += fill.Price * float64(fill.Quantity)
			case "SELL":
				if lot.qty <= 0 {
					continue
				}
				avg := lot.cost / float64(lot.qty)
				qty := fill.Quantity
				if qty > lot.qty {
					qty = lot.qty
				}
				pnl[fill.Ticker] += (fill.Price - avg) * float64(qty)
				roundTrips[fill.Ticker]++
				lot.qty -= qty
				lot.cost -= avg * float64(qty)
			}
		}
	}

	tickers := make([]string, 0, len(pnl))
	for t := range pnl {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	fmt.Printf("journal: %d orders, %d fills\n", orders, fills)
	total := 0.0
	for _, t := range tickers {
		fmt.Printf("%-8s round-trips=%-3d pnl=%+.2f\n", t, roundTrips[t], pnl[t])
		total += pnl[t]
	}
	openCount := 0
	for contract, lot := range lots {
		if lot.qty > 0 {
			openCount++
			fmt.Printf("open: %s x%d (%s) cost=%.2f\n", contract, lot.qty, tickerOf[contract], lot.cost)
		}
	}
	fmt.Printf("total pnl=%+.2f, open positions=%d\n", total, openCount)
}
