package backtest

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/patrickgrad/coin-trader/model"
)

// LoadTicks reads a recorded tick series. Expected header:
// time,price,size,taker_side,bid,ask. The time column is epoch milliseconds.
func LoadTicks(path, productID string) ([]model.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tick series: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read tick series: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("tick series %s has no data rows", path)
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[name] = i
	}
	for _, name := range []string{"time", "price", "size", "taker_side", "bid", "ask"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("tick series %s missing column %q", path, name)
		}
	}

	ticks := make([]model.Tick, 0, len(rows)-1)
	for n, row := range rows[1:] {
		ms, err := strconv.ParseInt(row[col["time"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad time: %w", n+2, err)
		}
		price, err := strconv.ParseFloat(row[col["price"]], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad price: %w", n+2, err)
		}
		size, err := strconv.ParseFloat(row[col["size"]], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad size: %w", n+2, err)
		}
		bid, err := strconv.ParseFloat(row[col["bid"]], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad bid: %w", n+2, err)
		}
		ask, err := strconv.ParseFloat(row[col["ask"]], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad ask: %w", n+2, err)
		}
		side := model.Side(row[col["taker_side"]])
		if side != model.Buy && side != model.Sell {
			return nil, fmt.Errorf("row %d: bad taker_side %q", n+2, row[col["taker_side"]])
		}
		ticks = append(ticks, model.Tick{
			ProductID: productID,
			Price:     price,
			TakerSide: side,
			Size:      size,
			BestBid:   bid,
			BestAsk:   ask,
			Time:      time.UnixMilli(ms).UTC(),
		})
	}
	return ticks, nil
}

// LoadFunds reads the starting wallet. Expected header: currency,available.
func LoadFunds(path string) (map[string]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wallet sheet: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read wallet sheet: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("wallet sheet %s has no data rows", path)
	}

	funds := make(map[string]float64, len(rows)-1)
	for n, row := range rows[1:] {
		if len(row) < 2 {
			return nil, fmt.Errorf("row %d: want currency,available", n+2)
		}
		v, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad available: %w", n+2, err)
		}
		funds[row[0]] = v
	}
	return funds, nil
}
