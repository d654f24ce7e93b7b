// CSV tick loader: timestamp_ms, qty, price. Headers are optional and
// case-insensitive; rows are sorted ascending by timestamp.
package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/evdnx/gridbot/types"
)

func loadTicksCSV(path string) ([]types.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []types.Tick
	row := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row++
		if len(rec) < 3 {
			continue
		}
		if row == 1 && isHeader(rec[0]) {
			continue
		}
		ts, err1 := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		qty, err2 := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		price, err3 := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("bad tick row %d: %v", row, rec)
		}
		out = append(out, types.Tick{Timestamp: ts, Qty: qty, Price: price})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no ticks in %s", path)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func isHeader(first string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(first), 64)
	return err != nil
}
