package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// bestRMSE aligns pred against ref by shifting rows up to maxShift either
// way and returns the lowest RMSE with its shift.
func bestRMSE(pred, ref [][2]float64, maxShift int) (float64, int) {
	bestShift := 0
	best := math.MaxFloat64
	for shift := -maxShift; shift <= maxShift; shift++ {
		pi, ri := 0, 0
		if shift >= 0 {
			pi = shift
		} else {
			ri = -shift
		}
		n := min(len(pred)-pi, len(ref)-ri)
		if n <= 0 {
			continue
		}
		var sum float64
		for i := 0; i < n; i++ {
			dx := pred[pi+i][0] - ref[ri+i][0]
			dy := pred[pi+i][1] - ref[ri+i][1]
			sum += dx*dx + dy*dy
		}
		if rmse := math.Sqrt(sum / float64(n)); rmse < best {
			best = rmse
			bestShift = shift
		}
	}
	return best, bestShift
}

// readXY reads x/y columns from a CSV, accepting x_m/y_m or x/y headers.
func readXY(path string) ([][2]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(recs) <= 1 {
		return nil, fmt.Errorf("%s: no rows", path)
	}

	idxX, idxY := -1, -1
	for _, p := range [][2]string{{"x_m", "y_m"}, {"x", "y"}} {
		ix, iy := indexOf(recs[0], p[0]), indexOf(recs[0], p[1])
		if ix >= 0 && iy >= 0 {
			idxX, idxY = ix, iy
			break
		}
	}
	if idxX < 0 {
		return nil, fmt.Errorf("%s: x/y columns not found", path)
	}

	out := make([][2]float64, 0, len(recs)-1)
	for _, row := range recs[1:] {
		if len(row) <= idxX || len(row) <= idxY {
			continue
		}
		x, errX := strconv.ParseFloat(row[idxX], 64)
		y, errY := strconv.ParseFloat(row[idxY], 64)
		if errX != nil || errY != nil {
			continue
		}
		out = append(out, [2]float64{x, y})
	}
	return out, nil
}

func indexOf(arr []string, key string) int {
	for i, v := range arr {
		if strings.EqualFold(strings.TrimSpace(v), key) {
			return i
		}
	}
	return -1
}
