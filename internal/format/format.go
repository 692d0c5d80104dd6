// Package format turns raw miner and market numbers into the strings shown on
// the dashboard.
package format

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
)

// Missing is rendered for values a device or market source did not report.
const Missing = "-"

var siRegex = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGTP])\s*$`)

var siMultipliers = map[string]float64{
	"K": 1e3,
	"M": 1e6,
	"G": 1e9,
	"T": 1e12,
	"P": 1e15,
}

type siUnit struct {
	scale  float64
	suffix string
}

var siUnits = []siUnit{
	{1e15, "P"},
	{1e12, "T"},
	{1e9, "G"},
	{1e6, "M"},
	{1e3, "K"},
}

// ParseDifficulty accepts numbers, numeric strings and SI strings like "12.5K".
func ParseDifficulty(x any) (float64, bool) {
	switch v := x.(type) {
	case nil:
		return 0, false
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
		m := siRegex.FindStringSubmatch(s)
		if m == nil {
			return 0, false
		}
		num, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, false
		}
		return num * siMultipliers[strings.ToUpper(m[2])], true
	default:
		return 0, false
	}
}

// Difficulty renders with two fixed decimals and an SI suffix (1.50G).
func Difficulty(x any) string {
	if s, ok := x.(string); ok && siRegex.MatchString(s) {
		return strings.TrimSpace(s)
	}
	v, ok := ParseDifficulty(x)
	if !ok {
		return Missing
	}
	for _, u := range siUnits {
		if v >= u.scale {
			return strconv.FormatFloat(v/u.scale, 'f', 2, 64) + u.suffix
		}
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// DifficultyAdaptive drops decimals as the scaled value grows (8.59G, 12.5K, 345M).
func DifficultyAdaptive(x any) string {
	v, ok := ParseDifficulty(x)
	if !ok {
		return Missing
	}
	sign := ""
	if v < 0 {
		sign = "-"
	}
	a := math.Abs(v)
	for _, u := range siUnits {
		if a >= u.scale {
			val := a / u.scale
			dp := 0
			switch {
			case val < 10:
				dp = 2
			case val < 100:
				dp = 1
			}
			return sign + strconv.FormatFloat(val, 'f', dp, 64) + u.suffix
		}
	}
	return sign + strconv.FormatInt(int64(math.Round(a)), 10)
}

// HashrateTHs formats a TH/s value.
func HashrateTHs(ths *float64) string {
	if ths == nil {
		return Missing
	}
	return fmt.Sprintf("%.2f TH/s", *ths)
}

// TempPair renders ASIC and VR temperatures as "61° / 55°".
func TempPair(asic, vr *float64) string {
	if asic == nil || vr == nil {
		return "- / -"
	}
	return fmt.Sprintf("%d° / %d°", int(math.Round(*asic)), int(math.Round(*vr)))
}

// Int renders a count with thousands separators.
func Int(n *int64) string {
	if n == nil {
		return Missing
	}
	return humanize.Comma(*n)
}

// IntShort renders compact counts: 950, 34k, 1.2M, 3G.
func IntShort(n *int64) string {
	if n == nil {
		return Missing
	}
	v := float64(*n)
	sign := ""
	if v < 0 {
		sign = "-"
	}
	a := math.Abs(v)

	var s string
	switch {
	case a >= 1e9:
		s = strconv.FormatFloat(a/1e9, 'f', 1, 64) + "G"
	case a >= 1e6:
		s = strconv.FormatFloat(a/1e6, 'f', 1, 64) + "M"
	case a >= 1e3:
		return sign + strconv.FormatFloat(a/1e3, 'f', 0, 64) + "k"
	default:
		return strconv.FormatInt(*n, 10)
	}
	s = strings.Replace(s, ".0G", "G", 1)
	s = strings.Replace(s, ".0M", "M", 1)
	return sign + s
}

var fiatSymbols = map[string]string{
	"gbp": "£",
	"usd": "$",
	"eur": "€",
	"jpy": "¥",
}

// Fiat renders a coin price. Sub-penny prices keep more decimals.
func Fiat(v *float64, currency string) string {
	if v == nil {
		return Missing
	}
	cur := strings.ToLower(currency)
	sym, ok := fiatSymbols[cur]
	if !ok {
		sym = strings.ToUpper(cur) + " "
	}
	switch {
	case *v >= 1:
		return sym + humanize.FormatFloat("#,###.##", *v)
	case *v >= 0.01:
		return sym + humanize.FormatFloat("#,###.####", *v)
	default:
		return sym + strconv.FormatFloat(*v, 'f', 6, 64)
	}
}

// Duration keeps the two largest units ("3 days 4 hours").
func Duration(d time.Duration) string {
	if d <= 0 {
		return "0 seconds"
	}
	return durafmt.Parse(d.Round(time.Second)).LimitFirstN(2).String()
}
