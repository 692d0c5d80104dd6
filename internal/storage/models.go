package storage

import "time"

// MinerSnapshot is one device row from a collector tick.
type MinerSnapshot struct {
	ID             int64     `json:"id"`
	MinerName      string    `json:"minerName"`
	MinerIP        string    `json:"minerIp"`
	Timestamp      time.Time `json:"timestamp"`
	Online         bool      `json:"online"`
	HashrateTHs    float64   `json:"hashrateThs"`
	ASICTemp       float64   `json:"asicTemp"` // Celsius
	VRTemp         float64   `json:"vrTemp"`
	FanSpeed       float64   `json:"fanSpeed"` // percent
	SharesAccepted int64     `json:"sharesAccepted"`
	SharesRejected int64     `json:"sharesRejected"`
	SessionBest    float64   `json:"sessionBest"`
	WeeklyBest     float64   `json:"weeklyBest"`
	BestOverall    float64   `json:"bestOverall"`
	UptimeSecs     int64     `json:"uptimeSeconds"`
	Blocks         int64     `json:"blocks"` // cumulative, reset-safe
}

// Block records blocks credited to a miner by the ledger
type Block struct {
	ID        int64     `json:"id"`
	MinerName string    `json:"minerName"`
	MinerIP   string    `json:"minerIp"`
	Timestamp time.Time `json:"timestamp"`
	Delta     int64     `json:"delta"` // blocks credited in this observation
	Total     int64     `json:"total"` // cumulative count afterwards
}

// WeeklyResult is the archived outcome of one weekly rollover
type WeeklyResult struct {
	ID             int64     `json:"id"`
	WeekISO        string    `json:"weekIso"`
	Timestamp      time.Time `json:"timestamp"`
	Winner         string    `json:"winner"`
	Score          int       `json:"score"`
	Summary        string    `json:"summary"`
	BestName       string    `json:"bestName"`
	BestValue      float64   `json:"bestValue"`
	BestStr        string    `json:"bestStr"`
	RestartsOK     int       `json:"restartsOk"`
	RestartsFailed int       `json:"restartsFailed"`
}
