package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/camarigor/minerdash/internal/format"
	"github.com/camarigor/minerdash/internal/jsonx"
)

// Identity describes the device itself rather than its current performance.
type Identity struct {
	Hostname    string `json:"hostname,omitempty"`
	DeviceModel string `json:"device_model,omitempty"`
	ASICModel   string `json:"asic_model,omitempty"`
	Firmware    string `json:"firmware,omitempty"`
}

// Telemetry is one poll result. Fields the device did not report stay nil.
type Telemetry struct {
	Online         bool
	HashrateTHs    *float64
	ASICTemp       *float64
	VRTemp         *float64
	SharesAccepted *int64
	SharesRejected *int64
	SessionBest    *float64
	BestOverall    *float64
	UptimeSeconds  *int64
	BlocksFound    *int64
	FanSpeed       *float64
	Identity       Identity
}

// Firmware variants disagree on field names, so each value is looked up
// through an ordered alias list and the first present non-null key wins.
var fieldAliases = struct {
	hashrate, sessionBest, bestOverall, accepted, rejected []string
	uptime, blocks, fan, asicTemp, vrTemp                  []string
	hostname, deviceModel, asicModel, firmware             []string
}{
	hashrate:    []string{"hashRate", "hashRate_1m", "hashrate", "hashrate_1m"},
	sessionBest: []string{"bestSessionDiff", "best_session_diff", "sessionBestDiff", "session_best_diff", "bestDiff", "best_diff"},
	bestOverall: []string{"totalBestDiff", "total_best_diff", "bestDiffAllTime", "best_all_time", "overallBestDiff", "overall_best_diff", "bestDiff", "best_diff"},
	accepted:    []string{"sharesAccepted"},
	rejected:    []string{"sharesRejected", "rejectedShares", "sharesRejectedTotal"},
	uptime:      []string{"uptimeSeconds"},
	blocks:      []string{"blockFound", "blocksFound", "blocks_found", "foundBlocks", "blocks"},
	fan:         []string{"fanspeed", "fanSpeed", "fan_speed", "fanPercent", "fan_percent"},
	asicTemp:    []string{"temp", "asicTemp", "asic_temp"},
	vrTemp:      []string{"vrTemp", "vr_temp", "vr"},
	hostname:    []string{"hostname"},
	deviceModel: []string{"deviceModel"},
	asicModel:   []string{"ASICModel"},
	firmware:    []string{"axeOSVersion", "version"},
}

// MinerClient handles communication with AxeOS and NerdQAxe miners
type MinerClient struct {
	httpClient     *http.Client
	restartTimeout time.Duration
}

// NewMinerClient creates a client with the given poll and restart timeouts
func NewMinerClient(pollTimeout, restartTimeout time.Duration) *MinerClient {
	if pollTimeout <= 0 {
		pollTimeout = 2 * time.Second
	}
	if restartTimeout <= 0 {
		restartTimeout = 2 * time.Second
	}
	return &MinerClient{
		httpClient: &http.Client{
			Timeout: pollTimeout,
		},
		restartTimeout: restartTimeout,
	}
}

// Fetch polls /api/system/info. Any failure yields an offline Telemetry and
// the cause; the caller decides whether to log it.
func (c *MinerClient) Fetch(ctx context.Context, ip string) (Telemetry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(ip)+"/api/system/info", nil)
	if err != nil {
		return Telemetry{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Telemetry{}, fmt.Errorf("failed to fetch miner info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Telemetry{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Telemetry{}, fmt.Errorf("failed to read response: %w", err)
	}

	var doc map[string]any
	if err := jsonx.Unmarshal(body, &doc); err != nil {
		return Telemetry{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if doc == nil {
		return Telemetry{}, fmt.Errorf("response is not a JSON object")
	}

	return parseTelemetry(doc), nil
}

// Restart asks the device to reboot. The response body is ignored.
func (c *MinerClient) Restart(ctx context.Context, ip string) error {
	ctx, cancel := context.WithTimeout(ctx, c.restartTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL(ip)+"/api/system/restart", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("restart %s: %w", ip, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func parseTelemetry(doc map[string]any) Telemetry {
	t := Telemetry{Online: true}

	if gh, ok := pickFloat(doc, fieldAliases.hashrate); ok {
		ths := gh / 1000.0
		t.HashrateTHs = &ths
	}

	t.SessionBest = pickDifficulty(doc, fieldAliases.sessionBest)
	t.BestOverall = pickDifficulty(doc, fieldAliases.bestOverall)
	if t.BestOverall == nil && t.SessionBest != nil {
		v := *t.SessionBest
		t.BestOverall = &v
	}
	if t.SessionBest == nil && t.BestOverall != nil {
		v := *t.BestOverall
		t.SessionBest = &v
	}

	t.SharesAccepted = pickInt(doc, fieldAliases.accepted)
	t.SharesRejected = pickInt(doc, fieldAliases.rejected)
	t.UptimeSeconds = pickInt(doc, fieldAliases.uptime)
	t.BlocksFound = pickInt(doc, fieldAliases.blocks)
	t.FanSpeed = pickFloatPtr(doc, fieldAliases.fan)
	t.ASICTemp = pickFloatPtr(doc, fieldAliases.asicTemp)
	t.VRTemp = pickFloatPtr(doc, fieldAliases.vrTemp)

	t.Identity = Identity{
		Hostname:    pickString(doc, fieldAliases.hostname),
		DeviceModel: pickString(doc, fieldAliases.deviceModel),
		ASICModel:   pickString(doc, fieldAliases.asicModel),
		Firmware:    pickString(doc, fieldAliases.firmware),
	}
	return t
}

func pickFirst(doc map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := doc[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func pickFloat(doc map[string]any, keys []string) (float64, bool) {
	v, ok := pickFirst(doc, keys)
	if !ok {
		return 0, false
	}
	return format.ParseDifficulty(v)
}

func pickFloatPtr(doc map[string]any, keys []string) *float64 {
	f, ok := pickFloat(doc, keys)
	if !ok {
		return nil
	}
	return &f
}

// pickDifficulty accepts numbers and SI strings such as "12.5K".
func pickDifficulty(doc map[string]any, keys []string) *float64 {
	return pickFloatPtr(doc, keys)
}

func pickInt(doc map[string]any, keys []string) *int64 {
	f, ok := pickFloat(doc, keys)
	if !ok {
		return nil
	}
	n := int64(f)
	return &n
}

func pickString(doc map[string]any, keys []string) string {
	v, ok := pickFirst(doc, keys)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func baseURL(ip string) string {
	ip = strings.TrimRight(ip, "/")
	if strings.HasPrefix(ip, "http://") || strings.HasPrefix(ip, "https://") {
		return ip
	}
	return "http://" + ip
}
