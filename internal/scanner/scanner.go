package scanner

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/remeh/sizedwaitgroup"

	"github.com/camarigor/minerdash/internal/collector"
)

// Known NerdQAxe and Bitaxe device models
var knownDeviceModels = []string{
	"NerdQAxe++",
	"NerdQAxe+",
	"NerdQAxePlus",
	"NerdAxe",
	"NerdOctaxe",
	"Bitaxe",
}

// Known ASIC models used by AxeOS devices
var knownASICModels = []string{
	"BM1370",
	"BM1368",
	"BM1366",
	"BM1397",
}

// Device is a miner found on the network
type Device struct {
	IP          string   `json:"ip"`
	Hostname    string   `json:"hostname"`
	DeviceModel string   `json:"device_model"`
	ASICModel   string   `json:"asic_model"`
	Firmware    string   `json:"firmware"`
	HashrateTHs *float64 `json:"hashrate_ths"`
}

// Scanner probes subnets for AxeOS and NerdQAxe miners
type Scanner struct {
	client      collector.Poller
	concurrency int
}

// NewScanner creates a scanner that probes with client, at most concurrency
// addresses at a time
func NewScanner(client collector.Poller, concurrency int) *Scanner {
	if concurrency <= 0 {
		concurrency = 50
	}
	return &Scanner{client: client, concurrency: concurrency}
}

// DetectSubnets returns the /24 of every private IPv4 interface address
func DetectSubnets() []string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	seen := make(map[string]bool)
	var subnets []string

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			// Docker bridges
			if ip[0] == 172 && ip[1] >= 16 && ip[1] <= 31 {
				continue
			}

			subnet := fmt.Sprintf("%s/24", ip.Mask(net.CIDRMask(24, 32)))
			if !seen[subnet] {
				seen[subnet] = true
				subnets = append(subnets, subnet)
			}
		}
	}
	return subnets
}

// Scan probes every host address in subnet. Results are ordered by address.
func (s *Scanner) Scan(ctx context.Context, subnet string) ([]Device, error) {
	ips, err := expandSubnet(subnet)
	if err != nil {
		return nil, fmt.Errorf("failed to expand subnet: %w", err)
	}

	var (
		mu      sync.Mutex
		devices []Device
	)
	swg := sizedwaitgroup.New(s.concurrency)

	for _, ip := range ips {
		if err := swg.AddWithContext(ctx); err != nil {
			break
		}
		go func(ip string) {
			defer swg.Done()
			d, err := s.Probe(ctx, ip)
			if err != nil {
				return
			}
			mu.Lock()
			devices = append(devices, *d)
			mu.Unlock()
		}(ip)
	}
	swg.Wait()

	sortByIP(devices)
	return devices, ctx.Err()
}

// ScanAll scans each subnet in turn and drops duplicate addresses
func (s *Scanner) ScanAll(ctx context.Context, subnets []string) []Device {
	seen := make(map[string]bool)
	var all []Device

	for _, subnet := range subnets {
		found, err := s.Scan(ctx, subnet)
		if err != nil {
			log.Printf("Error scanning subnet %s: %v", subnet, err)
		}
		for _, d := range found {
			if !seen[d.IP] {
				seen[d.IP] = true
				all = append(all, d)
			}
		}
		if ctx.Err() != nil {
			break
		}
	}
	return all
}

// Probe checks a single address for a supported miner
func (s *Scanner) Probe(ctx context.Context, ip string) (*Device, error) {
	tel, err := s.client.Fetch(ctx, ip)
	if err != nil {
		return nil, err
	}
	if !isSupportedMiner(tel.Identity) {
		return nil, fmt.Errorf("device at %s is not a supported miner", ip)
	}
	return &Device{
		IP:          ip,
		Hostname:    tel.Identity.Hostname,
		DeviceModel: tel.Identity.DeviceModel,
		ASICModel:   tel.Identity.ASICModel,
		Firmware:    tel.Identity.Firmware,
		HashrateTHs: tel.HashrateTHs,
	}, nil
}

func isSupportedMiner(id collector.Identity) bool {
	lowerModel := strings.ToLower(id.DeviceModel)
	for _, model := range knownDeviceModels {
		if strings.Contains(lowerModel, strings.ToLower(model)) {
			return true
		}
	}
	for _, model := range knownASICModels {
		if strings.EqualFold(id.ASICModel, model) {
			return true
		}
	}
	if strings.Contains(lowerModel, "nerd") || strings.Contains(lowerModel, "axe") {
		return true
	}
	// AxeOS reports its version even when the model field is empty
	return id.Firmware != "" && id.DeviceModel == ""
}

// expandSubnet lists the host addresses of an IPv4 CIDR, without the network
// and broadcast addresses
func expandSubnet(subnet string) ([]string, error) {
	_, ipNet, err := net.ParseCIDR(subnet)
	if err != nil {
		return nil, fmt.Errorf("invalid subnet CIDR: %w", err)
	}
	ip := ipNet.IP.To4()
	if ip == nil {
		return nil, fmt.Errorf("only IPv4 subnets are supported")
	}

	broadcast := make(net.IP, len(ip))
	for i := range ip {
		broadcast[i] = ip[i] | ^ipNet.Mask[i]
	}

	cur := make(net.IP, len(ip))
	copy(cur, ip)
	incIP(cur)

	var ips []string
	for ipNet.Contains(cur) && !cur.Equal(broadcast) {
		ips = append(ips, cur.String())
		incIP(cur)
	}
	return ips, nil
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] > 0 {
			break
		}
	}
}

func sortByIP(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		a := net.ParseIP(devices[i].IP).To4()
		b := net.ParseIP(devices[j].IP).To4()
		if a == nil || b == nil {
			return devices[i].IP < devices[j].IP
		}
		return bytes.Compare(a, b) < 0
	})
}
