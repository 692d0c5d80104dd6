package pricing

// Coin is one entry of the market panel.
type Coin struct {
	Symbol       string   `json:"symbol"`
	Name         string   `json:"name"`
	CoinGeckoID  string   `json:"coingecko"`
	WhatToMineID int      `json:"whattomine"`
	FallbackLogo []string `json:"fallbackLogo"`
}

// SupportedCoins lists the panel coins in display order
var SupportedCoins = []Coin{
	{
		Symbol: "BTC", Name: "Bitcoin", CoinGeckoID: "bitcoin", WhatToMineID: 1,
		FallbackLogo: []string{"https://assets.coingecko.com/coins/images/1/large/bitcoin.png"},
	},
	{
		Symbol: "BCH", Name: "Bitcoin Cash", CoinGeckoID: "bitcoin-cash", WhatToMineID: 193,
		FallbackLogo: []string{"https://assets.coingecko.com/coins/images/780/large/bitcoin-cash-circle.png"},
	},
	{
		Symbol: "FB", Name: "Fractal Bitcoin", CoinGeckoID: "fractal-bitcoin", WhatToMineID: 431,
		FallbackLogo: []string{"https://assets.coingecko.com/coins/images/37001/large/fractal-bitcoin.png"},
	},
	{
		Symbol: "DGB", Name: "DigiByte", CoinGeckoID: "digibyte", WhatToMineID: 113,
		FallbackLogo: []string{"https://assets.coingecko.com/coins/images/63/large/digibyte.png"},
	},
}

// CoinOrder returns the display order of coin symbols
func CoinOrder() []string {
	out := make([]string, len(SupportedCoins))
	for i, c := range SupportedCoins {
		out[i] = c.Symbol
	}
	return out
}

// FallbackLogos maps each symbol to static logo URLs the client can try
// when the fetched logo is missing or fails to load.
func FallbackLogos() map[string][]string {
	out := make(map[string][]string, len(SupportedCoins))
	for _, c := range SupportedCoins {
		out[c.Symbol] = append([]string(nil), c.FallbackLogo...)
	}
	return out
}
