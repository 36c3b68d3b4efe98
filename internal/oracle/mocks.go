package oracle

import (
	"context"
	"fmt"
)

// MockCryptoPriceOracle answers "crypto.price" lookups from a fixed price
// table, standing in for a real market-data feed in tests and local runs.
type MockCryptoPriceOracle struct {
	Prices map[string]float64
}

// NewMockCryptoPriceOracle seeds a MockCryptoPriceOracle with prices.
func NewMockCryptoPriceOracle(prices map[string]float64) *MockCryptoPriceOracle {
	return &MockCryptoPriceOracle{Prices: prices}
}

// GetValue implements Capability. params must carry a "symbol" string.
func (o *MockCryptoPriceOracle) GetValue(_ context.Context, params map[string]any) (any, error) {
	symbol, ok := params["symbol"].(string)
	if !ok {
		return nil, fmt.Errorf("oracle: crypto.price requires a string \"symbol\" param")
	}
	price, ok := o.Prices[symbol]
	if !ok {
		return nil, nil
	}
	return map[string]any{"symbol": symbol, "price": price}, nil
}

// MockWeatherOracle answers "weather.current" lookups from a fixed
// city-to-reading table.
type MockWeatherOracle struct {
	Readings map[string]float64
}

// NewMockWeatherOracle seeds a MockWeatherOracle with readings.
func NewMockWeatherOracle(readings map[string]float64) *MockWeatherOracle {
	return &MockWeatherOracle{Readings: readings}
}

// GetValue implements Capability. params must carry a "city" string.
func (o *MockWeatherOracle) GetValue(_ context.Context, params map[string]any) (any, error) {
	city, ok := params["city"].(string)
	if !ok {
		return nil, fmt.Errorf("oracle: weather.current requires a string \"city\" param")
	}
	temp, ok := o.Readings[city]
	if !ok {
		return nil, nil
	}
	return map[string]any{"city": city, "temperature": temp}, nil
}
