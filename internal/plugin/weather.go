package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// WeatherPlugin answers weather questions. With an API key configured it
// queries a live provider; without one it returns deterministic simulated
// conditions so the pipeline stays exercisable offline.
type WeatherPlugin struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// WeatherOption customizes a WeatherPlugin.
type WeatherOption func(*WeatherPlugin)

// WithWeatherBaseURL overrides the live provider endpoint, for tests.
func WithWeatherBaseURL(u string) WeatherOption {
	return func(p *WeatherPlugin) { p.baseURL = u }
}

// NewWeatherPlugin constructs a WeatherPlugin. An empty apiKey selects
// simulated mode.
func NewWeatherPlugin(apiKey string, opts ...WeatherOption) *WeatherPlugin {
	p := &WeatherPlugin{
		apiKey:  apiKey,
		baseURL: "https://api.openweathermap.org/data/2.5",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns the handler identifier.
func (p *WeatherPlugin) Name() string { return "weather" }

// Priority ranks weather below math.
func (p *WeatherPlugin) Priority() int { return 5 }

// weatherTriggers are the activation words for this handler.
var weatherTriggers = []string{"weather", "temperature", "forecast", "raining", "sunny", "snowing"}

// Activate reports whether the input mentions weather.
func (p *WeatherPlugin) Activate(input string) bool {
	lower := strings.ToLower(input)
	for _, t := range weatherTriggers {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// cityPattern extracts a location from phrases like "weather in Paris" or
// "forecast for New York". Locations are taken to be capitalized word runs
// after a preposition, which also keeps trailing words like "today" out.
var cityPattern = regexp.MustCompile(`\b(?:in|for|at)\s+([A-Z][\p{L}.-]*(?:\s+[A-Z][\p{L}.-]*)*)`)

// tailWords are capitalized words that can follow a city without being part
// of its name.
var tailWords = map[string]bool{"Today": true, "Tomorrow": true, "Now": true, "Tonight": true}

// extractCity pulls the location out of the input, defaulting to empty when
// no "in/for/at <City>" phrase is present.
func extractCity(input string) string {
	m := cityPattern.FindStringSubmatch(input)
	if m == nil {
		return ""
	}
	words := strings.Fields(m[1])
	for len(words) > 0 && tailWords[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.TrimRight(strings.Join(words, " "), ".,!?")
}

// Conditions is the normalized weather answer.
type Conditions struct {
	// City is the resolved location name.
	City string `json:"city"`
	// TempC is the current temperature in Celsius.
	TempC float64 `json:"temp_c"`
	// Description is a short text like "partly cloudy".
	Description string `json:"description"`
	// Humidity is the relative humidity percentage.
	Humidity int `json:"humidity"`
	// Simulated is true when no live provider was consulted.
	Simulated bool `json:"simulated"`
}

// Execute resolves the city and fetches (or simulates) current conditions.
func (p *WeatherPlugin) Execute(ctx context.Context, req Request) (string, map[string]any, error) {
	city := extractCity(req.Input)
	if city == "" {
		return "", nil, fmt.Errorf("weather: no location found in input")
	}

	var (
		cond Conditions
		err  error
	)
	if p.apiKey == "" {
		cond = simulate(city)
	} else {
		cond, err = p.fetch(ctx, city)
		if err != nil {
			return "", nil, fmt.Errorf("weather: %w", err)
		}
	}

	mode := ""
	if cond.Simulated {
		mode = " (simulated)"
	}
	summary := fmt.Sprintf("Weather in %s%s: %.0f°C, %s, humidity %d%%",
		cond.City, mode, cond.TempC, cond.Description, cond.Humidity)
	return summary, map[string]any{
		"city":        cond.City,
		"temp_c":      cond.TempC,
		"description": cond.Description,
		"humidity":    cond.Humidity,
		"simulated":   cond.Simulated,
	}, nil
}

// simulatedDescriptions is the rotation used when no API key is configured.
var simulatedDescriptions = []string{
	"clear sky", "partly cloudy", "overcast", "light rain", "sunny", "foggy",
}

// simulate derives stable fake conditions from the city name, so repeated
// queries for the same city agree with each other.
func simulate(city string) Conditions {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(city)))
	seed := h.Sum32()

	return Conditions{
		City:        city,
		TempC:       float64(int(seed%35)) - 5, // -5..29
		Description: simulatedDescriptions[seed%uint32(len(simulatedDescriptions))],
		Humidity:    30 + int(seed%60),
		Simulated:   true,
	}
}

// fetch queries the live provider for current conditions.
func (p *WeatherPlugin) fetch(ctx context.Context, city string) (Conditions, error) {
	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", p.apiKey)
	q.Set("units", "metric")

	reqURL := p.baseURL + "/weather?" + q.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Conditions{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Conditions{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Conditions{}, fmt.Errorf("unknown location %q", city)
	}
	if resp.StatusCode != http.StatusOK {
		return Conditions{}, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var body struct {
		Name    string `json:"name"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
		Main struct {
			Temp     float64 `json:"temp"`
			Humidity int     `json:"humidity"`
		} `json:"main"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Conditions{}, fmt.Errorf("decode response: %w", err)
	}

	cond := Conditions{
		City:     body.Name,
		TempC:    body.Main.Temp,
		Humidity: body.Main.Humidity,
	}
	if cond.City == "" {
		cond.City = city
	}
	if len(body.Weather) > 0 {
		cond.Description = body.Weather[0].Description
	}
	return cond, nil
}
