package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"MarketTicker/internal/model"

	"github.com/guregu/null/v6"
)

const (
	cryptoCompareBaseURL  = "https://min-api.cryptocompare.com"
	cryptoCompareImageURL = "https://www.cryptocompare.com"
	cryptoCompareMaxLimit = 2000
)

// CryptoCompareSource implements CryptoSource using the CryptoCompare REST API.
type CryptoCompareSource struct {
	BaseURL  string
	ImageURL string
	APIKey   string
	Client   *http.Client
}

// NewCryptoCompareSource creates a new source with optional proxy support.
func NewCryptoCompareSource(apiKey, proxyURL string) *CryptoCompareSource {
	return &CryptoCompareSource{
		BaseURL:  cryptoCompareBaseURL,
		ImageURL: cryptoCompareImageURL,
		APIKey:   apiKey,
		Client:   newHTTPClient(proxyURL),
	}
}

func (f *CryptoCompareSource) Name() string { return "cryptocompare" }

func (f *CryptoCompareSource) MaxLimit() int { return cryptoCompareMaxLimit }

// ccBar is the JSON shape of one histo* data point.
type ccBar struct {
	Time       int64    `json:"time"`
	Open       float64  `json:"open"`
	High       float64  `json:"high"`
	Low        float64  `json:"low"`
	Close      float64  `json:"close"`
	VolumeFrom *float64 `json:"volumefrom"`
}

type ccHisto struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
	Data     struct {
		Data []ccBar `json:"Data"`
	} `json:"Data"`
}

// HistoryAt fetches limit bars of granularity g ending at asOf.
func (f *CryptoCompareSource) HistoryAt(ctx context.Context, symbol, currency string, g Granularity, limit int, asOf time.Time) (model.Series, error) {
	if limit > cryptoCompareMaxLimit {
		limit = cryptoCompareMaxLimit
	}
	params := url.Values{}
	params.Set("fsym", strings.ToUpper(symbol))
	params.Set("tsym", strings.ToUpper(currency))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("toTs", strconv.FormatInt(asOf.Unix(), 10))

	body, err := f.get(ctx, "/data/v2/histo"+g.String(), params)
	if err != nil {
		return nil, err
	}
	var histo ccHisto
	if err := json.Unmarshal(body, &histo); err != nil {
		return nil, fmt.Errorf("%w: cryptocompare decode: %w", ErrProvider, err)
	}
	if histo.Response == "Error" {
		return nil, fmt.Errorf("%w: cryptocompare api error: %s", ErrProvider, histo.Message)
	}

	bars := make(model.Series, 0, len(histo.Data.Data))
	for _, cb := range histo.Data.Data {
		if cb.Open == 0 && cb.High == 0 && cb.Low == 0 && cb.Close == 0 {
			continue // before the pair was listed
		}
		bar := model.OHLCV{
			Time:  time.Unix(cb.Time, 0).UTC(),
			Open:  cb.Open,
			High:  cb.High,
			Low:   cb.Low,
			Close: cb.Close,
		}
		if cb.VolumeFrom != nil {
			bar.Volume = null.FloatFrom(*cb.VolumeFrom)
		}
		bars = append(bars, bar)
	}
	// Ensure chronological order
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return dedupe(bars), nil
}

// SpotPrice returns the current price of symbol in currency.
func (f *CryptoCompareSource) SpotPrice(ctx context.Context, symbol, currency string) (null.Float, error) {
	currency = strings.ToUpper(currency)
	params := url.Values{}
	params.Set("fsym", strings.ToUpper(symbol))
	params.Set("tsyms", currency)

	body, err := f.get(ctx, "/data/price", params)
	if err != nil {
		return null.Float{}, err
	}
	var prices map[string]json.RawMessage
	if err := json.Unmarshal(body, &prices); err != nil {
		return null.Float{}, fmt.Errorf("%w: cryptocompare decode price: %w", ErrProvider, err)
	}
	raw, ok := prices[currency]
	if !ok {
		return null.Float{}, nil
	}
	var p float64
	if err := json.Unmarshal(raw, &p); err != nil || p <= 0 {
		return null.Float{}, nil
	}
	return null.FloatFrom(p), nil
}

// Logo fetches the coin icon. Any failure yields nil so callers can render without it.
func (f *CryptoCompareSource) Logo(ctx context.Context, symbol string) ([]byte, error) {
	symbol = strings.ToUpper(symbol)
	params := url.Values{}
	params.Set("fsym", symbol)
	body, err := f.get(ctx, "/data/all/coinlist", params)
	if err != nil {
		return nil, nil
	}
	var list struct {
		Data map[string]struct {
			ImageURL string `json:"ImageUrl"`
		} `json:"Data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, nil
	}
	coin, ok := list.Data[symbol]
	if !ok || coin.ImageURL == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.ImageURL+coin.ImageURL, nil)
	if err != nil {
		return nil, nil
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	img, err := io.ReadAll(resp.Body)
	if err != nil || len(img) == 0 {
		return nil, nil
	}
	return img, nil
}

func (f *CryptoCompareSource) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := fmt.Sprintf("%s%s?%s", f.BaseURL, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if f.APIKey != "" {
		req.Header.Set("Authorization", "Apikey "+f.APIKey)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: cryptocompare fetch: %w", ErrProvider, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: cryptocompare read body: %w", ErrProvider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: cryptocompare: status %d, body: %s", ErrProvider, resp.StatusCode, string(body))
	}
	return body, nil
}
