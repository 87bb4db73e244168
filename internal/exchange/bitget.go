package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"spotarb/internal/models"
	"spotarb/pkg/ratelimit"
	"spotarb/pkg/utils"
)

const (
	bitgetBaseURL   = "https://api.bitget.com"
	bitgetWSPublic  = "wss://ws.bitget.com/v2/ws/public"
	bitgetBatchSize = 50

	// bitgetRate/bitgetBurst match pkg/ratelimit's documented Bitget allowance.
	bitgetRate  = 10
	bitgetBurst = 20
)

// Bitget implements Exchange against Bitget's v2 spot REST and public
// WebSocket API. Symbols travel the wire as the same unseparated
// "BASEQUOTE" form the rest of the system uses internally. Signing is
// base64 HMAC-SHA256 over timestamp+method+requestPath+body, OKX's
// family convention, which Bitget also uses.
type Bitget struct {
	apiKey     string
	secretKey  string
	passphrase string

	httpClient *http.Client

	wsManager *WSReconnectManager
	quoteCh   chan *models.Quote

	streamCtx    context.Context
	streamCancel context.CancelFunc

	fees    *feeCache
	feeMu   sync.Mutex
	limiter *ratelimit.RateLimiter
	logger  *utils.Logger
}

func NewBitget(apiKey, secret, passphrase string) *Bitget {
	return &Bitget{
		apiKey: apiKey, secretKey: secret, passphrase: passphrase,
		httpClient: GetGlobalHTTPClient().GetClient(),
		quoteCh:    make(chan *models.Quote, quoteChanBuffer),
		fees:       newFeeCache(),
		limiter:    venueLimiter(bitgetRate, bitgetBurst),
		logger:     utils.L().WithComponent("exchange.bitget"),
	}
}

func (bg *Bitget) Name() string { return "bitget" }

func (bg *Bitget) sign(timestamp, method, requestPath, body string) string {
	message := timestamp + method + requestPath + body
	h := hmac.New(sha256.New, []byte(bg.secretKey))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (bg *Bitget) toBitgetSymbol(canonical string) string {
	return utils.NormalizeSymbol(canonical)
}

func (bg *Bitget) fromBitgetSymbol(symbol string) string {
	return symbol
}

func (bg *Bitget) doRequest(ctx context.Context, method, path string, query url.Values, body map[string]any, signed bool) ([]byte, error) {
	reqPath := path
	if len(query) > 0 {
		reqPath += "?" + query.Encode()
	}

	var bodyStr string
	if len(body) > 0 {
		b, _ := json.Marshal(body)
		bodyStr = string(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, bitgetBaseURL+reqPath, strings.NewReader(bodyStr))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("locale", "en-US")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("ACCESS-KEY", bg.apiKey)
		req.Header.Set("ACCESS-SIGN", bg.sign(timestamp, method, reqPath, bodyStr))
		req.Header.Set("ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("ACCESS-PASSPHRASE", bg.passphrase)
	}

	resp, err := doHTTPWithRetry(ctx, bg.httpClient, bg.limiter, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var base struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(respBody, &base); err != nil {
		return nil, err
	}
	if base.Code != "" && base.Code != "00000" {
		return nil, &Error{Venue: "bitget", Code: base.Code, Message: base.Msg}
	}
	return respBody, nil
}

func (bg *Bitget) ConnectStream(ctx context.Context, symbols []string) error {
	if bg.streamCancel != nil {
		bg.streamCancel()
	}
	bg.streamCtx, bg.streamCancel = context.WithCancel(ctx)

	if bg.wsManager == nil {
		cfg := DefaultWSReconnectConfig()
		bg.wsManager = NewWSReconnectManager("bitget-public", bitgetWSPublic, cfg)
		bg.wsManager.SetOnMessage(bg.handleMessage)
		if err := bg.wsManager.Connect(); err != nil {
			return fmt.Errorf("bitget: connect stream: %w", err)
		}
	}

	bg.wsManager.ClearSubscriptions()
	for _, batch := range batchSymbols(symbols, bitgetBatchSize) {
		args := make([]map[string]string, len(batch))
		for i, s := range batch {
			args[i] = map[string]string{"instType": "SPOT", "channel": "ticker", "instId": bg.toBitgetSymbol(s)}
		}
		sub := map[string]any{"op": "subscribe", "args": args}
		bg.wsManager.AddSubscription(sub)
		if err := bg.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := bg.wsManager.Send(sub); err != nil {
			bg.logger.Warn("subscribe batch failed", utils.Err(err))
		}
	}
	return nil
}

func (bg *Bitget) DisconnectStream() error {
	if bg.streamCancel != nil {
		bg.streamCancel()
	}
	if bg.wsManager != nil {
		return bg.wsManager.Close()
	}
	return nil
}

func (bg *Bitget) Quotes() <-chan *models.Quote { return bg.quoteCh }

func (bg *Bitget) handleMessage(message []byte) {
	var msg struct {
		Arg struct {
			Channel string `json:"channel"`
		} `json:"arg"`
		Data []struct {
			InstId string `json:"instId"`
			BidPr  string `json:"bidPr"`
			BidSz  string `json:"bidSz"`
			AskPr  string `json:"askPr"`
			AskSz  string `json:"askSz"`
			LastPr string `json:"lastPr"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &msg); err != nil || msg.Arg.Channel != "ticker" {
		return
	}
	for _, d := range msg.Data {
		q := bg.quoteFromTicker(d.InstId, d.BidPr, d.AskPr, d.BidSz, d.AskSz, d.LastPr)
		if q != nil && bg.streamCtx != nil {
			sendQuote(bg.streamCtx, bg.quoteCh, q)
		}
	}
}

func (bg *Bitget) quoteFromTicker(symbol, bidS, askS, bidSzS, askSzS, lastS string) *models.Quote {
	if symbol == "" {
		return nil
	}
	bid, _ := strconv.ParseFloat(bidS, 64)
	ask, _ := strconv.ParseFloat(askS, 64)
	bidSz, _ := strconv.ParseFloat(bidSzS, 64)
	askSz, _ := strconv.ParseFloat(askSzS, 64)
	synthetic := false
	if bid <= 0 || ask <= 0 {
		last, _ := strconv.ParseFloat(lastS, 64)
		if last <= 0 {
			return nil
		}
		bid, ask = synthesizeQuote(last)
		synthetic = true
	}
	norm := bg.fromBitgetSymbol(symbol)
	return &models.Quote{
		Venue:     bg.Name(),
		Symbol:    models.SymbolID{Base: utils.ExtractBaseCurrency(norm), Quote: utils.ExtractQuoteCurrency(norm)},
		BidPrice:  bid, BidSize: bidSz, AskPrice: ask, AskSize: askSz,
		Timestamp: time.Now(), Synthetic: synthetic,
	}
}

func (bg *Bitget) FetchTicker(ctx context.Context, symbol string) (*models.Quote, error) {
	sym := bg.toBitgetSymbol(symbol)
	body, err := bg.doRequest(ctx, http.MethodGet, "/api/v2/spot/market/tickers", url.Values{"symbol": {sym}}, nil, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			Symbol string `json:"symbol"`
			BidPr  string `json:"bidPr"`
			BidSz  string `json:"bidSz"`
			AskPr  string `json:"askPr"`
			AskSz  string `json:"askSz"`
			LastPr string `json:"lastPr"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("bitget: ticker not found for %s", symbol)
	}
	t := resp.Data[0]
	q := bg.quoteFromTicker(t.Symbol, t.BidPr, t.AskPr, t.BidSz, t.AskSz, t.LastPr)
	if q == nil {
		return nil, fmt.Errorf("bitget: unparseable ticker for %s", symbol)
	}
	return q, nil
}

func (bg *Bitget) FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	if depth <= 0 || depth > 150 {
		depth = 50
	}
	sym := bg.toBitgetSymbol(symbol)
	body, err := bg.doRequest(ctx, http.MethodGet, "/api/v2/spot/market/orderbook",
		url.Values{"symbol": {sym}, "limit": {strconv.Itoa(depth)}}, nil, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			Bids [][]string `json:"bids"`
			Asks [][]string `json:"asks"`
			Ts   string     `json:"ts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	tsMs, _ := strconv.ParseInt(resp.Data.Ts, 10, 64)
	ob := &OrderBook{Symbol: symbol, Timestamp: time.UnixMilli(tsMs)}
	for _, lvl := range resp.Data.Bids {
		if len(lvl) >= 2 {
			p, _ := strconv.ParseFloat(lvl[0], 64)
			v, _ := strconv.ParseFloat(lvl[1], 64)
			ob.Bids = append(ob.Bids, PriceLevel{Price: p, Volume: v})
		}
	}
	for _, lvl := range resp.Data.Asks {
		if len(lvl) >= 2 {
			p, _ := strconv.ParseFloat(lvl[0], 64)
			v, _ := strconv.ParseFloat(lvl[1], 64)
			ob.Asks = append(ob.Asks, PriceLevel{Price: p, Volume: v})
		}
	}
	sort.Slice(ob.Bids, func(i, j int) bool { return ob.Bids[i].Price > ob.Bids[j].Price })
	sort.Slice(ob.Asks, func(i, j int) bool { return ob.Asks[i].Price < ob.Asks[j].Price })
	return ob, nil
}

func (bg *Bitget) PlaceOrder(ctx context.Context, symbol, side string, qty float64) (*models.Order, error) {
	body := map[string]any{
		"symbol":    bg.toBitgetSymbol(symbol),
		"side":      side,
		"orderType": "market",
		"size":      strconv.FormatFloat(qty, 'f', -1, 64),
	}
	respBody, err := bg.doRequest(ctx, http.MethodPost, "/api/v2/spot/trade/place-order", nil, body, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			OrderId string `json:"orderId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	if filled, err := bg.QueryOrder(ctx, symbol, resp.Data.OrderId); err == nil {
		return filled, nil
	}
	return &models.Order{
		Venue: bg.Name(), Symbol: symbol, Side: side, Type: models.OrderTypeMarket,
		Quantity: qty, Status: models.OrderStatusNew, ExchangeID: resp.Data.OrderId, CreatedAt: time.Now(),
	}, nil
}

func (bg *Bitget) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]any{"symbol": bg.toBitgetSymbol(symbol), "orderId": orderID}
	_, err := bg.doRequest(ctx, http.MethodPost, "/api/v2/spot/trade/cancel-order", nil, body, true)
	return err
}

func (bg *Bitget) QueryOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	query := url.Values{"symbol": {bg.toBitgetSymbol(symbol)}, "orderId": {orderID}}
	body, err := bg.doRequest(ctx, http.MethodGet, "/api/v2/spot/trade/order-info", query, nil, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			OrderId   string `json:"orderId"`
			Side      string `json:"side"`
			PriceAvg  string `json:"priceAvg"`
			BaseSize  string `json:"baseVolume"`
			Status    string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("bitget: order %s not found", orderID)
	}
	d := resp.Data[0]
	avg, _ := strconv.ParseFloat(d.PriceAvg, 64)
	filled, _ := strconv.ParseFloat(d.BaseSize, 64)
	order := &models.Order{
		Venue: bg.Name(), Symbol: symbol, Side: d.Side, Type: models.OrderTypeMarket,
		Quantity: filled, PriceAvg: avg, ExchangeID: d.OrderId,
		Status: bitgetOrderStatus(d.Status), CreatedAt: time.Now(),
	}
	if order.Status == models.OrderStatusFilled {
		now := time.Now()
		order.FilledAt = &now
	}
	return order, nil
}

func bitgetOrderStatus(s string) string {
	switch s {
	case "filled":
		return models.OrderStatusFilled
	case "partially_filled":
		return models.OrderStatusPartial
	case "cancelled":
		return models.OrderStatusCancelled
	default:
		return models.OrderStatusNew
	}
}

func (bg *Bitget) FetchBalances(ctx context.Context) ([]models.Balance, error) {
	body, err := bg.doRequest(ctx, http.MethodGet, "/api/v2/spot/account/assets", nil, nil, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			Coin      string `json:"coin"`
			Available string `json:"available"`
			Frozen    string `json:"frozen"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]models.Balance, 0, len(resp.Data))
	for _, b := range resp.Data {
		free, _ := strconv.ParseFloat(b.Available, 64)
		locked, _ := strconv.ParseFloat(b.Frozen, 64)
		out = append(out, models.Balance{Venue: bg.Name(), Asset: b.Coin, Free: free, Locked: locked, UpdatedAt: now})
	}
	return out, nil
}

// FetchFees: Bitget's v2 spot API has no generally available per-symbol
// trade-fee endpoint without a funded account context; the venue's
// published standard VIP0 rates are used as cached defaults.
func (bg *Bitget) FetchFees(ctx context.Context, symbol string) (models.FeeSchedule, error) {
	bg.feeMu.Lock()
	defer bg.feeMu.Unlock()
	if fs, ok := bg.fees.get(symbol); ok {
		return fs, nil
	}
	fs := models.FeeSchedule{Venue: bg.Name(), Symbol: symbol, TakerFee: 0.001, MakerFee: 0.001, UpdatedAt: time.Now()}
	bg.fees.put(fs)
	return fs, nil
}

func (bg *Bitget) ListSymbols(ctx context.Context) ([]string, error) {
	body, err := bg.doRequest(ctx, http.MethodGet, "/api/v2/spot/public/symbols", nil, nil, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			Symbol string `json:"symbol"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.Data))
	for _, s := range resp.Data {
		if s.Status == "online" {
			out = append(out, bg.fromBitgetSymbol(s.Symbol))
		}
	}
	return out, nil
}

func (bg *Bitget) List24hTickers(ctx context.Context) ([]*models.Quote, error) {
	body, err := bg.doRequest(ctx, http.MethodGet, "/api/v2/spot/market/tickers", nil, nil, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			Symbol string `json:"symbol"`
			BidPr  string `json:"bidPr"`
			BidSz  string `json:"bidSz"`
			AskPr  string `json:"askPr"`
			AskSz  string `json:"askSz"`
			LastPr string `json:"lastPr"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	var out []*models.Quote
	for _, t := range resp.Data {
		if q := bg.quoteFromTicker(t.Symbol, t.BidPr, t.AskPr, t.BidSz, t.AskSz, t.LastPr); q != nil {
			out = append(out, q)
		}
	}
	return out, nil
}

func (bg *Bitget) Close() error {
	return bg.DisconnectStream()
}
