package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
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
	gateBaseURL   = "https://api.gateio.ws/api/v4"
	gateWSPublic  = "wss://api.gateio.ws/ws/v4/"
	gateBatchSize = 50

	// gateRate/gateBurst match pkg/ratelimit's documented Gate allowance.
	gateRate  = 10
	gateBurst = 20
)

// Gate implements Exchange against Gate.io's spot REST v4 and public
// WebSocket v4 API. Symbols travel the wire as underscore-separated
// "BASE_QUOTE"; signing is HMAC-SHA512 over
// method\npath\nquery\nbody_hash\ntimestamp, Gate's convention.
type Gate struct {
	apiKey    string
	secretKey string

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

func NewGate(apiKey, secret, _ string) *Gate {
	return &Gate{
		apiKey: apiKey, secretKey: secret,
		httpClient: GetGlobalHTTPClient().GetClient(),
		quoteCh:    make(chan *models.Quote, quoteChanBuffer),
		fees:       newFeeCache(),
		limiter:    venueLimiter(gateRate, gateBurst),
		logger:     utils.L().WithComponent("exchange.gate"),
	}
}

func (g *Gate) Name() string { return "gate" }

func (g *Gate) sign(method, path, query, body, timestamp string) string {
	bodyHash := sha512.Sum512([]byte(body))
	payload := strings.Join([]string{method, path, query, hex.EncodeToString(bodyHash[:]), timestamp}, "\n")
	h := hmac.New(sha512.New, []byte(g.secretKey))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func (g *Gate) toGateSymbol(canonical string) string {
	norm := utils.NormalizeSymbol(canonical)
	base := utils.ExtractBaseCurrency(norm)
	quote := utils.ExtractQuoteCurrency(norm)
	if quote == "" {
		return norm
	}
	return base + "_" + quote
}

func (g *Gate) fromGateSymbol(pair string) string {
	return strings.ReplaceAll(pair, "_", "")
}

func (g *Gate) doRequest(ctx context.Context, method, path string, query url.Values, body map[string]any, signed bool) ([]byte, error) {
	fullPath := "/api/v4" + path
	queryStr := ""
	if query != nil {
		queryStr = query.Encode()
	}

	var bodyStr string
	if len(body) > 0 {
		b, _ := json.Marshal(body)
		bodyStr = string(b)
	}

	reqURL := gateBaseURL + path
	if queryStr != "" {
		reqURL += "?" + queryStr
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(bodyStr))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set("KEY", g.apiKey)
		req.Header.Set("SIGN", g.sign(method, fullPath, queryStr, bodyStr, timestamp))
		req.Header.Set("Timestamp", timestamp)
	}

	resp, err := doHTTPWithRetry(ctx, g.httpClient, g.limiter, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var e struct {
			Label   string `json:"label"`
			Message string `json:"message"`
		}
		json.Unmarshal(respBody, &e)
		return nil, &Error{Venue: "gate", Code: e.Label, Message: e.Message}
	}
	return respBody, nil
}

func (g *Gate) ConnectStream(ctx context.Context, symbols []string) error {
	if g.streamCancel != nil {
		g.streamCancel()
	}
	g.streamCtx, g.streamCancel = context.WithCancel(ctx)

	if g.wsManager == nil {
		cfg := DefaultWSReconnectConfig()
		g.wsManager = NewWSReconnectManager("gate-public", gateWSPublic, cfg)
		g.wsManager.SetOnMessage(g.handleMessage)
		if err := g.wsManager.Connect(); err != nil {
			return fmt.Errorf("gate: connect stream: %w", err)
		}
	}

	g.wsManager.ClearSubscriptions()
	for _, batch := range batchSymbols(symbols, gateBatchSize) {
		pairs := make([]string, len(batch))
		for i, s := range batch {
			pairs[i] = g.toGateSymbol(s)
		}
		sub := map[string]any{
			"time":    time.Now().Unix(),
			"channel": "spot.tickers",
			"event":   "subscribe",
			"payload": pairs,
		}
		g.wsManager.AddSubscription(sub)
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := g.wsManager.Send(sub); err != nil {
			g.logger.Warn("subscribe batch failed", utils.Err(err))
		}
	}
	return nil
}

func (g *Gate) DisconnectStream() error {
	if g.streamCancel != nil {
		g.streamCancel()
	}
	if g.wsManager != nil {
		return g.wsManager.Close()
	}
	return nil
}

func (g *Gate) Quotes() <-chan *models.Quote { return g.quoteCh }

func (g *Gate) handleMessage(message []byte) {
	var msg struct {
		Channel string `json:"channel"`
		Event   string `json:"event"`
		Result  struct {
			CurrencyPair string `json:"currency_pair"`
			Last         string `json:"last"`
			LowestAsk    string `json:"lowest_ask"`
			HighestBid   string `json:"highest_bid"`
		} `json:"result"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}
	if msg.Channel != "spot.tickers" || msg.Event != "update" || msg.Result.CurrencyPair == "" {
		return
	}
	q := g.quoteFromTicker(msg.Result.CurrencyPair, msg.Result.HighestBid, msg.Result.LowestAsk, "", "", msg.Result.Last)
	if q != nil && g.streamCtx != nil {
		sendQuote(g.streamCtx, g.quoteCh, q)
	}
}

func (g *Gate) quoteFromTicker(pair, bidS, askS, bidSzS, askSzS, lastS string) *models.Quote {
	if pair == "" {
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
	norm := g.fromGateSymbol(pair)
	return &models.Quote{
		Venue:     g.Name(),
		Symbol:    models.SymbolID{Base: utils.ExtractBaseCurrency(norm), Quote: utils.ExtractQuoteCurrency(norm)},
		BidPrice:  bid, BidSize: bidSz, AskPrice: ask, AskSize: askSz,
		Timestamp: time.Now(), Synthetic: synthetic,
	}
}

func (g *Gate) FetchTicker(ctx context.Context, symbol string) (*models.Quote, error) {
	pair := g.toGateSymbol(symbol)
	q := url.Values{"currency_pair": {pair}}
	body, err := g.doRequest(ctx, http.MethodGet, "/spot/tickers", q, nil, false)
	if err != nil {
		return nil, err
	}
	var resp []struct {
		CurrencyPair string `json:"currency_pair"`
		Last         string `json:"last"`
		LowestAsk    string `json:"lowest_ask"`
		HighestBid   string `json:"highest_bid"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("gate: ticker not found for %s", symbol)
	}
	t := resp[0]
	qt := g.quoteFromTicker(t.CurrencyPair, t.HighestBid, t.LowestAsk, "", "", t.Last)
	if qt == nil {
		return nil, fmt.Errorf("gate: unparseable ticker for %s", symbol)
	}
	return qt, nil
}

func (g *Gate) FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	if depth <= 0 || depth > 100 {
		depth = 50
	}
	q := url.Values{"currency_pair": {g.toGateSymbol(symbol)}, "limit": {strconv.Itoa(depth)}}
	body, err := g.doRequest(ctx, http.MethodGet, "/spot/order_book", q, nil, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Bids    [][]string `json:"bids"`
		Asks    [][]string `json:"asks"`
		UpdateT int64      `json:"update_time_ms"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	ob := &OrderBook{Symbol: symbol, Timestamp: time.UnixMilli(resp.UpdateT)}
	for _, lvl := range resp.Bids {
		p, _ := strconv.ParseFloat(lvl[0], 64)
		v, _ := strconv.ParseFloat(lvl[1], 64)
		ob.Bids = append(ob.Bids, PriceLevel{Price: p, Volume: v})
	}
	for _, lvl := range resp.Asks {
		p, _ := strconv.ParseFloat(lvl[0], 64)
		v, _ := strconv.ParseFloat(lvl[1], 64)
		ob.Asks = append(ob.Asks, PriceLevel{Price: p, Volume: v})
	}
	sort.Slice(ob.Bids, func(i, j int) bool { return ob.Bids[i].Price > ob.Bids[j].Price })
	sort.Slice(ob.Asks, func(i, j int) bool { return ob.Asks[i].Price < ob.Asks[j].Price })
	return ob, nil
}

func (g *Gate) PlaceOrder(ctx context.Context, symbol, side string, qty float64) (*models.Order, error) {
	body := map[string]any{
		"currency_pair": g.toGateSymbol(symbol),
		"side":          side,
		"amount":        strconv.FormatFloat(qty, 'f', -1, 64),
		"type":          "market",
		"time_in_force": "ioc",
	}
	respBody, err := g.doRequest(ctx, http.MethodPost, "/spot/orders", nil, body, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		AvgDealPrice string `json:"avg_deal_price"`
		FilledAmount string `json:"filled_amount"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	avg, _ := strconv.ParseFloat(resp.AvgDealPrice, 64)
	filled, _ := strconv.ParseFloat(resp.FilledAmount, 64)
	order := &models.Order{
		Venue: g.Name(), Symbol: symbol, Side: side, Type: models.OrderTypeMarket,
		Quantity: filled, PriceAvg: avg, ExchangeID: resp.ID,
		Status: gateOrderStatus(resp.Status), CreatedAt: time.Now(),
	}
	if order.Status == models.OrderStatusFilled {
		now := time.Now()
		order.FilledAt = &now
	}
	return order, nil
}

func (g *Gate) CancelOrder(ctx context.Context, symbol, orderID string) error {
	q := url.Values{"currency_pair": {g.toGateSymbol(symbol)}}
	_, err := g.doRequest(ctx, http.MethodDelete, "/spot/orders/"+orderID, q, nil, true)
	return err
}

func (g *Gate) QueryOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	q := url.Values{"currency_pair": {g.toGateSymbol(symbol)}}
	body, err := g.doRequest(ctx, http.MethodGet, "/spot/orders/"+orderID, q, nil, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		ID           string `json:"id"`
		Side         string `json:"side"`
		Status       string `json:"status"`
		AvgDealPrice string `json:"avg_deal_price"`
		FilledAmount string `json:"filled_amount"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	avg, _ := strconv.ParseFloat(resp.AvgDealPrice, 64)
	filled, _ := strconv.ParseFloat(resp.FilledAmount, 64)
	order := &models.Order{
		Venue: g.Name(), Symbol: symbol, Side: resp.Side, Type: models.OrderTypeMarket,
		Quantity: filled, PriceAvg: avg, ExchangeID: resp.ID,
		Status: gateOrderStatus(resp.Status), CreatedAt: time.Now(),
	}
	if order.Status == models.OrderStatusFilled {
		now := time.Now()
		order.FilledAt = &now
	}
	return order, nil
}

func gateOrderStatus(s string) string {
	switch s {
	case "closed":
		return models.OrderStatusFilled
	case "cancelled":
		return models.OrderStatusCancelled
	case "open":
		return models.OrderStatusPartial
	default:
		return models.OrderStatusNew
	}
}

func (g *Gate) FetchBalances(ctx context.Context) ([]models.Balance, error) {
	body, err := g.doRequest(ctx, http.MethodGet, "/spot/accounts", nil, nil, true)
	if err != nil {
		return nil, err
	}
	var resp []struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
		Locked    string `json:"locked"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]models.Balance, 0, len(resp))
	for _, b := range resp {
		free, _ := strconv.ParseFloat(b.Available, 64)
		locked, _ := strconv.ParseFloat(b.Locked, 64)
		out = append(out, models.Balance{Venue: g.Name(), Asset: b.Currency, Free: free, Locked: locked, UpdatedAt: now})
	}
	return out, nil
}

func (g *Gate) FetchFees(ctx context.Context, symbol string) (models.FeeSchedule, error) {
	g.feeMu.Lock()
	defer g.feeMu.Unlock()
	if fs, ok := g.fees.get(symbol); ok {
		return fs, nil
	}
	q := url.Values{"currency_pair": {g.toGateSymbol(symbol)}}
	body, err := g.doRequest(ctx, http.MethodGet, "/spot/fee", q, nil, true)
	if err != nil {
		return models.FeeSchedule{Venue: g.Name(), Symbol: symbol, TakerFee: 0.002, MakerFee: 0.002}, nil
	}
	var resp struct {
		TakerFee string `json:"taker_fee"`
		MakerFee string `json:"maker_fee"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.FeeSchedule{Venue: g.Name(), Symbol: symbol, TakerFee: 0.002, MakerFee: 0.002}, nil
	}
	taker, _ := strconv.ParseFloat(resp.TakerFee, 64)
	maker, _ := strconv.ParseFloat(resp.MakerFee, 64)
	fs := models.FeeSchedule{Venue: g.Name(), Symbol: symbol, TakerFee: taker, MakerFee: maker, UpdatedAt: time.Now()}
	g.fees.put(fs)
	return fs, nil
}

func (g *Gate) ListSymbols(ctx context.Context) ([]string, error) {
	body, err := g.doRequest(ctx, http.MethodGet, "/spot/currency_pairs", nil, nil, false)
	if err != nil {
		return nil, err
	}
	var resp []struct {
		ID          string `json:"id"`
		TradeStatus string `json:"trade_status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp))
	for _, p := range resp {
		if p.TradeStatus == "tradable" {
			out = append(out, g.fromGateSymbol(p.ID))
		}
	}
	return out, nil
}

func (g *Gate) List24hTickers(ctx context.Context) ([]*models.Quote, error) {
	body, err := g.doRequest(ctx, http.MethodGet, "/spot/tickers", nil, nil, false)
	if err != nil {
		return nil, err
	}
	var resp []struct {
		CurrencyPair string `json:"currency_pair"`
		Last         string `json:"last"`
		LowestAsk    string `json:"lowest_ask"`
		HighestBid   string `json:"highest_bid"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	var out []*models.Quote
	for _, t := range resp {
		if q := g.quoteFromTicker(t.CurrencyPair, t.HighestBid, t.LowestAsk, "", "", t.Last); q != nil {
			out = append(out, q)
		}
	}
	return out, nil
}

func (g *Gate) Close() error {
	return g.DisconnectStream()
}
