package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
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
	bybitBaseURL    = "https://api.bybit.com"
	bybitWSSpot     = "wss://stream.bybit.com/v5/public/spot"
	bybitRecvWindow = "5000"
	bybitBatchSize  = 10 // Bybit's v5 public WS caps args per subscribe frame at 10

	// bybitRate/bybitBurst match pkg/ratelimit's documented Bybit allowance.
	bybitRate  = 10
	bybitBurst = 20
)

// Bybit implements Exchange against Bybit's v5 spot REST and public
// WebSocket API. Signing (HMAC-SHA256 over timestamp+apiKey+recvWindow+
// params) and doRequest's error-envelope handling are kept from the
// teacher's futures adapter; every endpoint, symbol form (Bybit spot
// symbols are already bare "BTCUSDT", no translation needed) and
// response shape below targets category=spot rather than linear.
type Bybit struct {
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

// NewBybit builds a Bybit adapter with the given REST/WS credentials.
func NewBybit(apiKey, secret, _ string) *Bybit {
	return &Bybit{
		apiKey:     apiKey,
		secretKey:  secret,
		httpClient: GetGlobalHTTPClient().GetClient(),
		quoteCh:    make(chan *models.Quote, quoteChanBuffer),
		fees:       newFeeCache(),
		limiter:    venueLimiter(bybitRate, bybitBurst),
		logger:     utils.L().WithComponent("exchange.bybit"),
	}
}

func (b *Bybit) Name() string { return "bybit" }

func (b *Bybit) sign(timestamp, params string) string {
	message := timestamp + b.apiKey + bybitRecvWindow + params
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	var reqBody, reqURL string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		reqBody = query.Encode()
		reqURL = bybitBaseURL + endpoint
		if reqBody != "" {
			reqURL += "?" + reqBody
		}
	} else {
		reqURL = bybitBaseURL + endpoint
		if len(params) > 0 {
			jsonBytes, _ := json.Marshal(params)
			reqBody = string(jsonBytes)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-BAPI-API-KEY", b.apiKey)
		req.Header.Set("X-BAPI-SIGN", b.sign(timestamp, reqBody))
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	}

	resp, err := doHTTPWithRetry(ctx, b.httpClient, b.limiter, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, err
	}
	if baseResp.RetCode != 0 {
		return nil, &Error{Venue: "bybit", Code: strconv.Itoa(baseResp.RetCode), Message: baseResp.RetMsg}
	}
	return body, nil
}

// ConnectStream dials Bybit's public spot WebSocket and subscribes to
// top-of-book tickers for symbols, batched at bybitBatchSize per frame.
func (b *Bybit) ConnectStream(ctx context.Context, symbols []string) error {
	if b.streamCancel != nil {
		b.streamCancel()
	}
	b.streamCtx, b.streamCancel = context.WithCancel(ctx)

	if b.wsManager == nil {
		cfg := DefaultWSReconnectConfig()
		b.wsManager = NewWSReconnectManager("bybit-spot", bybitWSSpot, cfg)
		b.wsManager.SetOnMessage(b.handleMessage)
		if err := b.wsManager.Connect(); err != nil {
			return fmt.Errorf("bybit: connect stream: %w", err)
		}
	}

	b.wsManager.ClearSubscriptions()
	for _, batch := range batchSymbols(symbols, bybitBatchSize) {
		args := make([]string, len(batch))
		for i, s := range batch {
			args[i] = "tickers." + s
		}
		sub := map[string]any{"op": "subscribe", "args": args}
		b.wsManager.AddSubscription(sub)
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := b.wsManager.Send(sub); err != nil {
			b.logger.Warn("subscribe batch failed", utils.Err(err))
		}
	}
	return nil
}

func (b *Bybit) DisconnectStream() error {
	if b.streamCancel != nil {
		b.streamCancel()
	}
	if b.wsManager != nil {
		return b.wsManager.Close()
	}
	return nil
}

func (b *Bybit) Quotes() <-chan *models.Quote { return b.quoteCh }

func (b *Bybit) handleMessage(message []byte) {
	var msg struct {
		Topic string `json:"topic"`
		Data  struct {
			Symbol    string `json:"symbol"`
			Bid1Price string `json:"bid1Price"`
			Bid1Size  string `json:"bid1Size"`
			Ask1Price string `json:"ask1Price"`
			Ask1Size  string `json:"ask1Size"`
			LastPrice string `json:"lastPrice"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &msg); err != nil || !strings.HasPrefix(msg.Topic, "tickers.") {
		return
	}
	q := b.quoteFromTicker(msg.Data.Symbol, msg.Data.Bid1Price, msg.Data.Ask1Price, msg.Data.Bid1Size, msg.Data.Ask1Size, msg.Data.LastPrice)
	if q == nil {
		return
	}
	if b.streamCtx != nil {
		sendQuote(b.streamCtx, b.quoteCh, q)
	}
}

func (b *Bybit) quoteFromTicker(symbol, bidS, askS, bidSzS, askSzS, lastS string) *models.Quote {
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
	norm := utils.NormalizeSymbol(symbol)
	return &models.Quote{
		Venue:     b.Name(),
		Symbol:    models.SymbolID{Base: utils.ExtractBaseCurrency(norm), Quote: utils.ExtractQuoteCurrency(norm)},
		BidPrice:  bid,
		BidSize:   bidSz,
		AskPrice:  ask,
		AskSize:   askSz,
		Timestamp: time.Now(),
		Synthetic: synthetic,
	}
}

func (b *Bybit) FetchTicker(ctx context.Context, symbol string) (*models.Quote, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/tickers", map[string]string{"category": "spot", "symbol": symbol}, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result struct {
			List []struct {
				Symbol    string `json:"symbol"`
				Bid1Price string `json:"bid1Price"`
				Bid1Size  string `json:"bid1Size"`
				Ask1Price string `json:"ask1Price"`
				Ask1Size  string `json:"ask1Size"`
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result.List) == 0 {
		return nil, fmt.Errorf("bybit: ticker not found for %s", symbol)
	}
	t := resp.Result.List[0]
	q := b.quoteFromTicker(t.Symbol, t.Bid1Price, t.Ask1Price, t.Bid1Size, t.Ask1Size, t.LastPrice)
	if q == nil {
		return nil, fmt.Errorf("bybit: unparseable ticker for %s", symbol)
	}
	return q, nil
}

func (b *Bybit) FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	if depth <= 0 || depth > 200 {
		depth = 50
	}
	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/orderbook",
		map[string]string{"category": "spot", "symbol": symbol, "limit": strconv.Itoa(depth)}, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result struct {
			Symbol string     `json:"s"`
			Bids   [][]string `json:"b"`
			Asks   [][]string `json:"a"`
			Ts     int64      `json:"ts"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	ob := &OrderBook{Symbol: symbol, Timestamp: time.UnixMilli(resp.Result.Ts)}
	for _, lvl := range resp.Result.Bids {
		p, _ := strconv.ParseFloat(lvl[0], 64)
		v, _ := strconv.ParseFloat(lvl[1], 64)
		ob.Bids = append(ob.Bids, PriceLevel{Price: p, Volume: v})
	}
	for _, lvl := range resp.Result.Asks {
		p, _ := strconv.ParseFloat(lvl[0], 64)
		v, _ := strconv.ParseFloat(lvl[1], 64)
		ob.Asks = append(ob.Asks, PriceLevel{Price: p, Volume: v})
	}
	sort.Slice(ob.Bids, func(i, j int) bool { return ob.Bids[i].Price > ob.Bids[j].Price })
	sort.Slice(ob.Asks, func(i, j int) bool { return ob.Asks[i].Price < ob.Asks[j].Price })
	return ob, nil
}

func (b *Bybit) PlaceOrder(ctx context.Context, symbol, side string, qty float64) (*models.Order, error) {
	bybitSide := "Buy"
	if side == models.SideSell {
		bybitSide = "Sell"
	}
	params := map[string]string{
		"category":    "spot",
		"symbol":      symbol,
		"side":        bybitSide,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(qty, 'f', -1, 64),
		"marketUnit":  "baseCoin",
		"timeInForce": "IOC",
	}
	body, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result struct {
			OrderId string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	order := &models.Order{
		Venue: b.Name(), Symbol: symbol, Side: side, Type: models.OrderTypeMarket,
		Quantity: qty, Status: models.OrderStatusNew, ExchangeID: resp.Result.OrderId,
		CreatedAt: time.Now(),
	}
	if filled, err := b.QueryOrder(ctx, symbol, resp.Result.OrderId); err == nil {
		return filled, nil
	}
	return order, nil
}

func (b *Bybit) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := b.doRequest(ctx, http.MethodPost, "/v5/order/cancel",
		map[string]string{"category": "spot", "symbol": symbol, "orderId": orderID}, true)
	return err
}

func (b *Bybit) QueryOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/v5/order/realtime",
		map[string]string{"category": "spot", "symbol": symbol, "orderId": orderID}, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result struct {
			List []struct {
				OrderId     string `json:"orderId"`
				Side        string `json:"side"`
				CumExecQty  string `json:"cumExecQty"`
				AvgPrice    string `json:"avgPrice"`
				OrderStatus string `json:"orderStatus"`
				CreatedTime string `json:"createdTime"`
				UpdatedTime string `json:"updatedTime"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Result.List) == 0 {
		return nil, fmt.Errorf("bybit: order %s not found", orderID)
	}
	o := resp.Result.List[0]
	filled, _ := strconv.ParseFloat(o.CumExecQty, 64)
	avg, _ := strconv.ParseFloat(o.AvgPrice, 64)
	side := models.SideBuy
	if o.Side == "Sell" {
		side = models.SideSell
	}
	order := &models.Order{
		Venue: b.Name(), Symbol: symbol, Side: side, Type: models.OrderTypeMarket,
		Quantity: filled, PriceAvg: avg, ExchangeID: o.OrderId,
		Status: bybitOrderStatus(o.OrderStatus), CreatedAt: time.Now(),
	}
	if order.Status == models.OrderStatusFilled {
		now := time.Now()
		order.FilledAt = &now
	}
	return order, nil
}

func bybitOrderStatus(s string) string {
	switch s {
	case "Filled":
		return models.OrderStatusFilled
	case "PartiallyFilled":
		return models.OrderStatusPartial
	case "Cancelled", "Deactivated":
		return models.OrderStatusCancelled
	case "Rejected":
		return models.OrderStatusRejected
	default:
		return models.OrderStatusNew
	}
}

func (b *Bybit) FetchBalances(ctx context.Context) ([]models.Balance, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance",
		map[string]string{"accountType": "UNIFIED"}, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin            string `json:"coin"`
					WalletBalance   string `json:"walletBalance"`
					Locked          string `json:"locked"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	var out []models.Balance
	now := time.Now()
	if len(resp.Result.List) > 0 {
		for _, c := range resp.Result.List[0].Coin {
			total, _ := strconv.ParseFloat(c.WalletBalance, 64)
			locked, _ := strconv.ParseFloat(c.Locked, 64)
			out = append(out, models.Balance{
				Venue: b.Name(), Asset: c.Coin, Free: total - locked, Locked: locked, UpdatedAt: now,
			})
		}
	}
	return out, nil
}

func (b *Bybit) FetchFees(ctx context.Context, symbol string) (models.FeeSchedule, error) {
	b.feeMu.Lock()
	defer b.feeMu.Unlock()
	if fs, ok := b.fees.get(symbol); ok {
		return fs, nil
	}
	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/fee-rate",
		map[string]string{"category": "spot", "symbol": symbol}, true)
	if err != nil {
		return models.FeeSchedule{Venue: b.Name(), Symbol: symbol, TakerFee: 0.001, MakerFee: 0.001}, nil
	}
	var resp struct {
		Result struct {
			List []struct {
				TakerFeeRate string `json:"takerFeeRate"`
				MakerFeeRate string `json:"makerFeeRate"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Result.List) == 0 {
		return models.FeeSchedule{Venue: b.Name(), Symbol: symbol, TakerFee: 0.001, MakerFee: 0.001}, nil
	}
	taker, _ := strconv.ParseFloat(resp.Result.List[0].TakerFeeRate, 64)
	maker, _ := strconv.ParseFloat(resp.Result.List[0].MakerFeeRate, 64)
	fs := models.FeeSchedule{Venue: b.Name(), Symbol: symbol, TakerFee: taker, MakerFee: maker, UpdatedAt: time.Now()}
	b.fees.put(fs)
	return fs, nil
}

func (b *Bybit) ListSymbols(ctx context.Context) ([]string, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/instruments-info", map[string]string{"category": "spot"}, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result struct {
			List []struct {
				Symbol string `json:"symbol"`
				Status string `json:"status"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.Result.List))
	for _, s := range resp.Result.List {
		if s.Status == "Trading" {
			out = append(out, s.Symbol)
		}
	}
	return out, nil
}

func (b *Bybit) List24hTickers(ctx context.Context) ([]*models.Quote, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/v5/market/tickers", map[string]string{"category": "spot"}, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result struct {
			List []struct {
				Symbol    string `json:"symbol"`
				Bid1Price string `json:"bid1Price"`
				Bid1Size  string `json:"bid1Size"`
				Ask1Price string `json:"ask1Price"`
				Ask1Size  string `json:"ask1Size"`
				LastPrice string `json:"lastPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	var out []*models.Quote
	for _, t := range resp.Result.List {
		if q := b.quoteFromTicker(t.Symbol, t.Bid1Price, t.Ask1Price, t.Bid1Size, t.Ask1Size, t.LastPrice); q != nil {
			out = append(out, q)
		}
	}
	return out, nil
}

func (b *Bybit) Close() error {
	return b.DisconnectStream()
}
