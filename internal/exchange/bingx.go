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
	bingxBaseURL   = "https://open-api.bingx.com"
	bingxWSPublic  = "wss://open-api-ws.bingx.com/market"
	bingxBatchSize = 50

	// bingxRate/bingxBurst match pkg/ratelimit's documented BingX allowance.
	bingxRate  = 10
	bingxBurst = 20
)

// BingX implements Exchange against BingX's spot REST v1 and public
// market WebSocket API. Symbols travel the wire dash-separated
// ("BTC-USDT"); signing is hex HMAC-SHA256 over the query parameters
// sorted by key and joined as raw key=value pairs (not URL-encoded).
type BingX struct {
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

func NewBingX(apiKey, secret, _ string) *BingX {
	return &BingX{
		apiKey: apiKey, secretKey: secret,
		httpClient: GetGlobalHTTPClient().GetClient(),
		quoteCh:    make(chan *models.Quote, quoteChanBuffer),
		fees:       newFeeCache(),
		limiter:    venueLimiter(bingxRate, bingxBurst),
		logger:     utils.L().WithComponent("exchange.bingx"),
	}
}

func (b *BingX) Name() string { return "bingx" }

func (b *BingX) sign(query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+query.Get(k))
	}
	payload := strings.Join(parts, "&")
	mac := hmac.New(sha256.New, []byte(b.secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (b *BingX) toBingXSymbol(canonical string) string {
	norm := utils.NormalizeSymbol(canonical)
	base := utils.ExtractBaseCurrency(norm)
	quote := utils.ExtractQuoteCurrency(norm)
	if quote == "" {
		return norm
	}
	return base + "-" + quote
}

func (b *BingX) fromBingXSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "-", "")
}

func (b *BingX) doRequest(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("signature", b.sign(params))
	}

	reqURL := bingxBaseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-BX-APIKEY", b.apiKey)

	resp, err := doHTTPWithRetry(ctx, b.httpClient, b.limiter, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var base struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(respBody, &base); err != nil {
		return nil, err
	}
	if base.Code != 0 {
		return nil, &Error{Venue: "bingx", Code: strconv.Itoa(base.Code), Message: base.Msg}
	}
	return respBody, nil
}

func (b *BingX) ConnectStream(ctx context.Context, symbols []string) error {
	if b.streamCancel != nil {
		b.streamCancel()
	}
	b.streamCtx, b.streamCancel = context.WithCancel(ctx)

	if b.wsManager == nil {
		cfg := DefaultWSReconnectConfig()
		b.wsManager = NewWSReconnectManager("bingx-public", bingxWSPublic, cfg)
		b.wsManager.SetOnMessage(b.handleMessage)
		if err := b.wsManager.Connect(); err != nil {
			return fmt.Errorf("bingx: connect stream: %w", err)
		}
	}

	b.wsManager.ClearSubscriptions()
	for _, s := range symbols {
		sym := b.toBingXSymbol(s)
		sub := map[string]any{"id": sym + "-bookTicker", "reqType": "sub", "dataType": sym + "@bookTicker"}
		b.wsManager.AddSubscription(sub)
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := b.wsManager.Send(sub); err != nil {
			b.logger.Warn("subscribe failed", utils.Err(err))
		}
	}
	return nil
}

func (b *BingX) DisconnectStream() error {
	if b.streamCancel != nil {
		b.streamCancel()
	}
	if b.wsManager != nil {
		return b.wsManager.Close()
	}
	return nil
}

func (b *BingX) Quotes() <-chan *models.Quote { return b.quoteCh }

func (b *BingX) handleMessage(message []byte) {
	var msg struct {
		DataType string `json:"dataType"`
		Data     struct {
			Symbol   string `json:"s"`
			BidPrice string `json:"b"`
			BidQty   string `json:"B"`
			AskPrice string `json:"a"`
			AskQty   string `json:"A"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &msg); err != nil || !strings.HasSuffix(msg.DataType, "@bookTicker") {
		return
	}
	q := b.quoteFromTicker(msg.Data.Symbol, msg.Data.BidPrice, msg.Data.AskPrice, msg.Data.BidQty, msg.Data.AskQty, "")
	if q != nil && b.streamCtx != nil {
		sendQuote(b.streamCtx, b.quoteCh, q)
	}
}

func (b *BingX) quoteFromTicker(symbol, bidS, askS, bidSzS, askSzS, lastS string) *models.Quote {
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
	norm := b.fromBingXSymbol(symbol)
	return &models.Quote{
		Venue:     b.Name(),
		Symbol:    models.SymbolID{Base: utils.ExtractBaseCurrency(norm), Quote: utils.ExtractQuoteCurrency(norm)},
		BidPrice:  bid, BidSize: bidSz, AskPrice: ask, AskSize: askSz,
		Timestamp: time.Now(), Synthetic: synthetic,
	}
}

func (b *BingX) FetchTicker(ctx context.Context, symbol string) (*models.Quote, error) {
	sym := b.toBingXSymbol(symbol)
	body, err := b.doRequest(ctx, http.MethodGet, "/openApi/spot/v1/ticker/bookTicker", url.Values{"symbol": {sym}}, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			Symbol   string `json:"symbol"`
			BidPrice string `json:"bidPrice"`
			BidQty   string `json:"bidQty"`
			AskPrice string `json:"askPrice"`
			AskQty   string `json:"askQty"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	q := b.quoteFromTicker(resp.Data.Symbol, resp.Data.BidPrice, resp.Data.AskPrice, resp.Data.BidQty, resp.Data.AskQty, "")
	if q == nil {
		return nil, fmt.Errorf("bingx: unparseable ticker for %s", symbol)
	}
	return q, nil
}

func (b *BingX) FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	if depth <= 0 || depth > 100 {
		depth = 50
	}
	sym := b.toBingXSymbol(symbol)
	body, err := b.doRequest(ctx, http.MethodGet, "/openApi/spot/v1/market/depth",
		url.Values{"symbol": {sym}, "limit": {strconv.Itoa(depth)}}, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			Bids [][]string `json:"bids"`
			Asks [][]string `json:"asks"`
			Ts   int64      `json:"ts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	ob := &OrderBook{Symbol: symbol, Timestamp: time.UnixMilli(resp.Data.Ts)}
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

func (b *BingX) PlaceOrder(ctx context.Context, symbol, side string, qty float64) (*models.Order, error) {
	params := url.Values{
		"symbol":   {b.toBingXSymbol(symbol)},
		"side":     {strings.ToUpper(side)},
		"type":     {"MARKET"},
		"quantity": {strconv.FormatFloat(qty, 'f', -1, 64)},
	}
	respBody, err := b.doRequest(ctx, http.MethodPost, "/openApi/spot/v1/trade/order", params, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			OrderId int64 `json:"orderId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	orderID := strconv.FormatInt(resp.Data.OrderId, 10)
	if filled, err := b.QueryOrder(ctx, symbol, orderID); err == nil {
		return filled, nil
	}
	return &models.Order{
		Venue: b.Name(), Symbol: symbol, Side: side, Type: models.OrderTypeMarket,
		Quantity: qty, Status: models.OrderStatusNew, ExchangeID: orderID, CreatedAt: time.Now(),
	}, nil
}

func (b *BingX) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{"symbol": {b.toBingXSymbol(symbol)}, "orderId": {orderID}}
	_, err := b.doRequest(ctx, http.MethodPost, "/openApi/spot/v1/trade/cancel", params, true)
	return err
}

func (b *BingX) QueryOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	params := url.Values{"symbol": {b.toBingXSymbol(symbol)}, "orderId": {orderID}}
	body, err := b.doRequest(ctx, http.MethodGet, "/openApi/spot/v1/trade/query", params, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			Side                 string `json:"side"`
			ExecutedQty          string `json:"executedQty"`
			CummulativeQuoteQty  string `json:"cummulativeQuoteQty"`
			Status               string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	filled, _ := strconv.ParseFloat(resp.Data.ExecutedQty, 64)
	quoteQty, _ := strconv.ParseFloat(resp.Data.CummulativeQuoteQty, 64)
	var avg float64
	if filled > 0 {
		avg = quoteQty / filled
	}
	order := &models.Order{
		Venue: b.Name(), Symbol: symbol, Side: resp.Data.Side, Type: models.OrderTypeMarket,
		Quantity: filled, PriceAvg: avg, ExchangeID: orderID,
		Status: bingxOrderStatus(resp.Data.Status), CreatedAt: time.Now(),
	}
	if order.Status == models.OrderStatusFilled {
		now := time.Now()
		order.FilledAt = &now
	}
	return order, nil
}

func bingxOrderStatus(s string) string {
	switch strings.ToUpper(s) {
	case "FILLED":
		return models.OrderStatusFilled
	case "PARTIALLY_FILLED":
		return models.OrderStatusPartial
	case "CANCELED":
		return models.OrderStatusCancelled
	default:
		return models.OrderStatusNew
	}
}

func (b *BingX) FetchBalances(ctx context.Context) ([]models.Balance, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/openApi/spot/v1/account/balance", nil, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			Balances []struct {
				Asset  string `json:"asset"`
				Free   string `json:"free"`
				Locked string `json:"locked"`
			} `json:"balances"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]models.Balance, 0, len(resp.Data.Balances))
	for _, bal := range resp.Data.Balances {
		free, _ := strconv.ParseFloat(bal.Free, 64)
		locked, _ := strconv.ParseFloat(bal.Locked, 64)
		out = append(out, models.Balance{Venue: b.Name(), Asset: bal.Asset, Free: free, Locked: locked, UpdatedAt: now})
	}
	return out, nil
}

// FetchFees: BingX's spot API exposes no general trade-fee-rate
// endpoint at the time of writing; venue-wide defaults are used and
// cached so executor cost math still has a FeeSchedule to read.
func (b *BingX) FetchFees(ctx context.Context, symbol string) (models.FeeSchedule, error) {
	b.feeMu.Lock()
	defer b.feeMu.Unlock()
	if fs, ok := b.fees.get(symbol); ok {
		return fs, nil
	}
	fs := models.FeeSchedule{Venue: b.Name(), Symbol: symbol, TakerFee: 0.001, MakerFee: 0.001, UpdatedAt: time.Now()}
	b.fees.put(fs)
	return fs, nil
}

func (b *BingX) ListSymbols(ctx context.Context) ([]string, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/openApi/spot/v1/common/symbols", nil, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			Symbols []struct {
				Symbol string `json:"symbol"`
				Status int    `json:"status"`
			} `json:"symbols"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.Data.Symbols))
	for _, s := range resp.Data.Symbols {
		if s.Status == 1 {
			out = append(out, b.fromBingXSymbol(s.Symbol))
		}
	}
	return out, nil
}

func (b *BingX) List24hTickers(ctx context.Context) ([]*models.Quote, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/openApi/spot/v1/ticker/bookTicker", nil, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			Symbol   string `json:"symbol"`
			BidPrice string `json:"bidPrice"`
			BidQty   string `json:"bidQty"`
			AskPrice string `json:"askPrice"`
			AskQty   string `json:"askQty"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	var out []*models.Quote
	for _, t := range resp.Data {
		if q := b.quoteFromTicker(t.Symbol, t.BidPrice, t.AskPrice, t.BidQty, t.AskQty, ""); q != nil {
			out = append(out, q)
		}
	}
	return out, nil
}

func (b *BingX) Close() error {
	return b.DisconnectStream()
}
