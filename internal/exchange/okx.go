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
	okxBaseURL   = "https://www.okx.com"
	okxWSPublic  = "wss://ws.okx.com:8443/ws/v5/public"
	okxBatchSize = 50

	// okxRate/okxBurst match pkg/ratelimit's documented OKX allowance.
	okxRate  = 20
	okxBurst = 40
)

// OKX implements Exchange against OKX's v5 spot REST and public
// WebSocket API (instType=SPOT, tdMode=cash). Base64-encoded
// HMAC-SHA256 signing (timestamp+method+path+body) is kept from the
// teacher's futures adapter; instId uses OKX's native "BASE-QUOTE" wire
// form, translated from/to the canonical "BASEQUOTE" form at the
// boundary (toOKXSymbol/fromOKXSymbol).
type OKX struct {
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

func NewOKX(apiKey, secret, passphrase string) *OKX {
	return &OKX{
		apiKey: apiKey, secretKey: secret, passphrase: passphrase,
		httpClient: GetGlobalHTTPClient().GetClient(),
		quoteCh:    make(chan *models.Quote, quoteChanBuffer),
		fees:       newFeeCache(),
		limiter:    venueLimiter(okxRate, okxBurst),
		logger:     utils.L().WithComponent("exchange.okx"),
	}
}

func (o *OKX) Name() string { return "okx" }

func (o *OKX) sign(timestamp, method, requestPath, body string) string {
	message := timestamp + method + requestPath + body
	h := hmac.New(sha256.New, []byte(o.secretKey))
	h.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (o *OKX) toOKXSymbol(canonical string) string {
	norm := utils.NormalizeSymbol(canonical)
	base := utils.ExtractBaseCurrency(norm)
	quote := utils.ExtractQuoteCurrency(norm)
	if quote == "" {
		return norm
	}
	return base + "-" + quote
}

func (o *OKX) fromOKXSymbol(instId string) string {
	return strings.ReplaceAll(instId, "-", "")
}

func (o *OKX) doRequest(ctx context.Context, method, endpoint string, query map[string]string, body map[string]any, signed bool) ([]byte, error) {
	reqPath := endpoint
	if method == http.MethodGet && len(query) > 0 {
		q := make([]string, 0, len(query))
		for k, v := range query {
			q = append(q, k+"="+v)
		}
		sort.Strings(q)
		reqPath += "?" + strings.Join(q, "&")
	}

	var bodyStr string
	if len(body) > 0 {
		b, _ := json.Marshal(body)
		bodyStr = string(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, okxBaseURL+reqPath, strings.NewReader(bodyStr))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		req.Header.Set("OK-ACCESS-KEY", o.apiKey)
		req.Header.Set("OK-ACCESS-SIGN", o.sign(timestamp, method, reqPath, bodyStr))
		req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
		req.Header.Set("OK-ACCESS-PASSPHRASE", o.passphrase)
	}

	resp, err := doHTTPWithRetry(ctx, o.httpClient, o.limiter, req)
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
	if base.Code != "" && base.Code != "0" {
		return nil, &Error{Venue: "okx", Code: base.Code, Message: base.Msg}
	}
	return respBody, nil
}

func (o *OKX) ConnectStream(ctx context.Context, symbols []string) error {
	if o.streamCancel != nil {
		o.streamCancel()
	}
	o.streamCtx, o.streamCancel = context.WithCancel(ctx)

	if o.wsManager == nil {
		cfg := DefaultWSReconnectConfig()
		o.wsManager = NewWSReconnectManager("okx-public", okxWSPublic, cfg)
		o.wsManager.SetOnMessage(o.handleMessage)
		if err := o.wsManager.Connect(); err != nil {
			return fmt.Errorf("okx: connect stream: %w", err)
		}
	}

	o.wsManager.ClearSubscriptions()
	for _, batch := range batchSymbols(symbols, okxBatchSize) {
		args := make([]map[string]string, len(batch))
		for i, s := range batch {
			args[i] = map[string]string{"channel": "tickers", "instId": o.toOKXSymbol(s)}
		}
		sub := map[string]any{"op": "subscribe", "args": args}
		o.wsManager.AddSubscription(sub)
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := o.wsManager.Send(sub); err != nil {
			o.logger.Warn("subscribe batch failed", utils.Err(err))
		}
	}
	return nil
}

func (o *OKX) DisconnectStream() error {
	if o.streamCancel != nil {
		o.streamCancel()
	}
	if o.wsManager != nil {
		return o.wsManager.Close()
	}
	return nil
}

func (o *OKX) Quotes() <-chan *models.Quote { return o.quoteCh }

func (o *OKX) handleMessage(message []byte) {
	var msg struct {
		Arg struct {
			Channel string `json:"channel"`
		} `json:"arg"`
		Data []struct {
			InstId  string `json:"instId"`
			BidPx   string `json:"bidPx"`
			BidSz   string `json:"bidSz"`
			AskPx   string `json:"askPx"`
			AskSz   string `json:"askSz"`
			Last    string `json:"last"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &msg); err != nil || msg.Arg.Channel != "tickers" {
		return
	}
	for _, d := range msg.Data {
		q := o.quoteFromTicker(d.InstId, d.BidPx, d.AskPx, d.BidSz, d.AskSz, d.Last)
		if q != nil && o.streamCtx != nil {
			sendQuote(o.streamCtx, o.quoteCh, q)
		}
	}
}

func (o *OKX) quoteFromTicker(instId, bidS, askS, bidSzS, askSzS, lastS string) *models.Quote {
	if instId == "" {
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
	norm := o.fromOKXSymbol(instId)
	return &models.Quote{
		Venue:     o.Name(),
		Symbol:    models.SymbolID{Base: utils.ExtractBaseCurrency(norm), Quote: utils.ExtractQuoteCurrency(norm)},
		BidPrice:  bid, BidSize: bidSz, AskPrice: ask, AskSize: askSz,
		Timestamp: time.Now(), Synthetic: synthetic,
	}
}

func (o *OKX) FetchTicker(ctx context.Context, symbol string) (*models.Quote, error) {
	instId := o.toOKXSymbol(symbol)
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/market/ticker", map[string]string{"instId": instId}, nil, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			InstId string `json:"instId"`
			BidPx  string `json:"bidPx"`
			BidSz  string `json:"bidSz"`
			AskPx  string `json:"askPx"`
			AskSz  string `json:"askSz"`
			Last   string `json:"last"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("okx: ticker not found for %s", symbol)
	}
	t := resp.Data[0]
	q := o.quoteFromTicker(t.InstId, t.BidPx, t.AskPx, t.BidSz, t.AskSz, t.Last)
	if q == nil {
		return nil, fmt.Errorf("okx: unparseable ticker for %s", symbol)
	}
	return q, nil
}

func (o *OKX) FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	if depth <= 0 || depth > 400 {
		depth = 50
	}
	instId := o.toOKXSymbol(symbol)
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/market/books",
		map[string]string{"instId": instId, "sz": strconv.Itoa(depth)}, nil, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			Bids [][]string `json:"bids"`
			Asks [][]string `json:"asks"`
			Ts   string     `json:"ts"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("okx: orderbook not found for %s", symbol)
	}
	d := resp.Data[0]
	tsMs, _ := strconv.ParseInt(d.Ts, 10, 64)
	ob := &OrderBook{Symbol: symbol, Timestamp: time.UnixMilli(tsMs)}
	for _, lvl := range d.Bids {
		p, _ := strconv.ParseFloat(lvl[0], 64)
		v, _ := strconv.ParseFloat(lvl[1], 64)
		ob.Bids = append(ob.Bids, PriceLevel{Price: p, Volume: v})
	}
	for _, lvl := range d.Asks {
		p, _ := strconv.ParseFloat(lvl[0], 64)
		v, _ := strconv.ParseFloat(lvl[1], 64)
		ob.Asks = append(ob.Asks, PriceLevel{Price: p, Volume: v})
	}
	sort.Slice(ob.Bids, func(i, j int) bool { return ob.Bids[i].Price > ob.Bids[j].Price })
	sort.Slice(ob.Asks, func(i, j int) bool { return ob.Asks[i].Price < ob.Asks[j].Price })
	return ob, nil
}

func (o *OKX) PlaceOrder(ctx context.Context, symbol, side string, qty float64) (*models.Order, error) {
	instId := o.toOKXSymbol(symbol)
	body := map[string]any{
		"instId": instId,
		"tdMode": "cash",
		"side":   side,
		"ordType": "market",
		"sz":     strconv.FormatFloat(qty, 'f', -1, 64),
		"tgtCcy": "base_ccy",
	}
	respBody, err := o.doRequest(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			OrdId string `json:"ordId"`
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("okx: empty order response")
	}
	if resp.Data[0].SCode != "" && resp.Data[0].SCode != "0" {
		return nil, &Error{Venue: "okx", Code: resp.Data[0].SCode, Message: resp.Data[0].SMsg}
	}
	if filled, err := o.QueryOrder(ctx, symbol, resp.Data[0].OrdId); err == nil {
		return filled, nil
	}
	return &models.Order{
		Venue: o.Name(), Symbol: symbol, Side: side, Type: models.OrderTypeMarket,
		Quantity: qty, Status: models.OrderStatusNew, ExchangeID: resp.Data[0].OrdId, CreatedAt: time.Now(),
	}, nil
}

func (o *OKX) CancelOrder(ctx context.Context, symbol, orderID string) error {
	body := map[string]any{"instId": o.toOKXSymbol(symbol), "ordId": orderID}
	_, err := o.doRequest(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, body, true)
	return err
}

func (o *OKX) QueryOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	instId := o.toOKXSymbol(symbol)
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/trade/order",
		map[string]string{"instId": instId, "ordId": orderID}, nil, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			OrdId     string `json:"ordId"`
			Side      string `json:"side"`
			AvgPx     string `json:"avgPx"`
			AccFillSz string `json:"accFillSz"`
			State     string `json:"state"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("okx: order %s not found", orderID)
	}
	d := resp.Data[0]
	filled, _ := strconv.ParseFloat(d.AccFillSz, 64)
	avg, _ := strconv.ParseFloat(d.AvgPx, 64)
	order := &models.Order{
		Venue: o.Name(), Symbol: symbol, Side: d.Side, Type: models.OrderTypeMarket,
		Quantity: filled, PriceAvg: avg, ExchangeID: d.OrdId,
		Status: okxOrderStatus(d.State), CreatedAt: time.Now(),
	}
	if order.Status == models.OrderStatusFilled {
		now := time.Now()
		order.FilledAt = &now
	}
	return order, nil
}

func okxOrderStatus(s string) string {
	switch s {
	case "filled":
		return models.OrderStatusFilled
	case "partially_filled":
		return models.OrderStatusPartial
	case "canceled":
		return models.OrderStatusCancelled
	default:
		return models.OrderStatusNew
	}
}

func (o *OKX) FetchBalances(ctx context.Context) ([]models.Balance, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/account/balance", nil, nil, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			Details []struct {
				Ccy      string `json:"ccy"`
				AvailBal string `json:"availBal"`
				FrozenBal string `json:"frozenBal"`
			} `json:"details"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	var out []models.Balance
	now := time.Now()
	if len(resp.Data) > 0 {
		for _, d := range resp.Data[0].Details {
			free, _ := strconv.ParseFloat(d.AvailBal, 64)
			locked, _ := strconv.ParseFloat(d.FrozenBal, 64)
			out = append(out, models.Balance{Venue: o.Name(), Asset: d.Ccy, Free: free, Locked: locked, UpdatedAt: now})
		}
	}
	return out, nil
}

func (o *OKX) FetchFees(ctx context.Context, symbol string) (models.FeeSchedule, error) {
	o.feeMu.Lock()
	defer o.feeMu.Unlock()
	if fs, ok := o.fees.get(symbol); ok {
		return fs, nil
	}
	instId := o.toOKXSymbol(symbol)
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/account/trade-fee",
		map[string]string{"instType": "SPOT", "instId": instId}, nil, true)
	if err != nil {
		return models.FeeSchedule{Venue: o.Name(), Symbol: symbol, TakerFee: 0.001, MakerFee: 0.0008}, nil
	}
	var resp struct {
		Data []struct {
			Taker string `json:"taker"`
			Maker string `json:"maker"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Data) == 0 {
		return models.FeeSchedule{Venue: o.Name(), Symbol: symbol, TakerFee: 0.001, MakerFee: 0.0008}, nil
	}
	taker, _ := strconv.ParseFloat(resp.Data[0].Taker, 64)
	maker, _ := strconv.ParseFloat(resp.Data[0].Maker, 64)
	// OKX reports fees as negative (rebate convention); taker fee for spot
	// is a cost and usually non-negative, but flip sign defensively.
	if taker < 0 {
		taker = -taker
	}
	if maker < 0 {
		maker = -maker
	}
	fs := models.FeeSchedule{Venue: o.Name(), Symbol: symbol, TakerFee: taker, MakerFee: maker, UpdatedAt: time.Now()}
	o.fees.put(fs)
	return fs, nil
}

func (o *OKX) ListSymbols(ctx context.Context) ([]string, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/public/instruments", map[string]string{"instType": "SPOT"}, nil, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			InstId string `json:"instId"`
			State  string `json:"state"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.State == "live" {
			out = append(out, o.fromOKXSymbol(d.InstId))
		}
	}
	return out, nil
}

func (o *OKX) List24hTickers(ctx context.Context) ([]*models.Quote, error) {
	body, err := o.doRequest(ctx, http.MethodGet, "/api/v5/market/tickers", map[string]string{"instType": "SPOT"}, nil, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			InstId string `json:"instId"`
			BidPx  string `json:"bidPx"`
			BidSz  string `json:"bidSz"`
			AskPx  string `json:"askPx"`
			AskSz  string `json:"askSz"`
			Last   string `json:"last"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	var out []*models.Quote
	for _, t := range resp.Data {
		if q := o.quoteFromTicker(t.InstId, t.BidPx, t.AskPx, t.BidSz, t.AskSz, t.Last); q != nil {
			out = append(out, q)
		}
	}
	return out, nil
}

func (o *OKX) Close() error {
	return o.DisconnectStream()
}
