package exchange

import (
	"bytes"
	"compress/gzip"
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
	htxBaseURL   = "https://api.huobi.pro"
	htxHost      = "api.huobi.pro"
	htxWSPublic  = "wss://api.huobi.pro/ws"
	htxBatchSize = 50

	// htxRate/htxBurst match pkg/ratelimit's documented HTX allowance.
	htxRate  = 10
	htxBurst = 20
)

// HTX implements Exchange against Huobi/HTX's spot REST v1/v2 and
// public market WebSocket API. Symbols travel the wire lowercase with
// no separator ("btcusdt"); signing follows Huobi's convention of a
// base64 HMAC-SHA256 over "METHOD\nHOST\nPATH\nsorted query string".
// Public market WS frames are gzip-compressed.
type HTX struct {
	apiKey    string
	secretKey string

	accountID string
	acctMu    sync.Mutex

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

func NewHTX(apiKey, secret, _ string) *HTX {
	return &HTX{
		apiKey: apiKey, secretKey: secret,
		httpClient: GetGlobalHTTPClient().GetClient(),
		quoteCh:    make(chan *models.Quote, quoteChanBuffer),
		fees:       newFeeCache(),
		limiter:    venueLimiter(htxRate, htxBurst),
		logger:     utils.L().WithComponent("exchange.htx"),
	}
}

func (h *HTX) Name() string { return "htx" }

func (h *HTX) sign(method, path string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(params.Get(k)))
	}
	payload := strings.Join([]string{method, htxHost, path, strings.Join(parts, "&")}, "\n")
	mac := hmac.New(sha256.New, []byte(h.secretKey))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (h *HTX) toHTXSymbol(canonical string) string {
	return strings.ToLower(utils.NormalizeSymbol(canonical))
}

func (h *HTX) fromHTXSymbol(symbol string) string {
	return strings.ToUpper(symbol)
}

func (h *HTX) doRequest(ctx context.Context, method, path string, query url.Values, body map[string]any, signed bool) ([]byte, error) {
	if query == nil {
		query = url.Values{}
	}

	var reqURL string
	var bodyReader io.Reader
	if signed {
		query.Set("AccessKeyId", h.apiKey)
		query.Set("SignatureMethod", "HmacSHA256")
		query.Set("SignatureVersion", "2")
		query.Set("Timestamp", time.Now().UTC().Format("2006-01-02T15:04:05"))
		query.Set("Signature", h.sign(method, path, query))
	}
	reqURL = htxBaseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	if len(body) > 0 {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := doHTTPWithRetry(ctx, h.httpClient, h.limiter, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var base struct {
		Status    string `json:"status"`
		ErrCode   string `json:"err-code"`
		ErrMsg    string `json:"err-msg"`
	}
	json.Unmarshal(respBody, &base)
	if base.Status == "error" {
		return nil, &Error{Venue: "htx", Code: base.ErrCode, Message: base.ErrMsg}
	}
	return respBody, nil
}

func (h *HTX) ConnectStream(ctx context.Context, symbols []string) error {
	if h.streamCancel != nil {
		h.streamCancel()
	}
	h.streamCtx, h.streamCancel = context.WithCancel(ctx)

	if h.wsManager == nil {
		cfg := DefaultWSReconnectConfig()
		h.wsManager = NewWSReconnectManager("htx-public", htxWSPublic, cfg)
		h.wsManager.SetOnMessage(h.handleMessage)
		if err := h.wsManager.Connect(); err != nil {
			return fmt.Errorf("htx: connect stream: %w", err)
		}
	}

	h.wsManager.ClearSubscriptions()
	for _, s := range symbols {
		sym := h.toHTXSymbol(s)
		sub := map[string]any{"sub": "market." + sym + ".bbo", "id": sym}
		h.wsManager.AddSubscription(sub)
		if err := h.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := h.wsManager.Send(sub); err != nil {
			h.logger.Warn("subscribe failed", utils.Err(err))
		}
	}
	return nil
}

func (h *HTX) DisconnectStream() error {
	if h.streamCancel != nil {
		h.streamCancel()
	}
	if h.wsManager != nil {
		return h.wsManager.Close()
	}
	return nil
}

func (h *HTX) Quotes() <-chan *models.Quote { return h.quoteCh }

func (h *HTX) handleMessage(message []byte) {
	raw := message
	if len(message) > 2 && message[0] == 0x1f && message[1] == 0x8b {
		r, err := gzip.NewReader(bytes.NewReader(message))
		if err != nil {
			return
		}
		defer r.Close()
		decompressed, err := io.ReadAll(r)
		if err != nil {
			return
		}
		raw = decompressed
	}

	var ping struct {
		Ping int64 `json:"ping"`
	}
	if json.Unmarshal(raw, &ping) == nil && ping.Ping != 0 {
		if h.wsManager != nil {
			h.wsManager.Send(map[string]any{"pong": ping.Ping})
		}
		return
	}

	var msg struct {
		Ch   string `json:"ch"`
		Tick struct {
			Symbol string  `json:"symbol"`
			Bid    float64 `json:"bid"`
			BidSz  float64 `json:"bidSize"`
			Ask    float64 `json:"ask"`
			AskSz   float64 `json:"askSize"`
		} `json:"tick"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || !strings.Contains(msg.Ch, ".bbo") {
		return
	}
	parts := strings.Split(msg.Ch, ".")
	if len(parts) < 2 {
		return
	}
	q := h.quoteFromTicker(parts[1], msg.Tick.Bid, msg.Tick.Ask, msg.Tick.BidSz, msg.Tick.AskSz, 0)
	if q != nil && h.streamCtx != nil {
		sendQuote(h.streamCtx, h.quoteCh, q)
	}
}

func (h *HTX) quoteFromTicker(symbol string, bid, ask, bidSz, askSz, last float64) *models.Quote {
	if symbol == "" {
		return nil
	}
	synthetic := false
	if bid <= 0 || ask <= 0 {
		if last <= 0 {
			return nil
		}
		bid, ask = synthesizeQuote(last)
		synthetic = true
	}
	norm := h.fromHTXSymbol(symbol)
	return &models.Quote{
		Venue:     h.Name(),
		Symbol:    models.SymbolID{Base: utils.ExtractBaseCurrency(norm), Quote: utils.ExtractQuoteCurrency(norm)},
		BidPrice:  bid, BidSize: bidSz, AskPrice: ask, AskSize: askSz,
		Timestamp: time.Now(), Synthetic: synthetic,
	}
}

func (h *HTX) FetchTicker(ctx context.Context, symbol string) (*models.Quote, error) {
	sym := h.toHTXSymbol(symbol)
	body, err := h.doRequest(ctx, http.MethodGet, "/market/detail/merged", url.Values{"symbol": {sym}}, nil, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Tick struct {
			Bid   []float64 `json:"bid"`
			Ask   []float64 `json:"ask"`
			Close float64   `json:"close"`
		} `json:"tick"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	var bid, bidSz, ask, askSz float64
	if len(resp.Tick.Bid) >= 2 {
		bid, bidSz = resp.Tick.Bid[0], resp.Tick.Bid[1]
	}
	if len(resp.Tick.Ask) >= 2 {
		ask, askSz = resp.Tick.Ask[0], resp.Tick.Ask[1]
	}
	q := h.quoteFromTicker(sym, bid, ask, bidSz, askSz, resp.Tick.Close)
	if q == nil {
		return nil, fmt.Errorf("htx: unparseable ticker for %s", symbol)
	}
	return q, nil
}

func (h *HTX) FetchOrderBook(ctx context.Context, symbol string, depth int) (*OrderBook, error) {
	sym := h.toHTXSymbol(symbol)
	body, err := h.doRequest(ctx, http.MethodGet, "/market/depth",
		url.Values{"symbol": {sym}, "depth": {"20"}, "type": {"step0"}}, nil, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Tick struct {
			Bids [][]float64 `json:"bids"`
			Asks [][]float64 `json:"asks"`
			Ts   int64       `json:"ts"`
		} `json:"tick"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	ob := &OrderBook{Symbol: symbol, Timestamp: time.UnixMilli(resp.Tick.Ts)}
	limit := depth
	if limit <= 0 || limit > len(resp.Tick.Bids) {
		limit = len(resp.Tick.Bids)
	}
	for _, lvl := range resp.Tick.Bids[:limit] {
		if len(lvl) >= 2 {
			ob.Bids = append(ob.Bids, PriceLevel{Price: lvl[0], Volume: lvl[1]})
		}
	}
	askLimit := depth
	if askLimit <= 0 || askLimit > len(resp.Tick.Asks) {
		askLimit = len(resp.Tick.Asks)
	}
	for _, lvl := range resp.Tick.Asks[:askLimit] {
		if len(lvl) >= 2 {
			ob.Asks = append(ob.Asks, PriceLevel{Price: lvl[0], Volume: lvl[1]})
		}
	}
	return ob, nil
}

func (h *HTX) getAccountID(ctx context.Context) (string, error) {
	h.acctMu.Lock()
	defer h.acctMu.Unlock()
	if h.accountID != "" {
		return h.accountID, nil
	}
	body, err := h.doRequest(ctx, http.MethodGet, "/v1/account/accounts", nil, nil, true)
	if err != nil {
		return "", err
	}
	var resp struct {
		Data []struct {
			ID    int64  `json:"id"`
			Type  string `json:"type"`
			State string `json:"state"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	for _, a := range resp.Data {
		if a.Type == "spot" && a.State == "working" {
			h.accountID = strconv.FormatInt(a.ID, 10)
			return h.accountID, nil
		}
	}
	return "", fmt.Errorf("htx: no working spot account found")
}

func (h *HTX) PlaceOrder(ctx context.Context, symbol, side string, qty float64) (*models.Order, error) {
	accountID, err := h.getAccountID(ctx)
	if err != nil {
		return nil, err
	}
	orderType := "buy-market"
	if side == models.SideSell {
		orderType = "sell-market"
	}
	body := map[string]any{
		"account-id": accountID,
		"symbol":     h.toHTXSymbol(symbol),
		"type":       orderType,
		"amount":     strconv.FormatFloat(qty, 'f', -1, 64),
		"source":     "spot-api",
	}
	respBody, err := h.doRequest(ctx, http.MethodPost, "/v1/order/orders/place", nil, body, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	if filled, err := h.QueryOrder(ctx, symbol, resp.Data); err == nil {
		return filled, nil
	}
	return &models.Order{
		Venue: h.Name(), Symbol: symbol, Side: side, Type: models.OrderTypeMarket,
		Quantity: qty, Status: models.OrderStatusNew, ExchangeID: resp.Data, CreatedAt: time.Now(),
	}, nil
}

func (h *HTX) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := h.doRequest(ctx, http.MethodPost, "/v1/order/orders/"+orderID+"/submitcancel", nil, map[string]any{}, true)
	return err
}

func (h *HTX) QueryOrder(ctx context.Context, symbol, orderID string) (*models.Order, error) {
	body, err := h.doRequest(ctx, http.MethodGet, "/v1/order/orders/"+orderID, nil, nil, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			Symbol          string `json:"symbol"`
			Type            string `json:"type"`
			State           string `json:"state"`
			FieldAmount     string `json:"field-amount"`
			FieldCashAmount string `json:"field-cash-amount"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	side := models.SideBuy
	if strings.HasPrefix(resp.Data.Type, "sell") {
		side = models.SideSell
	}
	filled, _ := strconv.ParseFloat(resp.Data.FieldAmount, 64)
	cash, _ := strconv.ParseFloat(resp.Data.FieldCashAmount, 64)
	var avg float64
	if filled > 0 {
		avg = cash / filled
	}
	order := &models.Order{
		Venue: h.Name(), Symbol: symbol, Side: side, Type: models.OrderTypeMarket,
		Quantity: filled, PriceAvg: avg, ExchangeID: orderID,
		Status: htxOrderStatus(resp.Data.State), CreatedAt: time.Now(),
	}
	if order.Status == models.OrderStatusFilled {
		now := time.Now()
		order.FilledAt = &now
	}
	return order, nil
}

func htxOrderStatus(s string) string {
	switch s {
	case "filled":
		return models.OrderStatusFilled
	case "partial-filled", "partial-canceled":
		return models.OrderStatusPartial
	case "canceled":
		return models.OrderStatusCancelled
	default:
		return models.OrderStatusNew
	}
}

func (h *HTX) FetchBalances(ctx context.Context) ([]models.Balance, error) {
	accountID, err := h.getAccountID(ctx)
	if err != nil {
		return nil, err
	}
	body, err := h.doRequest(ctx, http.MethodGet, "/v1/account/accounts/"+accountID+"/balance", nil, nil, true)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			List []struct {
				Currency string `json:"currency"`
				Type     string `json:"type"`
				Balance  string `json:"balance"`
			} `json:"list"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	byAsset := make(map[string]*models.Balance)
	now := time.Now()
	for _, b := range resp.Data.List {
		bal, ok := byAsset[b.Currency]
		if !ok {
			bal = &models.Balance{Venue: h.Name(), Asset: b.Currency, UpdatedAt: now}
			byAsset[b.Currency] = bal
		}
		amt, _ := strconv.ParseFloat(b.Balance, 64)
		if b.Type == "trade" {
			bal.Free += amt
		} else if b.Type == "frozen" {
			bal.Locked += amt
		}
	}
	out := make([]models.Balance, 0, len(byAsset))
	for _, b := range byAsset {
		out = append(out, *b)
	}
	return out, nil
}

func (h *HTX) FetchFees(ctx context.Context, symbol string) (models.FeeSchedule, error) {
	h.feeMu.Lock()
	defer h.feeMu.Unlock()
	if fs, ok := h.fees.get(symbol); ok {
		return fs, nil
	}
	sym := h.toHTXSymbol(symbol)
	body, err := h.doRequest(ctx, http.MethodGet, "/v2/reference/transact-fee-rate", url.Values{"symbols": {sym}}, nil, true)
	if err != nil {
		return models.FeeSchedule{Venue: h.Name(), Symbol: symbol, TakerFee: 0.002, MakerFee: 0.002}, nil
	}
	var resp struct {
		Data []struct {
			Symbol          string `json:"symbol"`
			ActualMakerRate string `json:"actualMakerRate"`
			ActualTakerRate string `json:"actualTakerRate"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Data) == 0 {
		return models.FeeSchedule{Venue: h.Name(), Symbol: symbol, TakerFee: 0.002, MakerFee: 0.002}, nil
	}
	taker, _ := strconv.ParseFloat(resp.Data[0].ActualTakerRate, 64)
	maker, _ := strconv.ParseFloat(resp.Data[0].ActualMakerRate, 64)
	fs := models.FeeSchedule{Venue: h.Name(), Symbol: symbol, TakerFee: taker, MakerFee: maker, UpdatedAt: time.Now()}
	h.fees.put(fs)
	return fs, nil
}

func (h *HTX) ListSymbols(ctx context.Context) ([]string, error) {
	body, err := h.doRequest(ctx, http.MethodGet, "/v1/common/symbols", nil, nil, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			Symbol string `json:"symbol"`
			State  string `json:"state"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.Data))
	for _, s := range resp.Data {
		if s.State == "online" {
			out = append(out, h.fromHTXSymbol(s.Symbol))
		}
	}
	return out, nil
}

func (h *HTX) List24hTickers(ctx context.Context) ([]*models.Quote, error) {
	body, err := h.doRequest(ctx, http.MethodGet, "/market/tickers", nil, nil, false)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data []struct {
			Symbol string  `json:"symbol"`
			Bid    float64 `json:"bid"`
			BidSz  float64 `json:"bidSize"`
			Ask    float64 `json:"ask"`
			AskSz  float64 `json:"askSize"`
			Close  float64 `json:"close"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	var out []*models.Quote
	for _, t := range resp.Data {
		if q := h.quoteFromTicker(t.Symbol, t.Bid, t.Ask, t.BidSz, t.AskSz, t.Close); q != nil {
			out = append(out, q)
		}
	}
	return out, nil
}

func (h *HTX) Close() error {
	return h.DisconnectStream()
}
