package kis

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"KHunter/internal/domain/models"
	drepo "KHunter/internal/domain/repository"
	"KHunter/internal/service/ratelimit"
	httpclient "KHunter/pkg/http"
	"KHunter/pkg/logger"
)

const (
	trPrice     = "FHKST01010100"
	trBalance   = "TTTC8434R"
	trBuyCash   = "TTTC0802U"
	trSellCash  = "TTTC0801U"
	trCancel    = "TTTC0803U"
	limiterKey  = "kis"
	ordDvsnMkt  = "01"
	ordDvsnLmt  = "00"
)

// Client implements Broker against the KIS domestic-stock REST API. The
// rate limiter is applied inside the client so every provider call,
// orders and balance polls alike, shares the same budget.
type Client struct {
	baseURL       string
	appKey        string
	appSecret     string
	accountNumber string
	productCode   string
	retryAttempts int

	http    *httpclient.Client
	limiter *ratelimit.Limiter
	metrics drepo.Metrics
	log     *logger.Logger

	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time
}

type Config struct {
	BaseURL       string
	AppKey        string
	AppSecret     string
	AccountNumber string
	ProductCode   string
	Timeout       time.Duration
	RetryAttempts int
}

func New(cfg Config, limiter *ratelimit.Limiter, metrics drepo.Metrics, log *logger.Logger) drepo.Broker {
	return &Client{
		baseURL:       cfg.BaseURL,
		appKey:        cfg.AppKey,
		appSecret:     cfg.AppSecret,
		accountNumber: cfg.AccountNumber,
		productCode:   cfg.ProductCode,
		retryAttempts: cfg.RetryAttempts,
		http:          httpclient.NewClient(httpclient.WithTimeout(cfg.Timeout)),
		limiter:       limiter,
		metrics:       metrics,
		log:           log,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Authenticate issues a fresh access token. KIS tokens live ~24h; callers
// refresh within a safety margin.
func (c *Client) Authenticate(ctx context.Context) (time.Time, error) {
	var resp tokenResponse
	err := c.send(ctx, &httpclient.RequestOptions{
		Method: httpclient.MethodPost,
		URL:    c.baseURL + "/oauth2/tokenP",
		Body: map[string]string{
			"grant_type": "client_credentials",
			"appkey":     c.appKey,
			"appsecret":  c.appSecret,
		},
	}, &resp)
	if err != nil {
		return time.Time{}, fmt.Errorf("kis token: %w", err)
	}

	expiry := time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	c.mu.Lock()
	c.token = resp.AccessToken
	c.tokenExpiry = expiry
	c.mu.Unlock()
	c.log.Info("kis token issued", logger.Any("expires_at", expiry))
	return expiry, nil
}

// TokenExpiry returns the expiry of the held token, zero if none.
func (c *Client) TokenExpiry() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokenExpiry
}

type priceResponse struct {
	Output struct {
		Price string `json:"stck_prpr"`
	} `json:"output"`
}

// GetPrice quotes the current price in won.
func (c *Client) GetPrice(ctx context.Context, stockCode string) (int64, error) {
	var resp priceResponse
	err := c.send(ctx, &httpclient.RequestOptions{
		Method:  httpclient.MethodGet,
		URL:     c.baseURL + "/uapi/domestic-stock/v1/quotations/inquire-price",
		Headers: c.headers(trPrice),
		QueryParams: map[string][]string{
			"fid_cond_mrkt_div_code": {"J"},
			"fid_input_iscd":         {stockCode},
		},
	}, &resp)
	if err != nil {
		return 0, fmt.Errorf("kis price %s: %w", stockCode, err)
	}
	price, err := strconv.ParseInt(resp.Output.Price, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("kis price %s: parse %q: %w", stockCode, resp.Output.Price, err)
	}
	return price, nil
}

type balanceResponse struct {
	Output1 []struct {
		StockCode    string `json:"pdno"`
		StockName    string `json:"prdt_name"`
		Quantity     string `json:"hldg_qty"`
		AveragePrice string `json:"pchs_avg_pric"`
		CurrentPrice string `json:"prpr"`
	} `json:"output1"`
	Output2 []struct {
		TotalValue    string `json:"tot_evlu_amt"`
		AvailableCash string `json:"prvs_rcdl_excc_amt"`
	} `json:"output2"`
}

// GetBalance fetches the account snapshot with all positions.
func (c *Client) GetBalance(ctx context.Context) (*models.Balance, error) {
	var resp balanceResponse
	err := c.send(ctx, &httpclient.RequestOptions{
		Method:  httpclient.MethodGet,
		URL:     c.baseURL + "/uapi/domestic-stock/v1/trading/inquire-balance",
		Headers: c.headers(trBalance),
		QueryParams: map[string][]string{
			"CANO":             {c.accountNumber},
			"ACNT_PRDT_CD":     {c.productCode},
			"AFHR_FLPR_YN":     {"N"},
			"INQR_DVSN":        {"02"},
			"UNPR_DVSN":        {"01"},
			"FUND_STTL_ICLD_YN": {"N"},
			"OFL_YN":           {""},
			"PRCS_DVSN":        {"00"},
			"CTX_AREA_FK100":   {""},
			"CTX_AREA_NK100":   {""},
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("kis balance: %w", err)
	}

	bal := &models.Balance{}
	if len(resp.Output2) > 0 {
		bal.TotalValue = parseWon(resp.Output2[0].TotalValue)
		bal.AvailableCash = parseWon(resp.Output2[0].AvailableCash)
	}
	for _, p := range resp.Output1 {
		qty := parseWon(p.Quantity)
		if qty <= 0 {
			continue
		}
		bal.Positions = append(bal.Positions, models.BalancePosition{
			StockCode:    p.StockCode,
			StockName:    p.StockName,
			Quantity:     qty,
			AveragePrice: parseWon(p.AveragePrice),
			CurrentPrice: parseWon(p.CurrentPrice),
		})
	}
	return bal, nil
}

type orderResponse struct {
	ReturnCode string `json:"rt_cd"`
	Message    string `json:"msg1"`
	Output     struct {
		OrderID string `json:"ODNO"`
	} `json:"output"`
}

// SubmitOrder places a cash order and returns the provider order ID.
func (c *Client) SubmitOrder(ctx context.Context, side models.OrderSide, stockCode string, quantity, price int64, orderType models.OrderType) (string, error) {
	trID := trBuyCash
	if side == models.SideSell {
		trID = trSellCash
	}
	ordDvsn, unitPrice := ordDvsnLmt, price
	if orderType == models.OrderMarket {
		ordDvsn, unitPrice = ordDvsnMkt, 0
	}

	var resp orderResponse
	err := c.send(ctx, &httpclient.RequestOptions{
		Method:  httpclient.MethodPost,
		URL:     c.baseURL + "/uapi/domestic-stock/v1/trading/order-cash",
		Headers: c.headers(trID),
		Body: map[string]string{
			"CANO":         c.accountNumber,
			"ACNT_PRDT_CD": c.productCode,
			"PDNO":         stockCode,
			"ORD_DVSN":     ordDvsn,
			"ORD_QTY":      strconv.FormatInt(quantity, 10),
			"ORD_UNPR":     strconv.FormatInt(unitPrice, 10),
		},
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("kis order %s %s: %w", side, stockCode, err)
	}
	if resp.ReturnCode != "0" {
		return "", fmt.Errorf("kis order %s %s rejected: %s", side, stockCode, resp.Message)
	}
	return resp.Output.OrderID, nil
}

// CancelOrder cancels the full remaining quantity of an order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	var resp orderResponse
	err := c.send(ctx, &httpclient.RequestOptions{
		Method:  httpclient.MethodPost,
		URL:     c.baseURL + "/uapi/domestic-stock/v1/trading/order-rvsecncl",
		Headers: c.headers(trCancel),
		Body: map[string]string{
			"CANO":          c.accountNumber,
			"ACNT_PRDT_CD":  c.productCode,
			"ORGN_ODNO":     orderID,
			"ORD_DVSN":      ordDvsnMkt,
			"RVSE_CNCL_DVSN_CD": "02",
			"ORD_QTY":       "0",
			"ORD_UNPR":      "0",
			"QTY_ALL_ORD_YN": "Y",
		},
	}, &resp)
	if err != nil {
		return fmt.Errorf("kis cancel %s: %w", orderID, err)
	}
	if resp.ReturnCode != "0" {
		return fmt.Errorf("kis cancel %s rejected: %s", orderID, resp.Message)
	}
	return nil
}

// send applies the shared rate limit, then performs the request with
// bounded retries.
func (c *Client) send(ctx context.Context, opts *httpclient.RequestOptions, dest interface{}) error {
	start := time.Now()
	if err := c.limiter.Wait(ctx, limiterKey); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); c.metrics != nil {
		c.metrics.RecordRateLimitWait(limiterKey, waited.Seconds())
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		if lastErr = c.http.SendAndParse(ctx, opts, dest); lastErr == nil {
			return nil
		}
		c.log.Warn("kis request failed",
			logger.String("url", opts.URL),
			logger.Int("attempt", attempt+1),
			logger.Error(lastErr),
		)
	}
	return lastErr
}

func (c *Client) headers(trID string) map[string]string {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	return map[string]string{
		"content-type":  "application/json; charset=utf-8",
		"authorization": "Bearer " + token,
		"appkey":        c.appKey,
		"appsecret":     c.appSecret,
		"tr_id":         trID,
	}
}

func parseWon(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
