package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/itembills_sync/config"
	"github.com/mmdatafocus/itembills_sync/models"
	"github.com/mmdatafocus/itembills_sync/reconcile"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	sessionHeader = "X-Session-Id"
	billsPageSize = 200
	wireDate      = "2006-01-02"
)

// HTTPSettings configures the JSON API of the accounting system.
type HTTPSettings struct {
	BaseURL         string        `validate:"required,url"`
	APIKey          string        `validate:"required"`
	APIKeyHeader    string        `validate:"required"`
	RateLimitPerMin int           `validate:"gte=1"`
	Timeout         time.Duration `validate:"gt=0"`
}

func HTTPSettingsFromEnv() HTTPSettings {
	return HTTPSettings{
		BaseURL:         strings.TrimRight(config.EnvString("ACCOUNTING_API_BASE_URL", ""), "/"),
		APIKey:          config.EnvString("ACCOUNTING_API_KEY", ""),
		APIKeyHeader:    config.EnvString("ACCOUNTING_API_KEY_HEADER", "X-API-Key"),
		RateLimitPerMin: config.IntFromEnv("ACCOUNTING_RATE_LIMIT_PER_MIN", 60),
		Timeout:         config.SecondsFromEnv("ACCOUNTING_HTTP_TIMEOUT_SECONDS", 30*time.Second),
	}
}

// HTTPConnector opens sessions against the accounting system's JSON API. All
// sessions of one connector share its rate limiter.
type HTTPConnector struct {
	settings HTTPSettings
	http     *http.Client
	limiter  *rate.Limiter
	logger   *logrus.Logger
}

func NewHTTPConnector(settings HTTPSettings, httpClient *http.Client) (*HTTPConnector, error) {
	settings.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	if err := validator.New().Struct(settings); err != nil {
		return nil, fmt.Errorf("invalid accounting api settings: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: settings.Timeout}
	}
	interval := time.Minute / time.Duration(settings.RateLimitPerMin)
	return &HTTPConnector{
		settings: settings,
		http:     httpClient,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		logger:   config.GetLogger(),
	}, nil
}

type openSessionRequest struct {
	AppName string `json:"app_name"`
}

type openSessionResponse struct {
	SessionId string `json:"session_id"`
}

func (c *HTTPConnector) Open(ctx context.Context, appName string) (reconcile.Session, error) {
	var resp openSessionResponse
	if err := c.do(ctx, "", http.MethodPost, "/v1/sessions", nil, openSessionRequest{AppName: appName}, &resp); err != nil {
		return nil, err
	}
	if resp.SessionId == "" {
		return nil, errors.New("accounting api returned an empty session id")
	}
	return &httpSession{conn: c, id: resp.SessionId}, nil
}

// apiError is a non-2xx answer from the accounting API.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("accounting api error %d: %s", e.Status, e.Body)
}

func (c *HTTPConnector) do(ctx context.Context, sessionId, method, path string, params url.Values, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.settings.BaseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set(c.settings.APIKeyHeader, c.settings.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionId != "" {
		req.Header.Set(sessionHeader, sessionId)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

type httpSession struct {
	conn   *HTTPConnector
	id     string
	closed bool
}

type billLineDTO struct {
	ItemName string          `json:"item_name"`
	Quantity int             `json:"quantity"`
	Cost     decimal.Decimal `json:"cost"`
}

type billDTO struct {
	TxnId      string        `json:"txn_id,omitempty"`
	VendorName string        `json:"vendor_name"`
	TxnDate    string        `json:"txn_date"`
	RefNumber  string        `json:"ref_number"`
	Memo       string        `json:"memo"`
	Lines      []billLineDTO `json:"lines"`
}

type billsPage struct {
	Data       []billDTO `json:"data"`
	NextCursor string    `json:"next_cursor"`
	HasMore    *bool     `json:"has_more"`
}

type outcomesResponse struct {
	Results []models.AddOutcome `json:"results"`
}

func toBillDTO(b *models.ItemBill) billDTO {
	dto := billDTO{
		VendorName: b.VendorName,
		RefNumber:  b.InvoiceNum,
		Memo:       b.Memo,
		Lines:      make([]billLineDTO, 0, len(b.Lines)),
	}
	if !b.BillDate.IsZero() {
		dto.TxnDate = b.BillDate.Format(wireDate)
	}
	for _, l := range b.Lines {
		dto.Lines = append(dto.Lines, billLineDTO{ItemName: l.PartName, Quantity: l.Quantity, Cost: l.UnitPrice})
	}
	return dto
}

func (d billDTO) toItemBill() *models.ItemBill {
	var billDate time.Time
	if d.TxnDate != "" {
		if t, err := time.Parse(wireDate, d.TxnDate); err == nil {
			billDate = t
		} else if t, err := time.Parse(time.RFC3339, d.TxnDate); err == nil {
			billDate = t
		}
	}
	lines := make([]models.ItemBillLine, 0, len(d.Lines))
	for _, l := range d.Lines {
		lines = append(lines, models.ItemBillLine{PartName: l.ItemName, Quantity: l.Quantity, UnitPrice: l.Cost})
	}
	bill := models.NewItemBill(d.VendorName, d.RefNumber, billDate, d.Memo, lines...)
	bill.TxnId = d.TxnId
	return bill
}

func (s *httpSession) QueryAllBills(ctx context.Context) ([]*models.ItemBill, error) {
	if s.closed {
		return nil, reconcile.ErrSessionClosed
	}
	bills := make([]*models.ItemBill, 0)
	cursor := ""
	for {
		params := url.Values{}
		params.Set("limit", fmt.Sprint(billsPageSize))
		params.Set("include", "lines")
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var page billsPage
		if err := s.conn.do(ctx, s.id, http.MethodGet, "/v1/bills", params, nil, &page); err != nil {
			return nil, err
		}
		for _, dto := range page.Data {
			if strings.TrimSpace(dto.TxnId) == "" {
				return nil, fmt.Errorf("accounting api returned bill %q without txn_id", dto.RefNumber)
			}
			bills = append(bills, dto.toItemBill())
		}
		more := page.NextCursor != ""
		if page.HasMore != nil {
			more = *page.HasMore && page.NextCursor != ""
		}
		if !more {
			return bills, nil
		}
		cursor = page.NextCursor
	}
}

func (s *httpSession) AddBills(ctx context.Context, bills []*models.ItemBill) ([]models.AddOutcome, error) {
	if s.closed {
		return nil, reconcile.ErrSessionClosed
	}
	payload := struct {
		Bills []billDTO `json:"bills"`
	}{Bills: make([]billDTO, 0, len(bills))}
	for _, b := range bills {
		payload.Bills = append(payload.Bills, toBillDTO(b))
	}

	var resp outcomesResponse
	if err := s.conn.do(ctx, s.id, http.MethodPost, "/v1/bills/batch", nil, payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(bills) {
		s.conn.logger.WithFields(logrus.Fields{
			"module":    "remote",
			"submitted": len(bills),
			"answered":  len(resp.Results),
		}).Warn("accounting api answered a bill batch with a different number of results")
	}
	return resp.Results, nil
}

func (s *httpSession) DeleteBill(ctx context.Context, txnId string) (models.AddOutcome, error) {
	if s.closed {
		return models.AddOutcome{}, reconcile.ErrSessionClosed
	}
	var resp models.AddOutcome
	err := s.conn.do(ctx, s.id, http.MethodDelete, "/v1/bills/"+url.PathEscape(txnId), nil, nil, &resp)
	var ae *apiError
	if errors.As(err, &ae) && ae.Status == http.StatusNotFound {
		return models.FailedOutcome(models.OutcomeCodeInvalidReference, ae.Body), nil
	}
	if err != nil {
		return models.AddOutcome{}, err
	}
	if resp.TxnId == "" && resp.StatusCode == models.OutcomeCodeOK {
		resp.TxnId = txnId
	}
	return resp, nil
}

func (s *httpSession) AddVendors(ctx context.Context, names []string) ([]models.AddOutcome, error) {
	if s.closed {
		return nil, reconcile.ErrSessionClosed
	}
	type vendorDTO struct {
		Name string `json:"name"`
	}
	payload := struct {
		Vendors []vendorDTO `json:"vendors"`
	}{Vendors: make([]vendorDTO, 0, len(names))}
	for _, n := range names {
		payload.Vendors = append(payload.Vendors, vendorDTO{Name: n})
	}

	var resp outcomesResponse
	if err := s.conn.do(ctx, s.id, http.MethodPost, "/v1/vendors/batch", nil, payload, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (s *httpSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	ctx, cancel := context.WithTimeout(context.Background(), s.conn.settings.Timeout)
	defer cancel()
	return s.conn.do(ctx, s.id, http.MethodDelete, "/v1/sessions/"+url.PathEscape(s.id), nil, nil, nil)
}
