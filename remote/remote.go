// Package remote implements the HTTP client for the remote product
// directory.
//
// The client exposes two operations: a get-by-code lookup with conditional
// fetch support (If-None-Match/ETag) and a paginated text search. It
// returns the typed errors defined in the prodcache package and never
// retries or rate-limits by itself; that's the throttle package's job.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fishy/wrapreader"

	"github.com/foodscan/prodcache"
)

// Product is the minimal product DTO parsed from remote payloads.
type Product struct {
	Code      string
	Name      string
	Brand     string
	Nutrients prodcache.Nutrients
}

// FetchResult is the outcome of a GetByCode call.
type FetchResult struct {
	// Product is nil when NotModified is true, or when the upstream
	// answered 2xx without a product body.
	Product *Product

	// ETag is the validator to store for the next conditional fetch.
	// Empty if the upstream sent none.
	ETag string

	// NotModified is true when the upstream confirmed the record is
	// unchanged since the validator sent. It must not be treated as
	// "not found", only as "unchanged".
	NotModified bool
}

// Client talks to the remote product directory.
//
// A Client is safe for concurrent use.
type Client struct {
	opts Options
}

// Open creates a Client with the given options.
func Open(opts Options) (*Client, error) {
	base := strings.TrimSpace(opts.GetBaseURL())
	if base == "" {
		return nil, errors.New("remote: base URL is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("remote: invalid base URL: %w", err)
	}
	if strings.TrimSpace(opts.GetUserAgent()) == "" {
		return nil, errors.New("remote: user agent is required by the upstream's usage policy")
	}
	return &Client{opts: opts}, nil
}

// GetByCode fetches a single product by barcode.
//
// If etag is non-empty it's sent as an If-None-Match precondition; a 304
// answer yields a FetchResult with NotModified set and no product. A 429
// or 503 answer fails with prodcache.RateLimitedError carrying the
// advertised retry delay if present. Any other non-2xx answer fails with
// prodcache.HTTPError.
func (c *Client) GetByCode(
	ctx context.Context,
	code string,
	etag string,
) (*FetchResult, error) {
	select {
	default:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	u := strings.TrimRight(c.opts.GetBaseURL(), "/") + "/product/" + url.PathEscape(code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	body, header, err := c.do(req)
	if err != nil {
		var httpErr *prodcache.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotModified {
			return &FetchResult{ETag: etag, NotModified: true}, nil
		}
		return nil, err
	}

	product, err := parseProductPayload(body)
	if err != nil {
		return nil, err
	}
	if product != nil && product.Code == "" {
		product.Code = code
	}
	return &FetchResult{
		Product: product,
		ETag:    header.Get("Etag"),
	}, nil
}

// Search runs a text search against the remote directory and returns the
// parsed product DTOs.
//
// Search results carry no validators; caching them means upserting the
// individual products, which is the hybrid package's job. The error
// taxonomy is the same as GetByCode's.
func (c *Client) Search(
	ctx context.Context,
	query string,
	pageSize int,
	page int,
) ([]Product, error) {
	select {
	default:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	u, err := url.Parse(strings.TrimRight(c.opts.GetBaseURL(), "/") + "/search")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("query", strings.TrimSpace(query))
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	body, _, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return parseSearchPayload(body)
}

// do sends the request and reads the capped response body.
//
// Non-2xx statuses are mapped to the typed errors; 304 surfaces as an
// HTTPError with StatusNotModified for GetByCode to translate.
func (c *Client) do(req *http.Request) ([]byte, http.Header, error) {
	req.Header.Set("User-Agent", c.opts.GetUserAgent())

	started := time.Now()
	resp, err := c.opts.GetHTTPClient().Do(req)
	if err != nil {
		return nil, nil, err
	}
	// The cap guards against oversized or runaway payloads; closing the
	// wrapped reader closes the underlying body too.
	body := wrapreader.Wrap(
		io.LimitReader(resp.Body, c.opts.GetMaxBodySize()),
		resp.Body,
	)
	defer body.Close()

	if logger := c.opts.GetLogger(); logger != nil {
		defer logger.Printf(
			"%s %s: %d, took %v",
			req.Method,
			req.URL.Path,
			resp.StatusCode,
			time.Now().Sub(started),
		)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusServiceUnavailable:
		return nil, nil, &prodcache.RateLimitedError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, nil, &prodcache.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       readBodyPrefix(body),
		}
	}

	buf, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, err
	}
	return buf, resp.Header, nil
}

// parseRetryAfter parses the seconds form of a Retry-After header.
func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

const bodyPrefixLimit = 512

func readBodyPrefix(body io.Reader) string {
	buf, err := io.ReadAll(io.LimitReader(body, bodyPrefixLimit))
	if err != nil {
		return ""
	}
	return string(buf)
}

// productPayload mirrors the wire format of a single product.
type productPayload struct {
	Code       json.RawMessage            `json:"code"`
	Name       string                     `json:"product_name"`
	Brands     string                     `json:"brands"`
	Nutriments map[string]json.RawMessage `json:"nutriments"`
}

// parseProductPayload accepts both an object-wrapped payload
// ({"product": {...}}) and a bare product object.
//
// A payload without a product (e.g. {"status": 0}) parses to nil.
func parseProductPayload(body []byte) (*Product, error) {
	var wrapped struct {
		Product *productPayload `json:"product"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Product != nil {
		return productFromPayload(wrapped.Product), nil
	}
	var bare productPayload
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, fmt.Errorf("remote: product payload parse: %w", err)
	}
	if len(bare.Code) == 0 && bare.Name == "" && len(bare.Nutriments) == 0 {
		return nil, nil
	}
	return productFromPayload(&bare), nil
}

// parseSearchPayload accepts both an object-wrapped payload
// ({"products": [...]}) and a bare array.
func parseSearchPayload(body []byte) ([]Product, error) {
	var wrapped struct {
		Products []*productPayload `json:"products"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && wrapped.Products != nil {
		return productsFromPayloads(wrapped.Products), nil
	}
	var bare []*productPayload
	if err := json.Unmarshal(body, &bare); err != nil {
		return nil, fmt.Errorf("remote: search payload parse: %w", err)
	}
	return productsFromPayloads(bare), nil
}

func productsFromPayloads(payloads []*productPayload) []Product {
	products := make([]Product, 0, len(payloads))
	for _, payload := range payloads {
		if payload == nil {
			continue
		}
		products = append(products, *productFromPayload(payload))
	}
	return products
}

func productFromPayload(payload *productPayload) *Product {
	product := &Product{
		Code:  stringValue(payload.Code),
		Name:  strings.TrimSpace(payload.Name),
		Brand: strings.TrimSpace(payload.Brands),
	}
	n := payload.Nutriments
	product.Nutrients = prodcache.Nutrients{
		// The energy field appears under two keys in the wild; the
		// canonical kcal key wins over the alias.
		EnergyKcal:    intValue(pickNumber(n, "energy-kcal_100g", "energy_100g")),
		ProteinG:      pickNumber(n, "proteins_100g"),
		CarbG:         pickNumber(n, "carbohydrates_100g"),
		FatG:          pickNumber(n, "fat_100g"),
		SaturatedFatG: pickNumber(n, "saturated-fat_100g"),
		SugarsG:       pickNumber(n, "sugars_100g"),
		FiberG:        pickNumber(n, "fiber_100g"),
		SaltG:         pickNumber(n, "salt_100g"),
		SodiumG:       pickNumber(n, "sodium_100g"),
	}
	return product
}

// pickNumber returns the first key present in nutriments that parses as a
// number. Values may arrive as integer, float or numeric string; anything
// unparseable or absent is nil, never zero: zero is a valid nutrient value
// and must not be confused with "unknown".
func pickNumber(nutriments map[string]json.RawMessage, keys ...string) *float64 {
	for _, key := range keys {
		raw, ok := nutriments[key]
		if !ok {
			continue
		}
		if value := parseNumber(raw); value != nil {
			return value
		}
	}
	return nil
}

func parseNumber(raw json.RawMessage) *float64 {
	var value float64
	if err := json.Unmarshal(raw, &value); err == nil {
		return &value
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return nil
	}
	return &value
}

func intValue(value *float64) *int {
	if value == nil {
		return nil
	}
	n := int(*value + 0.5)
	return &n
}

// stringValue normalizes a code field that may arrive as string or number.
func stringValue(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return number.String()
	}
	return ""
}
