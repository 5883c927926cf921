// Package rates fetches the central bank policy rate that floors the
// platform's default lending rate. The upstream service speaks SOAP.
package rates

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const rateNamespace = "http://rates.mozlend.io/"

// Client queries the policy rate feed and applies the platform lending
// margin on top of the published rate.
type Client struct {
	url    string
	margin decimal.Decimal
	client *http.Client
	log    *logrus.Logger
}

func NewClient(url string, margin decimal.Decimal, log *logrus.Logger) *Client {
	return &Client{
		url:    url,
		margin: margin,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// ReferenceRate returns the newest published policy rate plus the
// lending margin, as an annual percentage.
func (c *Client) ReferenceRate(ctx context.Context) (decimal.Decimal, error) {
	body, err := c.post(ctx, c.envelope(time.Now()))
	if err != nil {
		return decimal.Zero, err
	}

	rate, observedOn, err := latestObservation(body)
	if err != nil {
		return decimal.Zero, err
	}

	withMargin := rate.Add(c.margin)
	c.log.WithFields(logrus.Fields{
		"policy_rate": rate,
		"observed_on": observedOn,
		"margin":      c.margin,
	}).Info("Fetched central bank policy rate")
	return withMargin, nil
}

// envelope wraps a PolicyRate query for the trailing month of
// observations ending at asOf.
func (c *Client) envelope(asOf time.Time) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
		<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
			<soap12:Body>
				<PolicyRate xmlns="%s">
					<fromDate>%s</fromDate>
					<toDate>%s</toDate>
				</PolicyRate>
			</soap12:Body>
		</soap12:Envelope>`, rateNamespace,
		asOf.AddDate(0, -1, 0).Format("2006-01-02"), asOf.Format("2006-01-02"))
}

func (c *Client) post(ctx context.Context, envelope string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBufferString(envelope))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/soap+xml; charset=utf-8")
	req.Header.Set("SOAPAction", rateNamespace+"PolicyRate")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("policy rate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("policy rate service returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// latestObservation picks the newest observation by its date
// attribute; the feed does not guarantee ordering.
func latestObservation(raw []byte) (decimal.Decimal, string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return decimal.Zero, "", fmt.Errorf("failed to parse XML: %w", err)
	}

	observations := doc.FindElements("//PolicyRateResult/Observation")
	if len(observations) == 0 {
		return decimal.Zero, "", fmt.Errorf("no rate observations in response")
	}

	var (
		best     decimal.Decimal
		bestDate string
	)
	for _, obs := range observations {
		date := obs.SelectAttrValue("date", "")
		rateEl := obs.FindElement("./Rate")
		if date == "" || rateEl == nil {
			continue
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(rateEl.Text()))
		if err != nil {
			return decimal.Zero, "", fmt.Errorf("failed to parse rate %q: %w", rateEl.Text(), err)
		}
		// ISO dates order lexicographically.
		if date > bestDate {
			best, bestDate = rate, date
		}
	}
	if bestDate == "" {
		return decimal.Zero, "", fmt.Errorf("no usable rate observation in response")
	}
	return best, bestDate, nil
}
