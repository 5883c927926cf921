package rates

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const observationsXML = `<?xml version="1.0" encoding="utf-8"?>
<soap12:Envelope xmlns:soap12="http://www.w3.org/2003/05/soap-envelope">
	<soap12:Body>
		<PolicyRateResponse>
			<PolicyRateResult>
				<Observation date="2025-02-10"><Rate>13.50</Rate></Observation>
				<Observation date="2025-03-05"><Rate>12.75</Rate></Observation>
				<Observation date="2025-02-24"><Rate>13.25</Rate></Observation>
			</PolicyRateResult>
		</PolicyRateResponse>
	</soap12:Body>
</soap12:Envelope>`

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestReferenceRateAddsMarginToLatestObservation(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(observationsXML))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, decimal.NewFromInt(5), testLogger())
	rate, err := client.ReferenceRate(context.Background())
	if err != nil {
		t.Fatalf("ReferenceRate: %v", err)
	}

	// Newest observation is 12.75 regardless of feed ordering.
	if want := decimal.RequireFromString("17.75"); !rate.Equal(want) {
		t.Errorf("rate = %s, want %s", rate, want)
	}
	if !strings.Contains(gotBody, "<PolicyRate xmlns=\"http://rates.mozlend.io/\">") {
		t.Errorf("request body missing PolicyRate query: %s", gotBody)
	}
}

func TestReferenceRateEmptyFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0"?><Envelope><Body><PolicyRateResponse><PolicyRateResult/></PolicyRateResponse></Body></Envelope>`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, decimal.NewFromInt(5), testLogger())
	if _, err := client.ReferenceRate(context.Background()); err == nil {
		t.Error("ReferenceRate on empty feed = nil, want error")
	}
}

func TestReferenceRateUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, decimal.NewFromInt(5), testLogger())
	if _, err := client.ReferenceRate(context.Background()); err == nil {
		t.Error("ReferenceRate on 503 = nil, want error")
	}
}
