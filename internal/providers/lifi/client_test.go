package lifi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/httpx"
	"github.com/ggonzalez94/crossroute/internal/id"
	"github.com/ggonzalez94/crossroute/internal/model"
	"github.com/ggonzalez94/crossroute/internal/providers"
)

const (
	testSender    = "0x00000000000000000000000000000000000000AA"
	testRecipient = "0x00000000000000000000000000000000000000BB"
)

func TestGetQuote(t *testing.T) {
	srv := newLiFiQuoteServer(t, "0x0000000000000000000000000000000000000ABC")
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0)).WithBaseURL(srv.URL)
	c.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	quote, err := c.GetQuote(context.Background(), bridgeRequest(t))
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if quote.Provider != "lifi" {
		t.Fatalf("unexpected provider: %s", quote.Provider)
	}
	if quote.ToAmount != "950000" || quote.ToAmountMin != "940000" {
		t.Fatalf("unexpected amounts: %+v", quote)
	}
	if quote.EstimatedFeeUSD < 0.99 || quote.EstimatedFeeUSD > 1.01 {
		t.Fatalf("expected fee estimate of 1 usd, got %f", quote.EstimatedFeeUSD)
	}
	if quote.ApprovalSpender != "0x0000000000000000000000000000000000000ABC" {
		t.Fatalf("unexpected approval spender: %s", quote.ApprovalSpender)
	}
	if quote.Data["tool"] != "across" {
		t.Fatalf("expected tool in quote data, got %+v", quote.Data)
	}
	if quote.ExpiresAt != "2026-01-01T00:05:00Z" {
		t.Fatalf("unexpected expiry: %s", quote.ExpiresAt)
	}
}

func TestGetQuoteSkipsApprovalForNativeInput(t *testing.T) {
	srv := newLiFiQuoteServer(t, "0x0000000000000000000000000000000000000ABC")
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0)).WithBaseURL(srv.URL)
	req := bridgeRequest(t)
	eth, _ := id.ParseAsset("ETH", req.FromChain)
	req.FromAsset = eth

	quote, err := c.GetQuote(context.Background(), req)
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if quote.ApprovalSpender != "" {
		t.Fatalf("did not expect approval for native input, got %s", quote.ApprovalSpender)
	}
}

func TestGetQuoteRejectsNonEVM(t *testing.T) {
	c := New(httpx.New(2*time.Second, 0))
	req := bridgeRequest(t)
	req.ToChain, _ = id.ParseChain("solana")
	_, err := c.GetQuote(context.Background(), req)
	if !clierr.IsCode(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestBuildTransaction(t *testing.T) {
	var gotFrom, gotTo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFrom = r.URL.Query().Get("fromAddress")
		gotTo = r.URL.Query().Get("toAddress")
		writeQuote(w, "")
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0)).WithBaseURL(srv.URL)
	tx, err := c.BuildTransaction(context.Background(), providers.BuildRequest{QuoteRequest: bridgeRequest(t)})
	if err != nil {
		t.Fatalf("BuildTransaction failed: %v", err)
	}
	if gotFrom != testSender || gotTo != testRecipient {
		t.Fatalf("expected real sender and recipient on requote, got from=%s to=%s", gotFrom, gotTo)
	}
	if tx.Format != model.TxFormatEVMCall || tx.ChainID != "eip155:1" {
		t.Fatalf("unexpected tx envelope: %+v", tx)
	}
	if tx.To != "0x0000000000000000000000000000000000000DDD" || tx.Data != "0x1234" {
		t.Fatalf("unexpected tx target: %+v", tx)
	}
	if tx.Value != "16" {
		t.Fatalf("expected hex value converted to decimal, got %s", tx.Value)
	}
}

func TestBuildTransactionRequiresSender(t *testing.T) {
	c := New(httpx.New(2*time.Second, 0))
	req := bridgeRequest(t)
	req.Sender = ""
	_, err := c.BuildTransaction(context.Background(), providers.BuildRequest{QuoteRequest: req})
	if !clierr.IsCode(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestGetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("bridge") != "across" {
			t.Fatalf("expected bridge query from quote data, got %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"status":"DONE","substatus":"COMPLETED","receiving":{"txHash":"0xdest"}}`))
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 0)).WithBaseURL(srv.URL)
	req := bridgeRequest(t)
	status, err := c.GetStatus(context.Background(), providers.StatusRequest{
		FromChain: req.FromChain,
		ToChain:   req.ToChain,
		TxHash:    "0xabc",
		Quote:     model.StepQuote{Data: map[string]string{"tool": "across"}},
	})
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.Status != "DONE" || status.Substatus != "COMPLETED" || status.DestinationTxHash != "0xdest" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestGetStatusUnknownHashIsInFlight(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"not found"}`))
	}))
	defer srv.Close()

	c := New(httpx.New(2*time.Second, 3)).WithBaseURL(srv.URL)
	status, err := c.GetStatus(context.Background(), providers.StatusRequest{TxHash: "0xabc"})
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.Status != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %+v", status)
	}
	if calls != 1 {
		t.Fatalf("expected single status attempt, got %d", calls)
	}
}

func bridgeRequest(t *testing.T) providers.QuoteRequest {
	t.Helper()
	fromChain, _ := id.ParseChain("ethereum")
	toChain, _ := id.ParseChain("base")
	fromAsset, _ := id.ParseAsset("USDC", fromChain)
	toAsset, _ := id.ParseAsset("USDC", toChain)
	return providers.QuoteRequest{
		Kind:            model.StepKindBridge,
		FromChain:       fromChain,
		ToChain:         toChain,
		FromAsset:       fromAsset,
		ToAsset:         toAsset,
		AmountBaseUnits: "1000000",
		Sender:          testSender,
		Recipient:       testRecipient,
	}
}

func newLiFiQuoteServer(t *testing.T, approvalAddress string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeQuote(w, approvalAddress)
	}))
}

func writeQuote(w http.ResponseWriter, approvalAddress string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{
		"id": "quote-1",
		"estimate": {
			"toAmount": "950000",
			"toAmountMin": "940000",
			"approvalAddress": %q,
			"feeCosts": [{"amountUSD":"0.40"}],
			"gasCosts": [{"amountUSD":"0.60"}],
			"executionDuration": 120
		},
		"toolDetails": {"key":"across","name":"Across"},
		"tool": "across",
		"transactionRequest": {
			"to": "0x0000000000000000000000000000000000000DDD",
			"from": "0x00000000000000000000000000000000000000AA",
			"data": "0x1234",
			"value": "0x10",
			"chainId": 1
		}
	}`, approvalAddress)
}
