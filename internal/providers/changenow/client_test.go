package changenow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/crossroute/internal/errors"
	"github.com/ggonzalez94/crossroute/internal/httpx"
	"github.com/ggonzalez94/crossroute/internal/id"
	"github.com/ggonzalez94/crossroute/internal/model"
	"github.com/ggonzalez94/crossroute/internal/providers"
)

const (
	evmWallet  = "0x00000000000000000000000000000000000000AA"
	tonWallet  = "UQBvW8Z5huBkMJYdnfAEM5JqTNkuWX3diqYENkWsIL0XggGG"
	tronWallet = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
)

func TestListed(t *testing.T) {
	if !Listed("ton:mainnet", "usdt") {
		t.Fatal("expected TON USDT to be listed")
	}
	if Listed("ton:mainnet", "USDC") {
		t.Fatal("did not expect TON USDC to be listed")
	}
	if Listed("eip155:999", "USDT") {
		t.Fatal("did not expect unknown chain to be listed")
	}
}

func TestGetQuoteRequiresAPIKey(t *testing.T) {
	c := New(httpx.New(time.Second, 0), "")
	_, err := c.GetQuote(context.Background(), quoteRequest(t, "arbitrum", "USDT", "ton", "USDT", "5000000"))
	if !clierr.IsCode(err, clierr.CodeAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestGetQuote(t *testing.T) {
	srv := newChangeNowServer(t)
	defer srv.Close()

	c := New(httpx.New(time.Second, 0), "test-key").WithBaseURL(srv.URL)
	c.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	got, err := c.GetQuote(context.Background(), quoteRequest(t, "arbitrum", "USDT", "ton", "USDT", "50000000"))
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if got.ToAmount != "49123456" {
		t.Fatalf("expected truncated base units, got %s", got.ToAmount)
	}
	if got.EstimatedTimeS != 3600 {
		t.Fatalf("expected forecast upper bound in seconds, got %d", got.EstimatedTimeS)
	}
	if got.ExpiresAt != "2026-01-01T00:05:00Z" {
		t.Fatalf("expected provider validity to cap expiry, got %s", got.ExpiresAt)
	}
	if got.Data["fromNetwork"] != "arbitrum" || got.Data["toNetwork"] != "ton" {
		t.Fatalf("unexpected quote data: %+v", got.Data)
	}
}

func TestGetQuoteOutOfBounds(t *testing.T) {
	srv := newChangeNowServer(t)
	defer srv.Close()

	c := New(httpx.New(time.Second, 0), "test-key").WithBaseURL(srv.URL)
	_, err := c.GetQuote(context.Background(), quoteRequest(t, "arbitrum", "USDT", "ton", "USDT", "1000000"))
	if !clierr.IsCode(err, clierr.CodeAmountOutOfBounds) {
		t.Fatalf("expected amount out of bounds, got %v", err)
	}
}

func TestGetQuoteUnlistedAsset(t *testing.T) {
	c := New(httpx.New(time.Second, 0), "test-key")
	_, err := c.GetQuote(context.Background(), quoteRequest(t, "ethereum", "DAI", "ton", "USDT", "1000000"))
	if !clierr.IsCode(err, clierr.CodeUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestBuildTransactionEVMTokenDeposit(t *testing.T) {
	srv := newChangeNowServer(t)
	defer srv.Close()

	c := New(httpx.New(time.Second, 0), "test-key").WithBaseURL(srv.URL)
	req := quoteRequest(t, "arbitrum", "USDT", "ton", "USDT", "50000000")
	tx, err := c.BuildTransaction(context.Background(), providers.BuildRequest{QuoteRequest: req})
	if err != nil {
		t.Fatalf("BuildTransaction failed: %v", err)
	}
	if tx.Format != model.TxFormatEVMCall {
		t.Fatalf("expected evm call for token deposit, got %s", tx.Format)
	}
	if !strings.EqualFold(tx.To, req.FromAsset.Address) || tx.Value != "0" {
		t.Fatalf("expected call into token contract, got %+v", tx)
	}
	if !strings.HasPrefix(tx.Data, "0xa9059cbb") {
		t.Fatalf("expected transfer calldata, got %s", tx.Data)
	}
	if tx.ProviderRef != "ex-1" || tx.DepositAddress != "0x00000000000000000000000000000000000000DD" {
		t.Fatalf("unexpected exchange reference: %+v", tx)
	}
}

func TestBuildTransactionNonEVMDeposit(t *testing.T) {
	srv := newChangeNowServer(t)
	defer srv.Close()

	c := New(httpx.New(time.Second, 0), "test-key").WithBaseURL(srv.URL)
	req := quoteRequest(t, "tron", "USDT", "ton", "USDT", "50000000")
	req.Sender = tronWallet
	tx, err := c.BuildTransaction(context.Background(), providers.BuildRequest{QuoteRequest: req})
	if err != nil {
		t.Fatalf("BuildTransaction failed: %v", err)
	}
	if tx.Format != model.TxFormatDeposit || tx.Family != "tron" {
		t.Fatalf("unexpected deposit envelope: %+v", tx)
	}
	if tx.Value != "50000000" || tx.Memo != "memo-1" {
		t.Fatalf("unexpected deposit amount or memo: %+v", tx)
	}
}

func TestBuildTransactionRejectsWrongRecipientFamily(t *testing.T) {
	c := New(httpx.New(time.Second, 0), "test-key")
	req := quoteRequest(t, "arbitrum", "USDT", "ton", "USDT", "50000000")
	req.Recipient = evmWallet
	_, err := c.BuildTransaction(context.Background(), providers.BuildRequest{QuoteRequest: req})
	if !clierr.IsCode(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestGetStatus(t *testing.T) {
	srv := newChangeNowServer(t)
	defer srv.Close()

	c := New(httpx.New(time.Second, 0), "test-key").WithBaseURL(srv.URL)
	got, err := c.GetStatus(context.Background(), providers.StatusRequest{ProviderRef: "ex-1", TxHash: "0xabc"})
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if got.Status != "exchanging" {
		t.Fatalf("unexpected status: %+v", got)
	}
	if _, err := c.GetStatus(context.Background(), providers.StatusRequest{TxHash: "0xabc"}); !clierr.IsCode(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error without exchange id, got %v", err)
	}
}

func TestSpeedSeconds(t *testing.T) {
	if got := speedSeconds("10-60"); got != 3600 {
		t.Fatalf("unexpected speed: %d", got)
	}
	if got := speedSeconds(""); got != defaultSpeedS {
		t.Fatalf("expected default speed, got %d", got)
	}
}

func quoteRequest(t *testing.T, fromNet, fromSym, toNet, toSym, amount string) providers.QuoteRequest {
	t.Helper()
	fromChain, err := id.ParseChain(fromNet)
	if err != nil {
		t.Fatalf("parse chain: %v", err)
	}
	toChain, err := id.ParseChain(toNet)
	if err != nil {
		t.Fatalf("parse chain: %v", err)
	}
	fromAsset, err := id.ParseAsset(fromSym, fromChain)
	if err != nil {
		t.Fatalf("parse asset: %v", err)
	}
	toAsset, err := id.ParseAsset(toSym, toChain)
	if err != nil {
		t.Fatalf("parse asset: %v", err)
	}
	return providers.QuoteRequest{
		Kind:            model.StepKindBridge,
		FromChain:       fromChain,
		ToChain:         toChain,
		FromAsset:       fromAsset,
		ToAsset:         toAsset,
		AmountBaseUnits: amount,
		Sender:          evmWallet,
		Recipient:       tonWallet,
	}
}

func newChangeNowServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(apiKeyHeader) != "test-key" {
			t.Fatalf("missing api key header")
		}
		switch r.URL.Path {
		case "/exchange/range":
			_, _ = w.Write([]byte(`{"minAmount":2.5,"maxAmount":null}`))
		case "/exchange/estimated-amount":
			if r.URL.Query().Get("fromAmount") != "50" {
				t.Fatalf("expected decimal from amount, got %q", r.URL.Query().Get("fromAmount"))
			}
			_, _ = w.Write([]byte(`{"toAmount":49.1234567,"validUntil":"2026-01-01T00:05:00Z","transactionSpeedForecast":"10-60"}`))
		case "/exchange":
			var body exchangeRequest
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode exchange body: %v", err)
			}
			if body.FromAmount != "50" || body.Address != tonWallet {
				t.Fatalf("unexpected exchange body: %+v", body)
			}
			_, _ = w.Write([]byte(`{"id":"ex-1","payinAddress":"0x00000000000000000000000000000000000000DD","payinExtraId":"memo-1"}`))
		case "/exchange/by-id":
			if r.URL.Query().Get("id") != "ex-1" {
				t.Fatalf("unexpected exchange id: %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"id":"ex-1","status":"exchanging"}`))
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
}
