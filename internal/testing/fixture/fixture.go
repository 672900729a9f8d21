// Package fixture serves a static replica of the creator platform home page
// in its locked state, so browser drivers and the runner can be exercised
// without the real application.
package fixture

import (
	"html/template"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/json-iterator/go"
)

// Options change the rendered page to produce failing or edge-case states.
type Options struct {
	// Unlocked renders the purchased article instead of the placeholder.
	Unlocked bool
	// GatedHidden keeps the gated article in the DOM but hidden with display:none.
	GatedHidden bool
	// ExtraPurchaseButton adds a third "Buy for" button.
	ExtraPurchaseButton bool
	// HideHeading leaves the platform name out of the header.
	HideHeading bool
	// AccessDelay holds every access-check response for this long.
	AccessDelay time.Duration
}

// Status text the page shows once the purchase alert has been dismissed.
const WalletPromptStatus = "Wallet connection required"

// Texts served by VisitPath, depending on whether the browsing context
// already holds the visitor cookie.
const (
	VisitPath        = "/visit"
	FirstVisitText   = "First visit"
	ReturnVisitText  = "Returning visitor"
	visitorCookieKey = "x402_visitor"
)

type paywallItem struct {
	ID       string
	Chain    string
	Network  string
	Price    string
	Currency string
	Article  bool
}

var items = []paywallItem{
	{ID: "article-001", Chain: "base", Network: "Base (EVM)", Price: "5", Currency: "USDC", Article: true},
	{ID: "video-001", Chain: "solana", Network: "Solana (SVM)", Price: "0.1", Currency: "SOL"},
}

var pageTmpl = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>X402 Creator Platform</title>
<style>
  body { margin: 0; font-family: sans-serif; background: #0a0a0a; color: #eee; }
  header { display: flex; justify-content: space-between; align-items: center; height: 80px; padding: 0 24px; border-bottom: 1px solid #333; }
  main { max-width: 1100px; margin: 0 auto; padding: 48px 16px; }
  .grid { display: grid; grid-template-columns: 1fr; gap: 32px; }
  @media (min-width: 768px) { .grid { grid-template-columns: 1fr 1fr; } }
  .paywall { position: relative; overflow: hidden; border: 1px solid #444; border-radius: 12px; background: #111; min-height: 256px; }
  .preview { padding: 24px; height: 208px; overflow: hidden; }
  .video { aspect-ratio: 16 / 9; background: #222; }
  .overlay { position: absolute; inset: 0; display: flex; flex-direction: column; align-items: center; justify-content: center; background: rgba(0,0,0,.6); }
  .overlay button { padding: 12px 32px; border: 0; border-radius: 999px; background: #4f46e5; color: #fff; font-weight: bold; cursor: pointer; }
  .gated-hidden { display: none; }
</style>
</head>
<body>
<header>
  <div>
    <span aria-hidden="true">X</span>
    {{if not .HideHeading}}<span>X402 Creator Platform</span>{{end}}
  </div>
  <button type="button" id="connect">Connect Wallet</button>
</header>
<main>
  <section style="text-align:center">
    <h1>Monetize Any Content. Any Chain. Instantly.</h1>
    <p>Connect your wallet and unlock premium content below.</p>
  </section>
  <div class="grid">
  {{range .Items}}
    <div class="paywall" data-content-id="{{.ID}}">
    {{if and .Article $.Unlocked}}
      <article><h2>The Future of Cross-Chain Payments</h2><p>This is the premium content you unlocked!</p></article>
    {{else}}
      {{if .Article}}
      <div class="preview">
        <h3>Exclusive Analysis</h3>
        <p>In the rapidly evolving landscape of Web3, protocols like X402 are redefining how creators monetize content.</p>
        {{if $.GatedHidden}}<article class="gated-hidden"><h2>The Future of Cross-Chain Payments</h2></article>{{end}}
      </div>
      {{else}}
      <div class="video"><img alt="Locked Video" width="1" height="1"></div>
      {{end}}
      <div class="overlay">
        <h3>Premium Content</h3>
        <p>Unlock to verify access</p>
        <button type="button" data-chain="{{.Chain}}" onclick="purchase(this)">Buy for {{.Price}} {{.Currency}}</button>
        <p>via {{.Network}}</p>
      </div>
    {{end}}
    </div>
  {{end}}
  {{if .ExtraPurchaseButton}}
    <div class="paywall"><div class="overlay"><button type="button" onclick="purchase(this)">Buy for 1 ETH</button></div></div>
  {{end}}
  </div>
  <p id="status"></p>
  <footer><p>&copy; 2024 X402 Demo. Powered by Coinbase CDP &amp; Solana.</p></footer>
</main>
<script>
  function purchase(btn) {
    var chain = btn.getAttribute('data-chain') === 'solana' ? 'Solana' : 'Base';
    alert('Please connect your ' + chain + ' wallet first.');
    document.getElementById('status').textContent = {{.WalletPromptStatus}};
  }
  document.querySelectorAll('.paywall[data-content-id]').forEach(function (el) {
    fetch('/api/access/' + el.getAttribute('data-content-id')).catch(function () {});
  });
</script>
</body>
</html>
`))

var visitTmpl = template.Must(template.New("visit").Parse(`<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"><title>Visit</title></head>
<body><p>{{.}}</p></body></html>
`))

// NewRouter builds the fixture's routes.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		data := struct {
			Options
			Items              []paywallItem
			WalletPromptStatus string
		}{opts, items, WalletPromptStatus}
		if err := pageTmpl.Execute(w, data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	r.Get("/api/access/{id}", func(w http.ResponseWriter, req *http.Request) {
		if opts.AccessDelay > 0 {
			select {
			case <-time.After(opts.AccessDelay):
			case <-req.Context().Done():
				return
			}
		}
		id := chi.URLParam(req, "id")
		w.Header().Set("Content-Type", "application/json")
		if opts.Unlocked {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"hasAccess": true, "contentId": id})
			return
		}
		w.Header().Set("X-Payment-Amount", "5")
		w.Header().Set("X-Payment-Currency", "USDC")
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Payment Required", "contentId": id})
	})

	// Sets a cookie on the first request so tests can tell whether two pages
	// share a browsing context.
	r.Get(VisitPath, func(w http.ResponseWriter, req *http.Request) {
		text := ReturnVisitText
		if _, err := req.Cookie(visitorCookieKey); err != nil {
			text = FirstVisitText
			http.SetCookie(w, &http.Cookie{Name: visitorCookieKey, Value: "1", Path: "/"})
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_ = visitTmpl.Execute(w, text)
	})

	return r
}

// NewServer starts the fixture on a random local port and stops it when the test ends.
func NewServer(t testing.TB, opts Options) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewRouter(opts))
	t.Cleanup(server.Close)
	return server
}
