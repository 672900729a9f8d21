package fixture

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestLockedPage(t *testing.T) {
	server := NewServer(t, Options{})

	resp, body := get(t, server.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	assert.Contains(t, body, "<span>X402 Creator Platform</span>")
	assert.Contains(t, body, "Exclusive Analysis")
	assert.Equal(t, 2, strings.Count(body, "Premium Content"))
	assert.Contains(t, body, "Buy for 5 USDC")
	assert.Contains(t, body, "Buy for 0.1 SOL")
	assert.NotContains(t, body, "The Future of Cross-Chain Payments")
	assert.NotContains(t, body, "Buy for 1 ETH")
}

func TestPageVariants(t *testing.T) {
	t.Run("unlocked", func(t *testing.T) {
		server := NewServer(t, Options{Unlocked: true})
		_, body := get(t, server.URL+"/")
		assert.Contains(t, body, "The Future of Cross-Chain Payments")
		assert.NotContains(t, body, "Buy for 5 USDC")
		assert.Contains(t, body, "Buy for 0.1 SOL")
	})

	t.Run("gated text hidden", func(t *testing.T) {
		server := NewServer(t, Options{GatedHidden: true})
		_, body := get(t, server.URL+"/")
		assert.Contains(t, body, `class="gated-hidden"`)
		assert.Contains(t, body, "Exclusive Analysis")
	})

	t.Run("extra button and missing heading", func(t *testing.T) {
		server := NewServer(t, Options{ExtraPurchaseButton: true, HideHeading: true})
		_, body := get(t, server.URL+"/")
		assert.Contains(t, body, "Buy for 1 ETH")
		assert.NotContains(t, body, "<span>X402 Creator Platform</span>")
	})
}

func TestAccessEndpoint(t *testing.T) {
	t.Run("locked content requires payment", func(t *testing.T) {
		server := NewServer(t, Options{})
		resp, body := get(t, server.URL+"/api/access/article-001")
		assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
		assert.Equal(t, "USDC", resp.Header.Get("X-Payment-Currency"))

		var payload map[string]string
		require.NoError(t, json.Unmarshal([]byte(body), &payload))
		assert.Equal(t, "Payment Required", payload["error"])
		assert.Equal(t, "article-001", payload["contentId"])
	})

	t.Run("unlocked content grants access", func(t *testing.T) {
		server := NewServer(t, Options{Unlocked: true})
		resp, body := get(t, server.URL+"/api/access/video-001")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, `"hasAccess":true`)
	})

	t.Run("delay holds the response", func(t *testing.T) {
		server := NewServer(t, Options{AccessDelay: 150 * time.Millisecond})
		start := time.Now()
		resp, _ := get(t, server.URL+"/api/access/article-001")
		assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
		assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	})
}

func TestVisitCookie(t *testing.T) {
	server := NewServer(t, Options{})

	resp, body := get(t, server.URL+VisitPath)
	assert.Contains(t, body, FirstVisitText)
	cookies := resp.Cookies()
	require.Len(t, cookies, 1)

	req, err := http.NewRequest(http.MethodGet, server.URL+VisitPath, nil)
	require.NoError(t, err)
	req.AddCookie(cookies[0])
	again, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer again.Body.Close()
	data, err := io.ReadAll(again.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), ReturnVisitText)
	assert.Empty(t, again.Cookies(), "a returning visitor gets no new cookie")
}
