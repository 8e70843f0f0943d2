package fetch

import (
	"math/rand"
	"net/http"
)

// Fingerprint is one realistic browser header profile. Rotating these
// makes plain-HTTP fetches blend in with organic traffic.
type Fingerprint struct {
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
	SecChUA        string
	SecChUAMobile  string
	Platform       string
}

var fingerprints = []Fingerprint{
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
		AcceptEncoding: "gzip, deflate, br",
		SecChUA:        `"Not/A)Brand";v="8", "Chromium";v="126", "Google Chrome";v="126"`,
		SecChUAMobile:  "?0",
		Platform:       `"Windows"`,
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.8",
		AcceptEncoding: "gzip, deflate, br",
		SecChUA:        `"Not/A)Brand";v="8", "Chromium";v="126", "Google Chrome";v="126"`,
		SecChUAMobile:  "?0",
		Platform:       `"macOS"`,
	},
	{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		AcceptLanguage: "en-GB,en;q=0.9",
		AcceptEncoding: "gzip, deflate, br",
		SecChUA:        `"Chromium";v="125", "Not.A/Brand";v="24"`,
		SecChUAMobile:  "?0",
		Platform:       `"Linux"`,
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
		AcceptLanguage: "en-US,en;q=0.9",
		AcceptEncoding: "gzip, deflate, br",
	},
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
		AcceptLanguage: "en-US,en;q=0.5",
		AcceptEncoding: "gzip, deflate, br",
	},
}

// RandomFingerprint picks one profile from the pool.
func RandomFingerprint() Fingerprint {
	return fingerprints[rand.Intn(len(fingerprints))]
}

// Apply stamps the profile onto an outgoing request.
func (f Fingerprint) Apply(req *http.Request) {
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", f.AcceptLanguage)
	// Accept-Encoding is left to the transport so response bodies stay
	// transparently decompressed.
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	if f.SecChUA != "" {
		req.Header.Set("Sec-Ch-Ua", f.SecChUA)
		req.Header.Set("Sec-Ch-Ua-Mobile", f.SecChUAMobile)
		req.Header.Set("Sec-Ch-Ua-Platform", f.Platform)
		req.Header.Set("Sec-Fetch-Dest", "document")
		req.Header.Set("Sec-Fetch-Mode", "navigate")
		req.Header.Set("Sec-Fetch-Site", "none")
	}
}
