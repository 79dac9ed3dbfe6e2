package tracker

import "strings"

// ClientClass is the verdict of the signature filter on a user agent.
type ClientClass int

const (
	ClientHuman ClientClass = iota
	ClientAutomated
	ClientImageProxy
)

func (c ClientClass) String() string {
	switch c {
	case ClientAutomated:
		return "automated"
	case ClientImageProxy:
		return "image_proxy"
	}
	return "human"
}

// DefaultBotSignatures match command-line tools, crawlers, uptime monitors and
// mail security scanners.
var DefaultBotSignatures = []string{
	"curl/", "wget/", "httpie/", "python-requests", "python-urllib", "aiohttp",
	"go-http-client", "java/", "okhttp", "apache-httpclient", "libwww-perl",
	"postmanruntime", "axios/", "node-fetch", "scrapy", "headlesschrome", "phantomjs",
	"bot", "crawler", "spider", "slurp", "facebookexternalhit",
	"uptimerobot", "pingdom", "statuscake", "site24x7", "monitor",
	"barracuda", "mimecast", "proofpoint",
}

// DefaultProxySignatures match mail-provider image proxies.
var DefaultProxySignatures = []string{
	"googleimageproxy", "ggpht.com", "yahoomailproxy",
}

// SignatureFilter holds the one list of user-agent substrings used to tell
// automated and proxied fetches apart from mail clients.
type SignatureFilter struct {
	bots    []string
	proxies []string
}

// NewSignatureFilter lowercases the signatures. Nil lists select the defaults;
// an empty non-nil list disables that class.
func NewSignatureFilter(bots, proxies []string) *SignatureFilter {
	if bots == nil {
		bots = DefaultBotSignatures
	}
	if proxies == nil {
		proxies = DefaultProxySignatures
	}
	return &SignatureFilter{
		bots:    lowerAll(bots),
		proxies: lowerAll(proxies),
	}
}

// Classify checks proxies before bots so that proxies announcing themselves
// with a generic crawler token are still reported as proxies. An empty agent
// is treated as automated.
func (f *SignatureFilter) Classify(userAgent string) ClientClass {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return ClientAutomated
	}
	for _, sig := range f.proxies {
		if strings.Contains(ua, sig) {
			return ClientImageProxy
		}
	}
	for _, sig := range f.bots {
		if strings.Contains(ua, sig) {
			return ClientAutomated
		}
	}
	return ClientHuman
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
