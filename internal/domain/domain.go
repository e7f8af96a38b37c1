// Package domain maps browser window titles to canonical site keys.
package domain

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of (process, title) pairs a Normalizer remembers.
const DefaultCacheSize = 512

// KeywordRule maps a product name found in a title to a site key.
type KeywordRule struct {
	Keyword string
	Domain  string
}

// Keywords is consulted in order when a title carries no literal domain.
// Earlier entries shadow later ones, so more specific names come first.
var Keywords = []KeywordRule{
	{Keyword: "YouTube", Domain: "youtube.com"},
	{Keyword: "Netflix", Domain: "netflix.com"},
	{Keyword: "Prime Video", Domain: "primevideo.com"},
	{Keyword: "Spotify", Domain: "spotify.com"},
	{Keyword: "Facebook", Domain: "facebook.com"},
	{Keyword: "Instagram", Domain: "instagram.com"},
	{Keyword: "WhatsApp", Domain: "whatsapp.com"},
	{Keyword: "Telegram", Domain: "telegram.org"},
	{Keyword: "LinkedIn", Domain: "linkedin.com"},
	{Keyword: "TikTok", Domain: "tiktok.com"},
	{Keyword: "Twitter", Domain: "x.com"},
	{Keyword: "Reddit", Domain: "reddit.com"},
	{Keyword: "Gmail", Domain: "google.com"},
	{Keyword: "Google Drive", Domain: "google.com"},
	{Keyword: "Google Docs", Domain: "google.com"},
	{Keyword: "Google Sheets", Domain: "google.com"},
	{Keyword: "Google Meet", Domain: "google.com"},
	{Keyword: "Google", Domain: "google.com"},
	{Keyword: "Outlook", Domain: "outlook.com"},
	{Keyword: "Microsoft Teams", Domain: "microsoft.com"},
	{Keyword: "SharePoint", Domain: "sharepoint.com"},
	{Keyword: "OneDrive", Domain: "live.com"},
	{Keyword: "Office 365", Domain: "office.com"},
	{Keyword: "ChatGPT", Domain: "chatgpt.com"},
	{Keyword: "GitHub", Domain: "github.com"},
	{Keyword: "GitLab", Domain: "gitlab.com"},
	{Keyword: "Stack Overflow", Domain: "stackoverflow.com"},
	{Keyword: "Wikipedia", Domain: "wikipedia.org"},
	{Keyword: "Mercado Libre", Domain: "mercadolibre.com"},
	{Keyword: "Amazon", Domain: "amazon.com"},
	{Keyword: "Zoom", Domain: "zoom.us"},
	{Keyword: "Slack", Domain: "slack.com"},
	{Keyword: "Trello", Domain: "trello.com"},
	{Keyword: "Jira", Domain: "atlassian.net"},
}

var domainPattern = regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}\b`)

// compoundSeconds are the second-level labels that form a registrable suffix
// together with a country code, as in example.com.mx.
var compoundSeconds = map[string]bool{"com": true, "org": true, "net": true}

var countryCodes = toSet(strings.Fields(`
	ac ad ae af ag ai al am ao aq ar as at au aw ax az ba bb bd be bf bg bh bi bj bm bn bo br bs
	bt bw by bz ca cc cd cf cg ch ci ck cl cm cn co cr cu cv cw cx cy cz de dj dk dm do dz ec ee
	eg er es et eu fi fj fk fm fo fr ga gd ge gf gg gh gi gl gm gn gp gq gr gs gt gu gw gy hk hm
	hn hr ht hu id ie il im in io iq ir is it je jm jo jp ke kg kh ki km kn kp kr kw ky kz la lb
	lc li lk lr ls lt lu lv ly ma mc md me mg mh mk ml mm mn mo mp mq mr ms mt mu mv mw mx my mz
	na nc ne nf ng ni nl no np nr nu nz om pa pe pf pg ph pk pl pm pn pr ps pt pw py qa re ro rs
	ru rw sa sb sc sd se sg sh si sk sl sm sn so sr ss st sv sx sy sz tc td tf tg th tj tk tl tm
	tn to tr tt tv tw tz ua ug uk us uy uz va vc ve vg vi vn vu wf ws ye yt za zm zw
`))

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

// Normalize returns the site key for a browser window title. Blank titles
// yield "" and must not be credited.
func Normalize(processName, title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return ""
	}

	if host := domainPattern.FindString(title); host != "" {
		return Simplify(strings.ToLower(host))
	}

	lower := strings.ToLower(title)
	for _, rule := range Keywords {
		if strings.Contains(lower, strings.ToLower(rule.Keyword)) {
			return rule.Domain
		}
	}

	return "Other (" + TrimExe(processName) + ")"
}

// Simplify reduces a host name to its registrable part.
func Simplify(host string) string {
	labels := strings.Split(host, ".")
	n := len(labels)
	if n <= 2 {
		return host
	}
	if countryCodes[labels[n-1]] && compoundSeconds[labels[n-2]] {
		return strings.Join(labels[n-3:], ".")
	}
	return strings.Join(labels[n-2:], ".")
}

// TrimExe strips a trailing ".exe", ignoring case.
func TrimExe(name string) string {
	if len(name) >= 4 && strings.EqualFold(name[len(name)-4:], ".exe") {
		return name[:len(name)-4]
	}
	return name
}

type cacheKey struct {
	process string
	title   string
}

// Normalizer memoizes Normalize for recently seen titles.
type Normalizer struct {
	cache *lru.Cache[cacheKey, string]
}

// NewNormalizer creates a Normalizer holding up to size entries.
func NewNormalizer(size int) (*Normalizer, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[cacheKey, string](size)
	if err != nil {
		return nil, err
	}
	return &Normalizer{cache: cache}, nil
}

// Normalize is the cached form of the package-level Normalize.
func (n *Normalizer) Normalize(processName, title string) string {
	key := cacheKey{process: processName, title: title}
	if site, ok := n.cache.Get(key); ok {
		return site
	}
	site := Normalize(processName, title)
	n.cache.Add(key, site)
	return site
}

// Len reports the number of cached titles.
func (n *Normalizer) Len() int {
	return n.cache.Len()
}
