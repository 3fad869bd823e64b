package referrers

import "strings"

// Medium groups referrers by kind of traffic.
type Medium string

const (
	MediumSearch   Medium = "organic"
	MediumSocial   Medium = "social"
	MediumEmail    Medium = "email"
	MediumReferral Medium = "referral"
	MediumNone     Medium = "(none)"
)

type known struct {
	name   string
	medium Medium
}

var knownReferrers = map[string]known{
	// Search engines
	"google.com":     {"Google", MediumSearch},
	"google.co.uk":   {"Google", MediumSearch},
	"google.de":      {"Google", MediumSearch},
	"google.fr":      {"Google", MediumSearch},
	"google.es":      {"Google", MediumSearch},
	"google.pt":      {"Google", MediumSearch},
	"google.ca":      {"Google", MediumSearch},
	"google.com.au":  {"Google", MediumSearch},
	"google.com.br":  {"Google", MediumSearch},
	"bing.com":       {"Bing", MediumSearch},
	"duckduckgo.com": {"DuckDuckGo", MediumSearch},
	"yahoo.com":      {"Yahoo", MediumSearch},
	"ecosia.org":     {"Ecosia", MediumSearch},
	"kagi.com":       {"Kagi", MediumSearch},

	// Social media
	"x.com":           {"X/Twitter", MediumSocial},
	"twitter.com":     {"X/Twitter", MediumSocial},
	"t.co":            {"X/Twitter", MediumSocial},
	"facebook.com":    {"Facebook", MediumSocial},
	"fb.com":          {"Facebook", MediumSocial},
	"l.facebook.com":  {"Facebook", MediumSocial},
	"instagram.com":   {"Instagram", MediumSocial},
	"l.instagram.com": {"Instagram", MediumSocial},
	"linkedin.com":    {"LinkedIn", MediumSocial},
	"lnkd.in":         {"LinkedIn", MediumSocial},
	"tiktok.com":      {"TikTok", MediumSocial},
	"pinterest.com":   {"Pinterest", MediumSocial},
	"reddit.com":      {"Reddit", MediumSocial},
	"threads.net":     {"Threads", MediumSocial},
	"bsky.app":        {"Bluesky", MediumSocial},
	"youtube.com":     {"YouTube", MediumSocial},
	"youtu.be":        {"YouTube", MediumSocial},
	"whatsapp.com":    {"WhatsApp", MediumSocial},
	"t.me":            {"Telegram", MediumSocial},

	// Webmail, i.e. newsletter clicks
	"mail.google.com":    {"Gmail", MediumEmail},
	"outlook.live.com":   {"Outlook", MediumEmail},
	"outlook.office.com": {"Outlook", MediumEmail},
	"mail.yahoo.com":     {"Yahoo Mail", MediumEmail},
	"mail.proton.me":     {"Proton Mail", MediumEmail},
}

// Source is a classified traffic origin.
type Source struct {
	Name   string
	Medium Medium
}

// Classify maps a referrer hostname onto a friendly source. An empty host is
// direct traffic; unknown hosts are generic referrals named after the host
// without its www. prefix.
func Classify(hostname string) Source {
	hostname = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
	if hostname == "" {
		return Source{Name: "direct", Medium: MediumNone}
	}

	if k, ok := lookup(hostname); ok {
		return Source{Name: k.name, Medium: k.medium}
	}
	return Source{Name: strings.TrimPrefix(hostname, "www."), Medium: MediumReferral}
}

func lookup(hostname string) (known, bool) {
	if k, ok := knownReferrers[hostname]; ok {
		return k, true
	}
	hostname = strings.TrimPrefix(hostname, "www.")
	if k, ok := knownReferrers[hostname]; ok {
		return k, true
	}
	// Walk up the labels so m.facebook.com resolves to facebook.com. Walking
	// instead of ranging over the map keeps the result deterministic.
	for {
		dot := strings.IndexByte(hostname, '.')
		if dot < 0 {
			return known{}, false
		}
		hostname = hostname[dot+1:]
		if k, ok := knownReferrers[hostname]; ok {
			return k, true
		}
	}
}
