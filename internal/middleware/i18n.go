package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}
type countryContextKey struct{}

var (
	LocaleKey  = localeContextKey{}
	CountryKey = countryContextKey{}
)

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// Locales matches request language hints against the supported UI locales.
// The first supported locale is the default.
type Locales struct {
	tags    []language.Tag
	matcher language.Matcher
}

func NewLocales(supported ...string) *Locales {
	var tags []language.Tag
	for _, s := range supported {
		tag, err := language.Parse(strings.TrimSpace(s))
		if err != nil {
			continue
		}
		tags = append(tags, tag)
	}
	if len(tags) == 0 {
		tags = []language.Tag{language.English}
	}
	return &Locales{tags: tags, matcher: language.NewMatcher(tags)}
}

func (l *Locales) Default() string {
	return l.tags[0].String()
}

// Match returns the best supported locale for an Accept-Language style list.
func (l *Locales) Match(header string) (string, bool) {
	wanted, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(wanted) == 0 {
		return "", false
	}
	_, idx, conf := l.matcher.Match(wanted...)
	if conf == language.No {
		return "", false
	}
	return l.tags[idx].String(), true
}

// ForCountry picks the supported locale of the language most likely spoken
// in country.
func (l *Locales) ForCountry(country string) (string, bool) {
	region, err := language.ParseRegion(strings.TrimSpace(country))
	if err != nil {
		return "", false
	}
	tag, err := language.Compose(language.Und, region)
	if err != nil {
		return "", false
	}
	base, _ := tag.Base()
	return l.Match(base.String())
}

func I18N(locales *Locales, lookup CountryLookup) func(http.Handler) http.Handler {
	if locales == nil {
		locales = NewLocales()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			country := ResolveCountry(r, lookup)
			locale := detectLocale(r, locales, country)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			if country != "" {
				ctx = context.WithValue(ctx, CountryKey, strings.ToUpper(country))
			}
			w.Header().Set("Content-Language", locale)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, locales *Locales, country string) string {
	if v, ok := locales.Match(r.Header.Get("X-Locale")); ok {
		return v
	}
	if v, ok := locales.Match(r.Header.Get("Accept-Language")); ok {
		return v
	}
	if country != "" {
		if v, ok := locales.ForCountry(country); ok {
			return v
		}
	}
	return locales.Default()
}

// ClientIP returns the best-effort client IP address for the request.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}

// CountryFromContext returns the ISO country code stored in the request context.
func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CountryKey).(string); ok {
		return v
	}
	return ""
}

// ResolveCountry resolves a best-effort ISO country code for the given request.
func ResolveCountry(r *http.Request, lookup CountryLookup) string {
	if r == nil {
		return ""
	}
	headerHints := []string{"X-Country-Code", "X-IP-Country", "CF-IPCountry", "X-Appengine-Country"}
	for _, key := range headerHints {
		if val := strings.TrimSpace(r.Header.Get(key)); val != "" {
			return strings.ToUpper(val)
		}
	}
	if region := localeRegion(r.Header.Get("X-Locale")); region != "" {
		return region
	}
	if region := localeRegion(r.Header.Get("Accept-Language")); region != "" {
		return region
	}
	if lookup != nil {
		if ip := ClientIP(r); ip != "" {
			if country, err := lookup(ip); err == nil && country != "" {
				return strings.ToUpper(country)
			}
		}
	}
	return ""
}

// localeRegion returns the explicit region of the first tag in header.
func localeRegion(header string) string {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		return ""
	}
	for _, tag := range tags {
		if region, conf := tag.Region(); conf == language.Exact {
			return region.String()
		}
	}
	return ""
}
