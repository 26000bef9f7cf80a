package utils

import (
	"regexp"
	"strings"
)

var shopDomainRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)

// NormalizeShopDomain приводит домен магазина к виду name.myshopify.com.
// Допускает схему, завершающий слэш и короткое имя без суффикса
func NormalizeShopDomain(raw string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimRight(d, "/")

	if d != "" && !strings.Contains(d, ".") {
		d += ".myshopify.com"
	}
	if !shopDomainRe.MatchString(d) {
		return "", ErrInvalidShopDomain
	}
	return d, nil
}
