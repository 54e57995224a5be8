// Package signal flags lifted functions that reference sensitive string
// literals or call into sensitive managed APIs.
package signal

import (
	"math"
	"regexp"
	"strings"
)

// Categories for string signal classification.
const (
	CatURL        = "url"
	CatHost       = "host"
	CatEncryption = "encryption"
	CatAuth       = "auth"
	CatNet        = "net"
	CatFileExt    = "file"
	CatBase64Key  = "base64"
	CatReflection = "reflection"
	CatNative     = "native" // internal calls and interop
)

var (
	reURL       = regexp.MustCompile(`(?i)(https?|wss?|ftp)://`)
	reIPLiteral = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	reBase64    = regexp.MustCompile(`^[A-Za-z0-9+/=]{16,}$`)

	// Crypto keywords that are safe for substring matching (long enough, no false positives).
	cryptoKeywords = []string{
		"encrypt", "decrypt", "cipher", "ciphertext",
		"xxtea", "xorcipher", "xordecrypt", "xorencrypt", "xorkey",
		"pbkdf", "argon2", "bcrypt", "scrypt",
		"signature", "digest",
		"hmacsha", "chacha", "blowfish", "twofish",
		"nonce", "saltvalue",
	}

	// Short crypto words need word-boundary matching to avoid false positives
	// ("rsa" in "Traversal", "tea" in "instead", "md5" in random strings).
	reCryptoShort = regexp.MustCompile(`(?i)(^|[^a-zA-Z])(aes|rsa|ecdsa|ecdh|hmac|sha1|sha256|sha512|md5|cbc|ecb|gcm|pkcs|xor|rc4|3des|salt|iv)([^a-zA-Z]|$)`)

	// Auth patterns use word boundaries to avoid camelCase false positives
	// like "brieflyShowPassword" (a UI setting).
	reAuth = regexp.MustCompile(`(?i)(^|[^a-zA-Z])(oauth|jwt|bearer|credential|passwd|apikey|api_key|api-key|authorization|authenticate)([^a-zA-Z]|$)`)

	// These require standalone match (not embedded in camelCase).
	reAuthStandalone = regexp.MustCompile(`(?i)(^|[^a-z])(password|token|secret|login)([^a-z]|$)`)

	netKeywords = []string{
		"socket", "connect", "dns", "proxy", "redirect",
	}

	httpMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

	signalExtensions = []string{
		".dex", ".so", ".apk", ".aab", ".ipa",
		".zip", ".tar", ".gz",
		".json", ".xml", ".yaml", ".yml",
		".db", ".sqlite",
		".key", ".pem", ".cert", ".crt", ".p12", ".jks",
		".js", ".lua", ".py",
	}

	// Callee namespaces that mark a managed function as touching a
	// sensitive API. Matched as prefixes of the qualified callee name.
	calleePrefixes = []struct{ prefix, cat string }{
		{"System.Security.Cryptography.", CatEncryption},
		{"System.Net.", CatNet},
		{"UnityEngine.Networking.", CatNet},
		{"UnityEngine.WWW", CatNet},
		{"System.IO.File", CatFileExt},
		{"System.IO.Directory", CatFileExt},
		{"System.Reflection.", CatReflection},
		{"System.Runtime.InteropServices.", CatNative},
	}
)

// ClassifyString returns the set of signal categories matching the value.
// Returns nil if the string carries no signal.
func ClassifyString(value string) []string {
	if len(value) < 2 {
		return nil
	}

	var cats []string
	lower := strings.ToLower(value)

	// URL
	if reURL.MatchString(value) {
		cats = append(cats, CatURL)
	}

	// Host (IP literal)
	if reIPLiteral.MatchString(value) {
		cats = append(cats, CatHost)
	}

	// Crypto: keyword substring match + word-boundary regex for short words.
	if containsKeyword(value, cryptoKeywords) || reCryptoShort.MatchString(value) {
		cats = append(cats, CatEncryption)
	}

	// Auth (word-boundary matching to avoid camelCase false positives).
	if reAuth.MatchString(value) || reAuthStandalone.MatchString(value) {
		cats = append(cats, CatAuth)
	}

	// Net (HTTP methods or network keywords)
	for _, m := range httpMethods {
		if value == m {
			cats = append(cats, CatNet)
			break
		}
	}
	if !containsCat(cats, CatNet) {
		for _, w := range netKeywords {
			if strings.Contains(lower, w) {
				cats = append(cats, CatNet)
				break
			}
		}
	}

	// File extension
	for _, ext := range signalExtensions {
		if strings.HasSuffix(lower, ext) || strings.Contains(lower, ext+" ") || strings.Contains(lower, ext+",") {
			cats = append(cats, CatFileExt)
			break
		}
	}

	// Base64/hex key (high-entropy, standalone).
	// Exclude camelCase identifiers which match the character set but aren't keys.
	trimmed := strings.TrimSpace(value)
	if reBase64.MatchString(trimmed) && entropy(value) > 3.5 && !isCamelCase(trimmed) {
		cats = append(cats, CatBase64Key)
	}

	return cats
}

// ClassifyCallee returns the categories of a qualified callee name such as
// "System.Net.WebClient::DownloadString". Internal calls resolved by name
// are native.
func ClassifyCallee(name, kind string) []string {
	var cats []string
	if kind == "icall" {
		cats = append(cats, CatNative)
	}
	for _, p := range calleePrefixes {
		if strings.HasPrefix(name, p.prefix) && !containsCat(cats, p.cat) {
			cats = append(cats, p.cat)
		}
	}
	return cats
}

// Severity levels for signal categories.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// CategorySeverity returns the severity level for a category.
func CategorySeverity(cat string) string {
	switch cat {
	case CatEncryption, CatAuth, CatNative:
		return SeverityHigh
	case CatURL, CatHost, CatBase64Key, CatReflection:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// MaxSeverity returns the highest severity from a list of categories.
func MaxSeverity(categories []string) string {
	best := ""
	for _, c := range categories {
		s := CategorySeverity(c)
		if s == SeverityHigh {
			return SeverityHigh
		}
		if s == SeverityMedium {
			best = SeverityMedium
		} else if best == "" {
			best = SeverityLow
		}
	}
	if best == "" {
		return SeverityLow
	}
	return best
}

// isCamelCase returns true if the string looks like a camelCase/PascalCase identifier.
// It checks for lowercase-to-uppercase transitions (e.g. "checkSimCard").
func isCamelCase(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] >= 'a' && s[i-1] <= 'z' && s[i] >= 'A' && s[i] <= 'Z' {
			return true
		}
	}
	return false
}

// normalizeForMatch strips underscores, hyphens, spaces, and dots from a
// lowercased string. This lets "checkSimCard", "check_sim_card", and
// "check sim card" all match the keyword "checksimcard".
func normalizeForMatch(s string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(lower))
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if c != '_' && c != '-' && c != ' ' && c != '.' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// containsKeyword checks if the normalized value contains any keyword.
// Keywords should be lowercase with no separators (e.g. "checksimcard").
func containsKeyword(value string, keywords []string) bool {
	norm := normalizeForMatch(value)
	for _, kw := range keywords {
		if strings.Contains(norm, kw) {
			return true
		}
	}
	return false
}

func containsCat(cats []string, cat string) bool {
	for _, c := range cats {
		if c == cat {
			return true
		}
	}
	return false
}

// entropy computes Shannon entropy of a string in bits per character.
func entropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[byte]int)
	for i := 0; i < len(s); i++ {
		freq[s[i]]++
	}
	n := float64(len(s))
	var ent float64
	for _, count := range freq {
		p := float64(count) / n
		if p > 0 {
			ent -= p * math.Log2(p)
		}
	}
	return ent
}
