package utils

import (
	"fmt"
	"net/url"
	"strings"

	regexp "github.com/grafana/regexp"
)

// LogToken returns the token itself or a shortened form suitable for logging,
// depending on the obfuscation flag. Open tokens routinely embed upstream URLs
// with credentials, so logs never carry them verbatim by default.
func LogToken(obfuscate bool, token string) string {
	if !obfuscate {
		return token
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:8] + "...(" + fmt.Sprintf("%d", len(token)) + ")"
}

// LogURL returns either the original URL or an obfuscated version for logging.
func LogURL(obfuscate bool, rawURL string) string {
	if obfuscate {
		return ObfuscateURL(rawURL)
	}
	return rawURL
}

// ObfuscateURL masks the path, query and fragment of a URL, keeping only the
// scheme and host so a log line still identifies the upstream.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}
	return result
}

// langTagPattern strips region/script subtags and punctuation so that values
// like "en-US", "en_us" and "eng" compare against preference lists uniformly.
var langTagPattern = regexp.MustCompile(`^([a-zA-Z]{2,3})(?:[-_].*)?$`)

// NormalizeLanguage lower-cases a language tag and drops any region or script
// subtag. Unrecognized values come back lower-cased but otherwise untouched.
func NormalizeLanguage(tag string) string {
	tag = strings.TrimSpace(strings.ToLower(tag))
	if m := langTagPattern.FindStringSubmatch(tag); m != nil {
		return m[1]
	}
	return tag
}

// LanguageMatches reports whether two language tags denote the same language
// after normalization, accepting the common two/three letter alias pairs.
func LanguageMatches(a, b string) bool {
	a, b = NormalizeLanguage(a), NormalizeLanguage(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	return iso639Alias[a] == b || iso639Alias[b] == a
}

// iso639Alias maps the common two-letter codes onto their bibliographic
// three-letter forms seen in container metadata. Not exhaustive; unmapped
// codes simply require an exact match.
var iso639Alias = map[string]string{
	"en": "eng",
	"de": "ger",
	"fr": "fre",
	"es": "spa",
	"it": "ita",
	"pt": "por",
	"nl": "dut",
	"ru": "rus",
	"ja": "jpn",
	"zh": "chi",
	"ko": "kor",
	"sv": "swe",
	"no": "nor",
	"da": "dan",
	"fi": "fin",
	"pl": "pol",
	"cs": "cze",
	"hu": "hun",
	"tr": "tur",
	"ar": "ara",
	"he": "heb",
	"el": "gre",
}

// FormatBytes renders a byte count with a binary-unit suffix for log output.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
