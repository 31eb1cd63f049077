package resolver

import (
	"strings"

	"golang.org/x/text/language"
)

// DefaultLocale is used when nothing better is known.
const DefaultLocale = "en"

var supportedLocales = map[string]bool{
	"en": true, "ru": true, "id": true, "ja": true, "pt": true, "fr": true,
	"es": true, "tr": true, "de": true, "it": true, "ar": true, "fa": true,
	"vi": true, "tl": true, "th": true, "da": true, "pl": true, "ko": true,
}

// NormalizeLocale maps the many spellings the directory and the preference
// service use onto template locales. Chinese keeps its script split
// (zh-CN, zh-TW); everything else is reduced to its primary subtag. Unknown
// languages map to DefaultLocale. An empty input stays empty so callers can
// tell "unset" from "English".
func NormalizeLocale(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	switch raw {
	case "en", "en_US", "en-US", "en-Us":
		return "en"
	case "zh", "zh_CN", "zh-CN", "zh-Hans":
		return "zh-CN"
	case "zh_TW", "zh-TW", "zh-Hant", "zh-HK":
		return "zh-TW"
	}

	code := strings.ToLower(strings.ReplaceAll(raw, "_", "-"))
	primary, _, _ := strings.Cut(code, "-")
	if primary == "in" {
		primary = "id"
	}
	if supportedLocales[primary] {
		return primary
	}

	// Let x/text canonicalize the rest (zh-hant-mo, legacy codes).
	if tag, err := language.Parse(code); err == nil {
		base, _ := tag.Base()
		if base.String() == "zh" {
			if script, _ := tag.Script(); script.String() == "Hant" {
				return "zh-TW"
			}
			return "zh-CN"
		}
		if supportedLocales[base.String()] {
			return base.String()
		}
	}
	return DefaultLocale
}
