package render

import (
	"strings"

	"golang.org/x/text/unicode/bidi"

	"github.com/tbourn/signal-relay/internal/events"
)

// translationCodes maps template locales to the keys the content service
// uses inside an announcement's translations object.
var translationCodes = map[string]string{
	"en":    "en_US",
	"zh-CN": "zh_CN",
	"zh-TW": "zh_TW",
	"ru":    "ru_RU",
	"id":    "in_ID",
	"ja":    "ja_JP",
	"pt":    "pt_PT",
	"fr":    "fr_FR",
	"es":    "es_ES",
	"tr":    "tr_TR",
	"de":    "de_DE",
	"it":    "it_IT",
	"vi":    "vi_VN",
	"tl":    "tl_PH",
	"ar":    "ar_AE",
	"fa":    "fa_IR",
	"ko":    "ko_KR",
	"th":    "th_TH",
}

var aiHints = map[string]string{
	"zh_CN": "\n~~~由 AI 自動翻譯，僅供參考~~~",
	"zh_TW": "\n~~~由 AI 自動翻譯，僅供參考~~~",
	"en_US": "\n~~~Automatically translated by AI. For reference only.~~~",
	"ru_RU": "\n~~~Переведено ИИ, только для справки~~~",
	"in_ID": "\n~~~Diterjemahkan AI, hanya sebagai referensi~~~",
	"ja_JP": "\n~~~AI翻訳、参考用です~~~",
	"pt_PT": "\n~~~Traduzido por IA, apenas para referência~~~",
	"fr_FR": "\n~~~Traduction IA, à titre indicatif~~~",
	"es_ES": "\n~~~Traducción por IA, solo para referencia~~~",
	"tr_TR": "\n~~~Yapay zeka çevirisi, sadece bilgi amaçlı~~~",
	"de_DE": "\n~~~KI-Übersetzung, nur zur Orientierung~~~",
	"it_IT": "\n~~~Tradotto da AI, solo a scopo informativo~~~",
	"vi_VN": "\n~~~Dịch bởi AI, chỉ mang tính tham khảo~~~",
	"tl_PH": "\n~~~Isinalin ng AI, para sa sanggunian lamang~~~",
	"ar_AE": "\n~~~مترجم بواسطة الذكاء الاصطناعي، للاستشارة فقط~~~",
	"fa_IR": "\n~~~ترجمه شده توسط هوش مصنوعی، فقط برای مرجع~~~",
	"ko_KR": "\n~~~AI 자동 번역 내용이며, 참고용입니다.~~~",
	"th_TH": "\n~~~แปลโดย AI เฉพาะเพื่อการอ้างอิง~~~",
}

// Translate picks an announcement body for locale. A machine translation
// gets a disclaimer appended; the English text and the untranslated content
// do not.
func Translate(p events.Payload, locale string) string {
	content := p.Str("content")
	tr := p.StrMap("translations")
	if len(tr) == 0 {
		return content
	}
	code, ok := translationCodes[locale]
	if !ok {
		code = translationCodes[DefaultLocale]
	}
	text := strings.TrimSpace(tr[code])
	if text == "" {
		if en := strings.TrimSpace(tr["en_US"]); en != "" {
			return tr["en_US"]
		}
		return content
	}
	if code == "en_US" {
		return tr[code]
	}
	hint := aiHints[code]
	if hint == "" {
		hint = aiHints["en_US"]
	}
	return tr[code] + "\n" + hint
}

// rlm is the right-to-left mark.
const rlm = "\u200f"

// IsRTL reports whether a locale is written right to left.
func IsRTL(locale string) bool {
	switch locale {
	case "ar", "fa":
		return true
	}
	return false
}

// hasRTL reports whether s contains strong right-to-left characters.
func hasRTL(s string) bool {
	for _, r := range s {
		p, _ := bidi.LookupRune(r)
		switch p.Class() {
		case bidi.R, bidi.AL:
			return true
		}
	}
	return false
}

// applyDirection prefixes every line of RTL text with a right-to-left mark
// so clients that guess direction from the first strong character (often an
// emoji or a ticker) lay it out correctly.
func applyDirection(locale, text string) string {
	if !IsRTL(locale) || !hasRTL(text) {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if l != "" && !strings.HasPrefix(l, rlm) {
			lines[i] = rlm + l
		}
	}
	return strings.Join(lines, "\n")
}
