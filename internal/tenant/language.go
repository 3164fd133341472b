package tenant

import "strings"

// supportedLanguageCodes is the set of BCP-47 codes the realtime speech API
// accepts, per https://ai.google.dev/gemini-api/docs/live-guide#supported-languages.
var supportedLanguageCodes = []string{
	"de-DE", "en-AU", "en-GB", "en-IN", "en-US", "es-US", "fr-FR",
	"hi-IN", "pt-BR", "ar-XA", "es-ES", "fr-CA", "id-ID", "it-IT",
	"ja-JP", "tr-TR", "vi-VN", "bn-IN", "gu-IN", "kn-IN", "mr-IN",
	"ml-IN", "ta-IN", "te-IN", "nl-NL", "ko-KR", "cmn-CN", "pl-PL",
	"ru-RU", "th-TH",
}

// languageNames maps normalized human language names (and ISO shorthands) to
// BCP-47 codes. Region-qualified names get their own entries; bare names map
// to the most common deployment region.
var languageNames = map[string]string{
	"english": "en-US", "en": "en-US", "eng": "en-US",
	"english (us)": "en-US", "english (uk)": "en-GB",
	"english (australia)": "en-AU", "english (india)": "en-IN",

	"hindi": "hi-IN", "hi": "hi-IN", "hin": "hi-IN", "hindi (india)": "hi-IN",
	"telugu": "te-IN", "te": "te-IN", "tel": "te-IN", "telugu (india)": "te-IN",
	"tamil": "ta-IN", "ta": "ta-IN", "tam": "ta-IN", "tamil (india)": "ta-IN",
	"bengali": "bn-IN", "bn": "bn-IN", "ben": "bn-IN", "bengali (india)": "bn-IN",
	"marathi": "mr-IN", "mr": "mr-IN", "mar": "mr-IN", "marathi (india)": "mr-IN",
	"gujarati": "gu-IN", "gu": "gu-IN", "guj": "gu-IN", "gujarati (india)": "gu-IN",
	"kannada": "kn-IN", "kn": "kn-IN", "kan": "kn-IN", "kannada (india)": "kn-IN",
	"malayalam": "ml-IN", "ml": "ml-IN", "mal": "ml-IN", "malayalam (india)": "ml-IN",

	"spanish": "es-ES", "es": "es-ES", "esp": "es-ES",
	"spanish (spain)": "es-ES", "spanish (us)": "es-US",
	"french": "fr-FR", "fr": "fr-FR", "fre": "fr-FR",
	"french (france)": "fr-FR", "french (canada)": "fr-CA",
	"german": "de-DE", "de": "de-DE", "ger": "de-DE", "german (germany)": "de-DE",
	"portuguese": "pt-BR", "pt": "pt-BR", "por": "pt-BR", "portuguese (brazil)": "pt-BR",
	"arabic": "ar-XA", "ar": "ar-XA", "ara": "ar-XA", "arabic (generic)": "ar-XA",
	"indonesian": "id-ID", "id": "id-ID", "ind": "id-ID", "indonesian (indonesia)": "id-ID",
	"italian": "it-IT", "it": "it-IT", "ita": "it-IT", "italian (italy)": "it-IT",
	"japanese": "ja-JP", "ja": "ja-JP", "jpn": "ja-JP", "japanese (japan)": "ja-JP",
	"korean": "ko-KR", "ko": "ko-KR", "kor": "ko-KR", "korean (south korea)": "ko-KR",
	"turkish": "tr-TR", "tr": "tr-TR", "tur": "tr-TR", "turkish (turkey)": "tr-TR",
	"vietnamese": "vi-VN", "vi": "vi-VN", "vie": "vi-VN", "vietnamese (vietnam)": "vi-VN",
	"dutch": "nl-NL", "nl": "nl-NL", "dut": "nl-NL", "dutch (netherlands)": "nl-NL",
	"chinese": "cmn-CN", "mandarin": "cmn-CN", "cmn": "cmn-CN",
	"mandarin chinese": "cmn-CN", "mandarin chinese (china)": "cmn-CN",
	"polish": "pl-PL", "pl": "pl-PL", "pol": "pl-PL", "polish (poland)": "pl-PL",
	"russian": "ru-RU", "ru": "ru-RU", "rus": "ru-RU", "russian (russia)": "ru-RU",
	"thai": "th-TH", "th": "th-TH", "tha": "th-TH", "thai (thailand)": "th-TH",
}

// LanguageCode maps a human language name (in any casing, e.g. "Telugu" or
// "Hindi (India)") or an existing BCP-47 code to the canonical code the
// realtime speech API supports. Unknown or empty input maps to "en-US".
func LanguageCode(language string) string {
	normalized := strings.ToLower(strings.TrimSpace(language))
	if normalized == "" {
		return "en-US"
	}
	if code, ok := languageNames[normalized]; ok {
		return code
	}
	for _, code := range supportedLanguageCodes {
		if normalized == strings.ToLower(code) {
			return code
		}
	}
	return "en-US"
}

// SupportedLanguageCode reports whether code is accepted by the realtime
// speech API as-is.
func SupportedLanguageCode(code string) bool {
	for _, c := range supportedLanguageCodes {
		if c == code {
			return true
		}
	}
	return false
}
