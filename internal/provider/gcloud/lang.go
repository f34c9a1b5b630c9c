package gcloud

// Regional language codes for the Google Cloud speech APIs. Requests use
// bare ISO 639-1 codes; the APIs want a BCP-47 locale.
var languageCodes = map[string]string{
	"en": "en-US",
	"es": "es-ES",
	"fr": "fr-FR",
	"de": "de-DE",
	"it": "it-IT",
	"pt": "pt-BR",
	"ru": "ru-RU",
	"ja": "ja-JP",
	"ko": "ko-KR",
	"zh": "zh-CN",
	"ar": "ar-XA",
	"hi": "hi-IN",
}

// LanguageCode maps a bare language code to its BCP-47 locale, defaulting
// to en-US for unknown codes.
func LanguageCode(lang string) string {
	if code, ok := languageCodes[lang]; ok {
		return code
	}
	return "en-US"
}
