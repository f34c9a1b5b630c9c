package orchestrator

// Language is a supported translation language.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Flag string `json:"flag"`
}

// SupportedLanguages is the translation allow-list, ordered for display.
var SupportedLanguages = []Language{
	{Code: "en", Name: "English", Flag: "\U0001F1FA\U0001F1F8"},
	{Code: "es", Name: "Spanish", Flag: "\U0001F1EA\U0001F1F8"},
	{Code: "fr", Name: "French", Flag: "\U0001F1EB\U0001F1F7"},
	{Code: "de", Name: "German", Flag: "\U0001F1E9\U0001F1EA"},
	{Code: "it", Name: "Italian", Flag: "\U0001F1EE\U0001F1F9"},
	{Code: "pt", Name: "Portuguese", Flag: "\U0001F1F5\U0001F1F9"},
	{Code: "ru", Name: "Russian", Flag: "\U0001F1F7\U0001F1FA"},
	{Code: "ja", Name: "Japanese", Flag: "\U0001F1EF\U0001F1F5"},
	{Code: "ko", Name: "Korean", Flag: "\U0001F1F0\U0001F1F7"},
	{Code: "zh", Name: "Chinese", Flag: "\U0001F1E8\U0001F1F3"},
	{Code: "ar", Name: "Arabic", Flag: "\U0001F1F8\U0001F1E6"},
	{Code: "hi", Name: "Hindi", Flag: "\U0001F1EE\U0001F1F3"},
}

var supportedCodes = func() map[string]struct{} {
	m := make(map[string]struct{}, len(SupportedLanguages))
	for _, l := range SupportedLanguages {
		m[l.Code] = struct{}{}
	}
	return m
}()

// IsSupported reports whether the language code is in the allow-list.
func IsSupported(code string) bool {
	_, ok := supportedCodes[code]
	return ok
}
