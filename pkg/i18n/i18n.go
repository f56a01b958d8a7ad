// Package i18n translates the browser-facing result pages.
package i18n

import (
	"net/http"
	"strings"
)

// Language represents a supported language
type Language string

const (
	English  Language = "en"
	Japanese Language = "ja"
)

// DefaultLanguage is the fallback language
const DefaultLanguage = English

// Theme represents a UI theme
type Theme string

const (
	ThemeAuto  Theme = "auto"
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// DefaultTheme is the fallback theme
const DefaultTheme = ThemeAuto

// Translation maps message keys to text.
type Translation map[string]string

// Translations holds all language translations
type Translations map[Language]Translation

// Translator looks up page text by language.
type Translator struct {
	translations Translations
}

func NewTranslator() *Translator {
	return &Translator{translations: defaultTranslations}
}

// T translates key, falling back to DefaultLanguage and then to the key.
func (t *Translator) T(lang Language, key string) string {
	if trans, ok := t.translations[lang]; ok {
		if text, ok := trans[key]; ok {
			return text
		}
	}
	if trans, ok := t.translations[DefaultLanguage]; ok {
		if text, ok := trans[key]; ok {
			return text
		}
	}
	return key
}

// DetectLanguage reads the lang query parameter, then the lang cookie, then
// the first Accept-Language entry.
func DetectLanguage(r *http.Request) Language {
	if lang := r.URL.Query().Get("lang"); lang != "" {
		return normalizeLanguage(lang)
	}
	if cookie, err := r.Cookie("lang"); err == nil {
		return normalizeLanguage(cookie.Value)
	}
	if accept := r.Header.Get("Accept-Language"); accept != "" {
		first := strings.Split(accept, ",")[0]
		return normalizeLanguage(strings.Split(first, ";")[0])
	}
	return DefaultLanguage
}

func normalizeLanguage(lang string) Language {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if len(lang) > 2 {
		lang = lang[:2] // en-US, ja-JP
	}
	switch lang {
	case "ja":
		return Japanese
	case "en":
		return English
	default:
		return DefaultLanguage
	}
}

// DetectTheme reads the theme query parameter, then the theme cookie.
func DetectTheme(r *http.Request) Theme {
	if theme := r.URL.Query().Get("theme"); theme != "" {
		return normalizeTheme(theme)
	}
	if cookie, err := r.Cookie("theme"); err == nil {
		return normalizeTheme(cookie.Value)
	}
	return DefaultTheme
}

func normalizeTheme(theme string) Theme {
	switch Theme(strings.ToLower(strings.TrimSpace(theme))) {
	case ThemeLight:
		return ThemeLight
	case ThemeDark:
		return ThemeDark
	default:
		return ThemeAuto
	}
}

var defaultTranslations = Translations{
	English: Translation{
		"success.title":     "Authentication Successful",
		"success.heading":   "Authentication Successful!",
		"success.body":      "You have been successfully authenticated.",
		"success.body_user": "You have been successfully authenticated as %s.",
		"success.close":     "You can now close this window and return to Figma.",

		"failure.title":   "Authentication Failed",
		"failure.heading": "Authentication Failed",
		"failure.body":    "There was an error during authentication.",
		"failure.close":   "Please close this window and try again.",
	},

	Japanese: Translation{
		"success.title":     "認証に成功しました",
		"success.heading":   "認証に成功しました！",
		"success.body":      "認証が完了しました。",
		"success.body_user": "%s として認証されました。",
		"success.close":     "このウィンドウを閉じて Figma に戻ってください。",

		"failure.title":   "認証に失敗しました",
		"failure.heading": "認証に失敗しました",
		"failure.body":    "認証中にエラーが発生しました。",
		"failure.close":   "このウィンドウを閉じて、もう一度お試しください。",
	},
}
