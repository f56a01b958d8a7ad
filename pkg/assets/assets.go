// Package assets embeds the browser-facing result pages and their
// stylesheet and icons.
package assets

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/ideamans/plugingate/pkg/i18n"
)

//go:embed static/styles.css
var embeddedCSS string

// GetEmbeddedCSS returns the embedded CSS content
func GetEmbeddedCSS() string {
	return embeddedCSS
}

//go:embed static/icons/*.svg
var embeddedIcons embed.FS

// GetEmbeddedIcons returns the embedded icons filesystem
func GetEmbeddedIcons() embed.FS {
	return embeddedIcons
}

//go:embed templates/*.html
var embeddedTemplates embed.FS

// Page names accepted by Pages.Render.
const (
	PageSuccess = "success"
	PageFailure = "failure"
)

// PageData is passed to every page template.
type PageData struct {
	ServiceName string
	// User is shown on the success page when set.
	User  string
	Lang  i18n.Language // DefaultLanguage when empty
	Theme i18n.Theme    // DefaultTheme when empty
}

type pageMeta struct {
	class string
	icon  string
}

var pageMetas = map[string]pageMeta{
	PageSuccess: {class: "success", icon: "check.svg"},
	PageFailure: {class: "failure", icon: "cross.svg"},
}

// Pages holds the parsed result pages.
type Pages struct {
	templates  map[string]*template.Template
	translator *i18n.Translator
}

// LoadPages parses every page against the shared layout.
func LoadPages() (*Pages, error) {
	p := &Pages{
		templates:  make(map[string]*template.Template, len(pageMetas)),
		translator: i18n.NewTranslator(),
	}
	for name := range pageMetas {
		t, err := template.ParseFS(embeddedTemplates, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("assets: parse %s page: %w", name, err)
		}
		p.templates[name] = t
	}
	return p, nil
}

// pageView is what the templates see.
type pageView struct {
	PageData
	Class string
	Icon  string

	translator *i18n.Translator
}

// T returns the page text for key in the page's language.
func (v pageView) T(key string) string {
	return v.translator.T(v.Lang, key)
}

// UserLine is the success sentence with the escaped user name in bold.
func (v pageView) UserLine() template.HTML {
	if v.User == "" {
		return template.HTML(template.HTMLEscapeString(v.T("success.body")))
	}
	user := "<strong>" + template.HTMLEscapeString(v.User) + "</strong>"
	return template.HTML(fmt.Sprintf(template.HTMLEscapeString(v.T("success.body_user")), user))
}

// Render writes the named page.
func (p *Pages) Render(w io.Writer, name string, data PageData) error {
	t, ok := p.templates[name]
	if !ok {
		return fmt.Errorf("assets: unknown page %q", name)
	}
	if data.Lang == "" {
		data.Lang = i18n.DefaultLanguage
	}
	if data.Theme == "" {
		data.Theme = i18n.DefaultTheme
	}
	meta := pageMetas[name]
	return t.ExecuteTemplate(w, "layout", pageView{
		PageData:   data,
		Class:      meta.class,
		Icon:       meta.icon,
		translator: p.translator,
	})
}
