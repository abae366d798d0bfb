package pkgbuild

import (
	"strings"
	"text/template"
)

//nolint:gochecknoglobals // Parsed once; templates are immutable after init.
var (
	funcs = template.FuncMap{
		"squote":     singleQuote,
		"squoteList": singleQuoteList,
		"dquote":     escapeDoubleQuoted,
	}

	manifestTemplate = template.Must(template.New(ManifestFilename).Funcs(funcs).Parse(
		`{{ with .Maintainer }}# Maintainer: {{ . }}
{{ end }}pkgname={{ .Name }}
pkgver={{ .Version }}
pkgrel={{ .Release }}
pkgdesc={{ squote .Description }}
arch=({{ squoteList .Arch }})
url={{ squote .Homepage }}
{{- with .License }}
license=({{ squoteList . }})
{{- end }}
depends=({{ squoteList .Depends }})
source=("{{ .FileTemplate }}::{{ dquote .SourceURL }}")
sha256sums=({{ squote .Digest }})

package() {
    install -Dm644 "${srcdir}/{{ dquote .InstallSource }}" "${pkgdir}/{{ dquote .InstallPath }}"
}
`))

	metadataTemplate = template.Must(template.New(MetadataFilename).Funcs(funcs).Parse(
		`pkgbase = {{ .Name }}
{{- with .Description }}
	pkgdesc = {{ . }}
{{- end }}
	pkgver = {{ .Version }}
	pkgrel = {{ .Release }}
{{- with .Homepage }}
	url = {{ . }}
{{- end }}
{{- range .Arch }}
	arch = {{ . }}
{{- end }}
{{- range .License }}
	license = {{ . }}
{{- end }}
{{- range .Depends }}
	depends = {{ . }}
{{- end }}
	source = {{ .FileName }}::{{ .SourceURL }}
	sha256sums = {{ .Digest }}

pkgname = {{ .Name }}
`))
)

// singleQuote quotes s for a shell word; nothing inside is expanded.
func singleQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func singleQuoteList(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, item := range items {
		quoted = append(quoted, singleQuote(item))
	}

	return strings.Join(quoted, " ")
}

// escapeDoubleQuoted escapes the characters that stay special inside double quotes.
func escapeDoubleQuoted(s string) string {
	var builder strings.Builder

	builder.Grow(len(s))

	for _, r := range s {
		switch r {
		case '\\', '$', '"', '`':
			builder.WriteRune('\\')
		}

		builder.WriteRune(r)
	}

	return builder.String()
}
