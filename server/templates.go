package server

import (
	"embed"
	"html/template"
	"io/fs"
)

//go:embed templates/*
var templateFiles embed.FS

// templatesFS strips the embed prefix so templates are addressed by their
// bare file name, matching the teacher's file_template_handlers.go pattern.
func templatesFS() fs.FS {
	sub, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		panic("server: failed to create templates sub filesystem: " + err.Error())
	}
	return sub
}

// templates holds every page the browser flow renders, parsed once at
// startup so a malformed template fails fast instead of mid-request.
type templates struct {
	login      *template.Template
	callback   *template.Template
	selectTeam *template.Template
}

func mustParseTemplates() *templates {
	return &templates{
		login:      template.Must(template.ParseFS(templatesFS(), "login.html")),
		callback:   template.Must(template.ParseFS(templatesFS(), "callback.html")),
		selectTeam: template.Must(template.ParseFS(templatesFS(), "select_team.html")),
	}
}
