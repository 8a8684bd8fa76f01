package main

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig"
)

const defaultFormat = `{{.Index | add1}}. {{.Title | trunc 48}}  {{.Elapsed}} / {{.Total}}  [{{.Loop}}]{{if .Paused}} paused{{end}}`

// status is the data available to --format.
type status struct {
	Index   int
	Title   string
	Tick    float64
	Length  int
	Notes   int
	Tempo   float64
	Loop    string
	Paused  bool
	Elapsed string
	Total   string
}

func newStatusTemplate(text string) (*template.Template, error) {
	return template.New("status").Funcs(sprig.TxtFuncMap()).Parse(text)
}

func renderStatus(t *template.Template, s status) (string, error) {
	if s.Tempo > 0 {
		s.Elapsed = clock(s.Tick / s.Tempo)
		s.Total = clock(float64(s.Length) / s.Tempo)
	}
	var b strings.Builder
	if err := t.Execute(&b, s); err != nil {
		return "", err
	}
	return strings.ReplaceAll(b.String(), "\n", " "), nil
}

func clock(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
