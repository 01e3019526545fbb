// Package report serializes a ranked grouping.
//
// Text format (the default):
//
//	<number of groups with more than one member>
//	Группа 1
//	<member line>
//	...
//	Группа 2
//	...
//
// Every group is written, singletons included; only the leading count is
// restricted to multi-member groups.
package report

import (
	"bufio"
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"strconv"
)

// GroupHeader prefixes the 1-based group number in the text format.
const GroupHeader = "Группа"

// Formats.
const (
	FormatText = "text"
	FormatHTML = "html"
)

// Result is what a report renders.
type Result struct {
	MultiCount int
	Groups     [][]string
}

// OutputPath returns the report path for input: a file named result.txt
// (result.html for the html format) in the input's directory.
func OutputPath(input, format string) string {
	name := "result.txt"
	if format == FormatHTML {
		name = "result.html"
	}
	return filepath.Join(filepath.Dir(input), name)
}

// Write renders res to w in the given format.
func Write(w io.Writer, format string, res Result) error {
	switch format {
	case "", FormatText:
		return WriteText(w, res)
	case FormatHTML:
		return WriteHTML(w, res)
	default:
		return fmt.Errorf("report: unsupported format %q", format)
	}
}

// WriteText renders the text format. Member lines are written verbatim.
func WriteText(w io.Writer, res Result) error {
	bw := bufio.NewWriterSize(w, 64*1024)

	bw.WriteString(strconv.Itoa(res.MultiCount))
	bw.WriteByte('\n')
	for i, g := range res.Groups {
		bw.WriteString(GroupHeader)
		bw.WriteByte(' ')
		bw.WriteString(strconv.Itoa(i + 1))
		bw.WriteByte('\n')
		for _, m := range g {
			bw.WriteString(m)
			bw.WriteByte('\n')
		}
	}

	// bufio.Writer keeps the first write error; Flush returns it.
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("report: write: %w", err)
	}
	return nil
}

var htmlTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`<!DOCTYPE html>
<html lang="ru">
<head>
<meta charset="utf-8">
<title>Группы</title>
</head>
<body>
<p class="multi-count">{{.MultiCount}}</p>
{{range $i, $g := .Groups}}<section class="group" data-size="{{len $g}}">
<h2>` + GroupHeader + ` {{inc $i}}</h2>
<ol>
{{range $g}}<li>{{.}}</li>
{{end}}</ol>
</section>
{{end}}</body>
</html>
`))

// WriteHTML renders a standalone HTML page with one section per group.
func WriteHTML(w io.Writer, res Result) error {
	bw := bufio.NewWriterSize(w, 64*1024)
	if err := htmlTmpl.Execute(bw, res); err != nil {
		return fmt.Errorf("report: render html: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("report: write: %w", err)
	}
	return nil
}
