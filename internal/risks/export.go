package risks

import (
	"encoding/csv"
	"html/template"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var exportColumns = []string{
	"id", "title", "category", "status", "owner_id", "tolerance",
	"inherent_likelihood", "inherent_impact", "inherent_score", "inherent_level",
	"residual_likelihood", "residual_impact", "residual_score", "residual_level",
	"review_date", "review_overdue",
}

// exportHeader turns column keys into titled labels, e.g. "owner_id" into "Owner Id".
func exportHeader() []string {
	title := cases.Title(language.English)
	out := make([]string, len(exportColumns))
	for i, col := range exportColumns {
		out[i] = title.String(strings.ReplaceAll(col, "_", " "))
	}
	return out
}

// WriteCSV serialises the register as CSV.
func WriteCSV(w io.Writer, items []Risk) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(exportHeader()); err != nil {
		return err
	}
	for _, r := range items {
		row := []string{
			r.ID, r.Title, r.Category, r.Status, deref(r.OwnerID), r.Tolerance,
			strconv.Itoa(r.Inherent.Likelihood), strconv.Itoa(r.Inherent.Impact),
			strconv.Itoa(r.InherentScore), string(r.InherentLevel),
			"", "", "", "",
			r.ReviewDate.UTC().Format(time.DateOnly), strconv.FormatBool(r.ReviewOverdue),
		}
		if r.Residual != nil && r.ResidualScore != nil && r.ResidualLevel != nil {
			row[10] = strconv.Itoa(r.Residual.Likelihood)
			row[11] = strconv.Itoa(r.Residual.Impact)
			row[12] = strconv.Itoa(*r.ResidualScore)
			row[13] = string(*r.ResidualLevel)
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var registerTemplate = template.Must(template.New("register").Funcs(template.FuncMap{
	"date": func(t time.Time) string { return t.UTC().Format(time.DateOnly) },
}).Parse(`<!doctype html>
<html lang="en"><head><meta charset="utf-8"><title>Risk register</title>
<style>
body{font-family:sans-serif;font-size:11px;color:#111827}
table{border-collapse:collapse;width:100%}
th,td{border:1px solid #d1d5db;padding:4px 6px;text-align:left}
th{background:#f3f4f6}
.low{background:#dcfce7}.medium{background:#fef9c3}.high{background:#ffedd5}.critical{background:#fee2e2}
.overdue{color:#b91c1c;font-weight:bold}
</style></head><body>
<h1>Risk register</h1>
<p>Generated {{date .GeneratedAt}}. {{len .Items}} risks.</p>
<table>
<thead><tr><th>Title</th><th>Category</th><th>Status</th><th>Inherent</th><th>Residual</th><th>Review</th></tr></thead>
<tbody>
{{range .Items}}<tr>
<td>{{.Title}}</td><td>{{.Category}}</td><td>{{.Status}}</td>
<td class="{{.InherentLevel}}">{{.InherentScore}} {{.InherentLevel}}</td>
{{if .ResidualLevel}}<td class="{{.ResidualLevel}}">{{.ResidualScore}} {{.ResidualLevel}}</td>{{else}}<td></td>{{end}}
<td{{if .ReviewOverdue}} class="overdue"{{end}}>{{date .ReviewDate}}</td>
</tr>{{end}}
</tbody></table>
</body></html>`))

// WriteHTML renders the register as a printable HTML document.
func WriteHTML(w io.Writer, items []Risk, generatedAt time.Time) error {
	return registerTemplate.Execute(w, struct {
		Items       []Risk
		GeneratedAt time.Time
	}{Items: items, GeneratedAt: generatedAt})
}
