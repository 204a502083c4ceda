// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package report

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/easyride/taxreport/internal/models"
)

// receivedLayout renders as DD.MM.YYYY HH:mm.
const receivedLayout = "02.01.2006 15:04"

var documentTemplate = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html lang="de">
<head>
<meta charset="utf-8">
<title>{{.Subject}}</title>
<style>
@page { size: A4; margin: 15mm; }
body { font-family: Arial, Helvetica, sans-serif; font-size: 10pt; color: #222; margin: 0; }
.receipt-header { background: #f2f2f2; border-bottom: 2px solid #eb0000; padding: 8px 10px; margin-bottom: 14px; }
.receipt-header h1 { font-size: 13pt; margin: 0 0 6px 0; }
.receipt-header table { border-collapse: collapse; }
.receipt-header td { padding: 1px 14px 1px 0; vertical-align: top; }
.receipt-header td.label { color: #555; white-space: nowrap; }
.receipt-body img { max-width: 100%; height: auto; }
.receipt-body table { max-width: 100%; }
</style>
</head>
<body>
<div class="receipt-header">
<h1>{{.Subject}}</h1>
<table>
<tr><td class="label">Von</td><td>{{.Sender}}</td></tr>
<tr><td class="label">Empfangen</td><td>{{.Received}}</td></tr>
{{- if .TransactionDate}}
<tr><td class="label">Transaktionsdatum</td><td>{{.TransactionDate}}</td></tr>
{{- end}}
{{- if .Amount}}
<tr><td class="label">Betrag</td><td>CHF {{.Amount}}</td></tr>
{{- end}}
</table>
</div>
<div class="receipt-body">
{{.Body}}
</div>
</body>
</html>
`))

type documentData struct {
	Subject         string
	Sender          string
	Received        string
	TransactionDate string
	Amount          string
	// Body is the message's own markup and is not escaped.
	Body template.HTML
}

// composeDocument builds the self-contained HTML page for one email. The
// header fields are escaped; body is inserted as-is.
func composeDocument(rec models.EmailRecord, body string, loc *time.Location) ([]byte, error) {
	data := documentData{
		Subject: rec.Subject,
		Sender:  rec.Sender,
		Body:    template.HTML(body),
	}
	if !rec.ReceivedAt.IsZero() {
		data.Received = rec.ReceivedAt.In(loc).Format(receivedLayout)
	}
	if rec.HasDate() {
		data.TransactionDate = *rec.TransactionDate
	}
	if rec.HasAmount() {
		data.Amount = *rec.Amount
	}

	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute document template: %w", err)
	}
	return buf.Bytes(), nil
}
