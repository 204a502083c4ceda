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
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/easyride/taxreport/internal/models"
)

var csvHeader = []string{"Datum", "Betreff", "Absender", "Transaktionsdatum", "Betrag"}

// WriteCSV writes one row per record below a header row. Datum is the
// received date in loc (UTC when nil); missing values are written as empty
// cells.
func WriteCSV(w io.Writer, records []models.EmailRecord, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, rec := range records {
		row := []string{"", rec.Subject, rec.Sender, "", ""}
		if !rec.ReceivedAt.IsZero() {
			row[0] = rec.ReceivedAt.In(loc).Format("02.01.2006")
		}
		if rec.HasDate() {
			row[3] = *rec.TransactionDate
		}
		if rec.HasAmount() {
			row[4] = *rec.Amount
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", rec.ID, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
