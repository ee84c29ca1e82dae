// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package analyticsstore is the thin SQL client the Query and Analytics
// agents use to reach the real-time columnar analytics engine: a pooled
// database/sql connection narrowed to a read-only Execute surface, plus
// a static schema descriptor the Query Agent needs to prompt an NL→SQL
// generation call.
package analyticsstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	cerrors "crisisintake/core/internal/errors"
)

// SemanticType is the closed set of column semantic tags the schema
// descriptor uses.
type SemanticType string

const (
	TypeID          SemanticType = "id"
	TypeTimestampMs SemanticType = "timestamp_ms"
	TypeCategorical SemanticType = "categorical"
	TypeNumeric     SemanticType = "numeric"
	TypeBoolean     SemanticType = "boolean"
)

// Column describes one column's name and semantic type.
type Column struct {
	Name string       `json:"name"`
	Type SemanticType `json:"type"`
}

// Schema is the descriptor supplied to the Query Agent's NL→SQL prompt.
type Schema struct {
	Table   string   `json:"table"`
	Columns []Column `json:"columns"`
}

// CrisisEventsSchema is the fixed schema of the crisis-intake event stream
// table this platform's agents reason over. The streaming ingest
// pipeline that populates it lives outside this process; this descriptor
// only needs to stay in sync with the columns it writes.
var CrisisEventsSchema = Schema{
	Table: "crisis_events",
	Columns: []Column{
		{Name: "event_id", Type: TypeID},
		{Name: "event_time_ms", Type: TypeTimestampMs},
		{Name: "county", Type: TypeCategorical},
		{Name: "channel", Type: TypeCategorical},
		{Name: "risk_level", Type: TypeCategorical},
		{Name: "suicidal_ideation", Type: TypeBoolean},
		{Name: "homicidal_ideation", Type: TypeBoolean},
		{Name: "substance_use", Type: TypeBoolean},
	},
}

// Row is one result row keyed by column name.
type Row map[string]any

// Store executes read-only SQL against the analytics store.
type Store struct {
	db *sql.DB
}

// Open connects to the analytics store at dsn. It mirrors
// PostgresConnector.Connect's pool sizing and ping-on-connect behavior.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, cerrors.New(cerrors.KindInternal, "analyticsstore", "open", "failed to open connection", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, cerrors.New(cerrors.KindData, "analyticsstore", "open", "failed to ping analytics store", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open *sql.DB, used by tests against sqlmock.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Execute runs a single SQL statement and returns its rows as maps.
// []byte column values are coerced to string so text columns come back
// readable.
func (s *Store) Execute(ctx context.Context, sqlText string, timeout time.Duration) ([]Row, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rows, err := s.db.QueryContext(queryCtx, sqlText)
	if err != nil {
		return nil, cerrors.New(cerrors.KindData, "analyticsstore", "execute", "query execution failed", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, cerrors.New(cerrors.KindData, "analyticsstore", "execute", "failed to read columns", err)
	}

	var results []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, cerrors.New(cerrors.KindData, "analyticsstore", "execute", "failed to scan row", err)
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, cerrors.New(cerrors.KindData, "analyticsstore", "execute", "error during row iteration", err)
	}

	return results, nil
}

// Describe renders the schema descriptor as the compact text block the
// Query Agent embeds in its NL→SQL prompt.
func (s Schema) Describe() string {
	out := fmt.Sprintf("table %s(", s.Table)
	for i, c := range s.Columns {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s:%s", c.Name, c.Type)
	}
	return out + ")"
}
