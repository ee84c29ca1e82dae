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

package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Sink appends a single JSON-encoded event line. Implementations must make
// each Write atomic with respect to other Writes.
type Sink interface {
	Write(event map[string]any) error
}

// StdoutSink writes one JSON line per event to standard output.
type StdoutSink struct {
	mu sync.Mutex
}

// NewStdoutSink creates a sink that writes to os.Stdout.
func NewStdoutSink() *StdoutSink {
	return &StdoutSink{}
}

func (s *StdoutSink) Write(event map[string]any) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = fmt.Fprintln(os.Stdout, string(line))
	return err
}

// FileSink appends one JSON line per event to a configured path.
type FileSink struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// NewFileSink opens (creating if necessary) the file at path for append-only
// writes. Each Write call is serialized to guarantee one atomic line per
// event, matching the "appends a line atomically per event" sink contract.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open sink file %q: %w", path, err)
	}
	return &FileSink{path: path, f: f}, nil
}

func (s *FileSink) Write(event map[string]any) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.f.Write(append(line, '\n'))
	return err
}

// Close releases the underlying file handle.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// noopSink discards all events. Used when PlatformEnabled is false.
type noopSink struct{}

func (noopSink) Write(map[string]any) error { return nil }
