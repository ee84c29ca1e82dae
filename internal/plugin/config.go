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

package plugin

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EnablementFile is the static YAML config naming which plugins the
// process wiring code should construct and register at startup. The
// config only *names* plugins to enable — it never constructs them;
// construction stays an explicit Go call site.
type EnablementFile struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Plugins    []EnablementSpec `yaml:"plugins"`
}

// EnablementSpec names one plugin and whether it should be registered.
type EnablementSpec struct {
	Name    string `yaml:"name"`
	Enabled bool   `yaml:"enabled"`
}

// LoadEnablementFile reads and parses an EnablementFile from path.
func LoadEnablementFile(path string) (*EnablementFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read enablement file %q: %w", path, err)
	}

	var f EnablementFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("plugin: parse enablement file %q: %w", path, err)
	}
	return &f, nil
}

// Enabled reports whether name is marked enabled in the file. A name absent
// from the file is treated as disabled, fails closed like every other flag
// in this platform.
func (f *EnablementFile) Enabled(name string) bool {
	if f == nil {
		return false
	}
	for _, p := range f.Plugins {
		if p.Name == name {
			return p.Enabled
		}
	}
	return false
}
