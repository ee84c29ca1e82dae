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

// Package plugin implements the optional use-case dispatch layer: each
// Plugin declares a name, a confidence-scoring CanHandle, and an Execute
// function; the Registry routes a query to the highest-scoring plugin
// above a threshold, falling through to the base Orchestrator otherwise.
// Startup-time enablement is explicit registration by the process wiring
// code — the registry itself never constructs a plugin from a name, so
// there is no reflection-style loading to go wrong at runtime.
package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Descriptor is a plugin's static metadata.
type Descriptor struct {
	Name                string   `json:"name"`
	Version             string   `json:"version"`
	UseCase             string   `json:"use_case"`
	Keywords            []string `json:"keywords"`
	Capabilities        []string `json:"capabilities"`
	RequiredDataSources []string `json:"required_data_sources"`
}

// Response is the result of a plugin handling a query.
type Response struct {
	AnswerText string `json:"answer_text"`
	Data       any    `json:"data,omitempty"`
	Success    bool   `json:"success"`
}

// Plugin is the contract every use-case specialization implements.
type Plugin interface {
	Descriptor() Descriptor
	CanHandle(ctx context.Context, query string, tenantID string) (confidence float64, err error)
	Execute(ctx context.Context, query string, tenantID string) (*Response, error)
	Examples() []string
}

// confidenceFloor is the routing threshold below which the registry falls
// through to the base Orchestrator.
const confidenceFloor = 0.3

// Registry is a pure dispatcher: it holds no state beyond the registered
// plugin set.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	order   []string
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin by its descriptor's unique Name. Duplicate names
// are rejected.
func (r *Registry) Register(p Plugin) error {
	name := p.Descriptor().Name
	if name == "" {
		return fmt.Errorf("plugin: descriptor name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin: %q is already registered", name)
	}
	r.plugins[name] = p
	r.order = append(r.order, name)
	return nil
}

// Get returns the plugin registered under name, if any.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// List returns descriptors for every registered plugin, in registration
// order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.plugins[name].Descriptor())
	}
	return out
}

// candidate pairs a plugin with its confidence for one routing decision.
type candidate struct {
	name       string
	confidence float64
}

// Route evaluates every registered plugin's CanHandle and returns the
// highest-scoring one whose confidence exceeds confidenceFloor. ok is
// false when no plugin clears the floor — the caller (the process wiring
// code) falls through to the base Orchestrator in that case.
func (r *Registry) Route(ctx context.Context, query, tenantID string) (p Plugin, confidence float64, ok bool) {
	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	plugins := make(map[string]Plugin, len(r.plugins))
	for k, v := range r.plugins {
		plugins[k] = v
	}
	r.mu.RUnlock()

	var candidates []candidate
	for _, name := range names {
		conf, err := plugins[name].CanHandle(ctx, query, tenantID)
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{name: name, confidence: conf})
	}

	if len(candidates) == 0 {
		return nil, 0, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].confidence > candidates[j].confidence
	})

	best := candidates[0]
	if best.confidence <= confidenceFloor {
		return nil, best.confidence, false
	}

	r.mu.RLock()
	winner := r.plugins[best.name]
	r.mu.RUnlock()
	return winner, best.confidence, true
}
