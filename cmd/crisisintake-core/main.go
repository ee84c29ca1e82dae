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

// Package main is the entry point for the crisis-intake reasoning core.
//
// This binary wires the core's process-wide singletons (Model Gateway,
// Retrieval Service, specialist agents, Orchestrator) and drives a single
// process_request call against a query given on the command line. The
// HTTP surface, streaming ingest pipeline, and dashboard UI are external
// collaborators and are not part of this binary.
//
// Usage:
//
//	crisisintake-core "How many high-risk events in the last hour?"
//
// Environment Variables: see internal/config for the full set of
// recognized flags and numeric knobs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"crisisintake/core/internal/app"
	"crisisintake/core/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: crisisintake-core <query>")
		os.Exit(2)
	}
	query := strings.Join(os.Args[1:], " ")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	a, err := app.New(cfg, nil)
	if err != nil {
		log.Fatalf("app: %v", err)
	}
	defer a.Close()

	envelope, _ := a.Orchestrator.ProcessRequest(context.Background(), query, "cli", "default", "")

	out, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		log.Fatalf("marshal response: %v", err)
	}
	fmt.Println(string(out))

	if !envelope.Success {
		os.Exit(1)
	}
}
