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

package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOpensAfterThresholdConsecutiveFailures(t *testing.T) {
	b := New(5, 60*time.Second, 1)

	for i := 0; i < 4; i++ {
		assert.True(t, b.Allow())
		b.RecordFailure()
		assert.Equal(t, Closed, b.State())
	}

	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.Equal(t, Open, b.State())
}

func TestRejectsWhileOpenWithinRecoveryWindow(t *testing.T) {
	b := New(1, 60*time.Second, 1)
	b.RecordFailure()
	require := assert.New(t)
	require.Equal(Open, b.State())
	require.False(b.Allow())
}

func TestTransitionsToHalfOpenAfterRecoveryWindow(t *testing.T) {
	b := New(1, 10*time.Millisecond, 1)
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	assert.True(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())
}

func TestHalfOpenCapsInflightTrialCalls(t *testing.T) {
	b := New(1, 10*time.Millisecond, 1)
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	assert.True(t, b.Allow())
	assert.False(t, b.Allow(), "second concurrent trial should be rejected while cap is 1")
}

func TestHalfOpenSuccessClosesCircuit(t *testing.T) {
	b := New(1, 10*time.Millisecond, 1)
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	b.Allow()
	b.RecordSuccess()

	assert.Equal(t, Closed, b.State())
	assert.True(t, b.Allow())
}

func TestHalfOpenFailureReopensCircuit(t *testing.T) {
	b := New(1, 10*time.Millisecond, 1)
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)

	b.Allow()
	b.RecordFailure()

	assert.Equal(t, Open, b.State())
	assert.False(t, b.Allow())
}

func TestClosedSuccessResetsFailureCounter(t *testing.T) {
	b := New(3, 60*time.Second, 1)
	b.Allow()
	b.RecordFailure()
	b.Allow()
	b.RecordFailure()
	b.Allow()
	b.RecordSuccess()

	for i := 0; i < 2; i++ {
		b.Allow()
		b.RecordFailure()
	}
	assert.Equal(t, Closed, b.State(), "counter should have reset on the earlier success")
}
