package harness

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/fxnlabs/fastmatrix/internal/engine"
	"github.com/fxnlabs/fastmatrix/internal/kernels"
	"github.com/fxnlabs/fastmatrix/internal/matrix"
)

type Verdict string

const (
	Pass Verdict = "pass"
	Fail Verdict = "fail"
)

func verdictOf(ok bool) Verdict {
	if ok {
		return Pass
	}
	return Fail
}

// Check names how a result was validated.
type Check string

const (
	CheckExact     Check = "exact"
	CheckTolerance Check = "tolerance"
	CheckFreivalds Check = "freivalds"
)

// Variant is the outcome of one kernel variant.
type Variant struct {
	Variant kernels.Op `json:"variant"`
	Kernel  string     `json:"kernel"`
	// Min is the smallest element of the result.
	Min float64 `json:"min"`
	// Elapsed is the kernel time averaged over all repetitions.
	Elapsed    time.Duration `json:"elapsed"`
	Timing     engine.Timing `json:"timing"`
	GFLOPS     float64       `json:"gflops,omitempty"`
	Check      Check         `json:"check"`
	Verdict    Verdict       `json:"verdict"`
	Mismatches int           `json:"mismatches"`
	MaxAbsDiff float64       `json:"maxAbsDiff"`
	Digest     string        `json:"digest"`
}

// Agreement compares the naive and tiled multiply results with each other.
type Agreement struct {
	Variants   [2]kernels.Op `json:"variants"`
	Verdict    Verdict       `json:"verdict"`
	Mismatches int           `json:"mismatches"`
	MaxAbsDiff float64       `json:"maxAbsDiff"`
}

type Report struct {
	Operation   kernels.Op `json:"operation"`
	DType       string     `json:"dtype"`
	Order       string     `json:"order"`
	Shape       string     `json:"shape"`
	Seed        int64      `json:"seed"`
	Repetitions int        `json:"repetitions"`
	Variants    []Variant  `json:"variants"`
	Agreement   *Agreement `json:"agreement,omitempty"`
	Passed      bool       `json:"passed"`
}

func (r *Report) failures() int {
	n := 0
	for _, v := range r.Variants {
		if v.Verdict != Pass {
			n++
		}
	}
	if r.Agreement != nil && r.Agreement.Verdict != Pass {
		n++
	}
	return n
}

// Digest is the sha256 of a result's element bytes in storage order.
func Digest(m matrix.Host) string {
	return fmt.Sprintf("0x%x", sha256.Sum256(m.Bytes()))
}

// GFLOPS is the multiply throughput for one n×k×m product taking d.
func GFLOPS(n, k, m int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return 2 * float64(n) * float64(k) * float64(m) / d.Seconds() / 1e9
}
