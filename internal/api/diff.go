package api

import (
	"github.com/manpreetbhatti/canvasflow/internal/apperr"
	"github.com/manpreetbhatti/canvasflow/internal/oplog"
)

// Upper bound on the LCS table (old x new ops left after trimming the
// shared prefix and suffix). Roughly 32 MB of ints.
var maxDiffCells = 4_000_000

// One operation in a diff between two histories
type DiffEntry struct {
	Type   string          `json:"type"` // "added", "removed", "unchanged"
	Op     oplog.Operation `json:"op"`
	OldIdx int             `json:"old_index,omitempty"`
	NewIdx int             `json:"new_index,omitempty"`
}

// LCS diff keyed on operation id. Histories that share most of their
// operations only pay for the part that differs.
func computeDiff(oldOps, newOps []oplog.Operation) ([]DiffEntry, error) {
	prefix := 0
	for prefix < len(oldOps) && prefix < len(newOps) && oldOps[prefix].ID == newOps[prefix].ID {
		prefix++
	}
	suffix := 0
	for suffix < len(oldOps)-prefix && suffix < len(newOps)-prefix &&
		oldOps[len(oldOps)-1-suffix].ID == newOps[len(newOps)-1-suffix].ID {
		suffix++
	}

	oldMid := oldOps[prefix : len(oldOps)-suffix]
	newMid := newOps[prefix : len(newOps)-suffix]
	if cells := (len(oldMid) + 1) * (len(newMid) + 1); cells > maxDiffCells {
		return nil, apperr.InvalidInput("checkpoints differ in too many operations to diff (%d x %d)", len(oldMid), len(newMid))
	}

	result := make([]DiffEntry, 0, len(oldOps)+len(newOps)-prefix-suffix)
	for k := 0; k < prefix; k++ {
		result = append(result, DiffEntry{Type: "unchanged", Op: newOps[k], OldIdx: k + 1, NewIdx: k + 1})
	}
	result = append(result, backtrackDiff(oldMid, newMid, lcsMatrix(oldMid, newMid), prefix)...)
	for k := suffix; k > 0; k-- {
		i, j := len(oldOps)-k, len(newOps)-k
		result = append(result, DiffEntry{Type: "unchanged", Op: newOps[j], OldIdx: i + 1, NewIdx: j + 1})
	}
	return result, nil
}

func lcsMatrix(a, b []oplog.Operation) [][]int {
	m, n := len(a), len(b)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1].ID == b[j-1].ID {
				dp[i][j] = dp[i-1][j-1] + 1
			} else {
				dp[i][j] = max(dp[i-1][j], dp[i][j-1])
			}
		}
	}
	return dp
}

// Indexes are 1-based so that zero can be omitted; offset shifts them
// past a trimmed prefix.
func backtrackDiff(oldOps, newOps []oplog.Operation, lcs [][]int, offset int) []DiffEntry {
	i, j := len(oldOps), len(newOps)

	var stack []DiffEntry
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && oldOps[i-1].ID == newOps[j-1].ID:
			stack = append(stack, DiffEntry{Type: "unchanged", Op: newOps[j-1], OldIdx: offset + i, NewIdx: offset + j})
			i--
			j--
		case j > 0 && (i == 0 || lcs[i][j-1] >= lcs[i-1][j]):
			stack = append(stack, DiffEntry{Type: "added", Op: newOps[j-1], NewIdx: offset + j})
			j--
		default:
			stack = append(stack, DiffEntry{Type: "removed", Op: oldOps[i-1], OldIdx: offset + i})
			i--
		}
	}

	result := make([]DiffEntry, 0, len(stack))
	for k := len(stack) - 1; k >= 0; k-- {
		result = append(result, stack[k])
	}
	return result
}
