// Package diff produces a unified diff between two strings, used by the
// operator debug console's run comparison. A line-level LCS algorithm
// underlies GeneratePatch.
package diff

import (
	"fmt"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// Hunk represents a group of changes with context.
type Hunk struct {
	origStart, origEnd int
	newStart, newEnd   int
}

// Point represents a position in the LCS matrix.
type Point struct {
	X, Y int
}

// GeneratePatch returns a unified diff between original and updated text,
// labeling both sides with label (a run id, a file name, anything that
// identifies the comparison to a human reader).
func GeneratePatch(original, updated, label string) (string, error) {
	originalLines := strings.Split(original, "\n")
	updatedLines := strings.Split(updated, "\n")

	var out strings.Builder
	out.WriteString(fmt.Sprintf("--- %s\n", label))
	out.WriteString(fmt.Sprintf("+++ %s\n", label))

	changes := computeChanges(originalLines, updatedLines)
	contextLines := 3
	hunks := groupChangesIntoHunks(changes, contextLines, len(originalLines), len(updatedLines))

	for _, hunk := range hunks {
		out.WriteString(fmt.Sprintf("\n@@ -%d,%d +%d,%d @@\n",
			hunk.origStart+1, hunk.origEnd-hunk.origStart,
			hunk.newStart+1, hunk.newEnd-hunk.newStart))

		i, j := hunk.origStart, hunk.newStart
		for i < hunk.origEnd || j < hunk.newEnd {
			if i < hunk.origEnd && j < hunk.newEnd && changes[i][j] == 0 {
				out.WriteString(" " + originalLines[i] + "\n")
				i++
				j++
			} else if i < hunk.origEnd && (j >= hunk.newEnd || changes[i][j] <= 0) {
				out.WriteString("-" + originalLines[i] + "\n")
				i++
			} else if j < hunk.newEnd && (i >= hunk.origEnd || changes[i][j] >= 0) {
				out.WriteString("+" + updatedLines[j] + "\n")
				j++
			}
		}
	}

	return out.String(), nil
}

// Stat parses a patch produced by GeneratePatch with go-diff and reports
// its added/removed line counts, letting the debug console show a
// one-line summary ("+12 -3") before printing the full patch.
func Stat(patch string) (added, removed int, err error) {
	fileDiff, err := godiff.ParseFileDiff([]byte(patch))
	if err != nil {
		return 0, 0, fmt.Errorf("parse patch: %w", err)
	}
	for _, hunk := range fileDiff.Hunks {
		for _, line := range strings.Split(string(hunk.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				added++
			case strings.HasPrefix(line, "-"):
				removed++
			}
		}
	}
	return added, removed, nil
}

// computeChanges creates a matrix indicating line changes: 0 = unchanged,
// -1 = deleted, 1 = added.
func computeChanges(orig, updated []string) [][]int {
	changes := make([][]int, len(orig))
	for i := range changes {
		changes[i] = make([]int, len(updated))
		for j := range changes[i] {
			if orig[i] == updated[j] {
				changes[i][j] = 0
			} else {
				changes[i][j] = 2
			}
		}
	}

	lcs := findLCS(orig, updated)

	for i := range changes {
		for j := range changes[i] {
			if changes[i][j] != 0 {
				changes[i][j] = -1
			}
		}
	}

	for _, match := range lcs {
		changes[match.X][match.Y] = 0
	}

	for j := range updated {
		isAddition := true
		for i := range orig {
			if changes[i][j] == 0 {
				isAddition = false
				break
			}
		}
		if isAddition {
			for i := range orig {
				if changes[i][j] == -1 {
					changes[i][j] = 1
				}
			}
		}
	}

	return changes
}

// findLCS finds the longest common subsequence between two slices of strings.
func findLCS(a, b []string) []Point {
	m, n := len(a), len(b)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else {
				dp[i][j] = max(dp[i-1][j], dp[i][j-1])
			}
		}
	}

	var result []Point
	i, j := m, n
	for i > 0 && j > 0 {
		if a[i-1] == b[j-1] {
			result = append(result, Point{i - 1, j - 1})
			i--
			j--
		} else if dp[i-1][j] > dp[i][j-1] {
			i--
		} else {
			j--
		}
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}

	return result
}

func groupChangesIntoHunks(changes [][]int, contextLines, origLen, newLen int) []Hunk {
	var hunks []Hunk

	var changedLines []int
	for i := 0; i < origLen; i++ {
		for j := 0; j < newLen; j++ {
			if changes[i][j] != 0 {
				changedLines = append(changedLines, i)
				break
			}
		}
	}

	if len(changedLines) == 0 {
		return hunks
	}

	hunkStart := changedLines[0]
	hunkEnd := changedLines[0] + 1

	for i := 1; i < len(changedLines); i++ {
		if changedLines[i] <= hunkEnd+contextLines*2 {
			hunkEnd = changedLines[i] + 1
		} else {
			hunks = append(hunks, createHunk(changes, hunkStart, hunkEnd, contextLines, origLen, newLen))
			hunkStart = changedLines[i]
			hunkEnd = changedLines[i] + 1
		}
	}

	hunks = append(hunks, createHunk(changes, hunkStart, hunkEnd, contextLines, origLen, newLen))

	return hunks
}

func createHunk(changes [][]int, start, end, contextLines, origLen, newLen int) Hunk {
	origStart := max(0, start-contextLines)
	origEnd := min(origLen, end+contextLines)

	newStart, newEnd := findNewRange(changes, origStart, origEnd, contextLines, newLen)

	return Hunk{origStart: origStart, origEnd: origEnd, newStart: newStart, newEnd: newEnd}
}

func findNewRange(changes [][]int, origStart, origEnd, contextLines, newLen int) (int, int) {
	newStart, newEnd := newLen, 0

	for i := origStart; i < origEnd; i++ {
		for j := 0; j < newLen; j++ {
			if changes[i][j] == 0 || changes[i][j] == 1 {
				if j < newStart {
					newStart = j
				}
				if j+1 > newEnd {
					newEnd = j + 1
				}
			}
		}
	}

	if newStart > newEnd {
		newStart = 0
		newEnd = newLen
	}

	newStart = max(0, newStart-contextLines)
	newEnd = min(newLen, newEnd+contextLines)

	return newStart, newEnd
}
