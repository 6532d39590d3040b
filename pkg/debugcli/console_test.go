package debugcli

import (
	"testing"

	"github.com/replicatedhq/chartsmith/pkg/domain"
)

func TestExecuteCommandRequiresSelectedRun(t *testing.T) {
	c := &Console{}
	if err := c.executeCommand("tail", nil); err == nil {
		t.Fatal("expected an error when no run is selected")
	}
}

func TestExecuteCommandHelpWorksWithoutSelectedRun(t *testing.T) {
	c := &Console{}
	if err := c.executeCommand("help", nil); err != nil {
		t.Errorf("help should not require a selected run: %v", err)
	}
}

func TestExecuteCommandUnknown(t *testing.T) {
	c := &Console{activeRun: &domain.Run{ID: "run-1"}}
	if err := c.executeCommand("bogus", nil); err == nil {
		t.Fatal("expected an error for an unknown command")
	}
}

func TestTailActivitiesRejectsNonIntegerCursor(t *testing.T) {
	c := &Console{activeRun: &domain.Run{ID: "run-1"}}
	if err := c.tailActivities([]string{"not-a-number"}); err == nil {
		t.Fatal("expected an error for a non-integer sinceSeq")
	}
}

func TestDiffRunsRequiresExactlyOneArg(t *testing.T) {
	c := &Console{activeRun: &domain.Run{ID: "run-1"}}
	if err := c.diffRuns(nil); err == nil {
		t.Fatal("expected a usage error with no args")
	}
	if err := c.diffRuns([]string{"a", "b"}); err == nil {
		t.Fatal("expected a usage error with too many args")
	}
}
