// Package phase defines the PDCA phase cycle and its ordering rules.
//
// Features move through research, plan, design, do, check, act, then
// completed and archived. Each phase has a numeric rank mirroring that
// order; automated signals may only move a feature forward, while explicit
// operator transitions may move in either direction.
package phase

import "fmt"

// Phase is one stage of the PDCA cycle.
type Phase string

const (
	Research  Phase = "research"
	Plan      Phase = "plan"
	Design    Phase = "design"
	Do        Phase = "do"
	Check     Phase = "check"
	Act       Phase = "act"
	Completed Phase = "completed"
	Archived  Phase = "archived"
)

// All returns the phases in cycle order.
func All() []Phase {
	return []Phase{Research, Plan, Design, Do, Check, Act, Completed, Archived}
}

var ranks = map[Phase]int{
	Research:  0,
	Plan:      1,
	Design:    2,
	Do:        3,
	Check:     4,
	Act:       5,
	Completed: 6,
	Archived:  7,
}

// Rank returns the numeric rank of p, or -1 if p is not a known phase.
func Rank(p Phase) int {
	r, ok := ranks[p]
	if !ok {
		return -1
	}
	return r
}

// Valid reports whether p is a known phase.
func Valid(p Phase) bool {
	_, ok := ranks[p]
	return ok
}

// Parse converts a string to a Phase, accepting legacy aliases used by
// older ledger producers.
func Parse(s string) (Phase, error) {
	switch s {
	case "research", "investigate":
		return Research, nil
	case "plan", "planning":
		return Plan, nil
	case "design":
		return Design, nil
	case "do", "implement", "implementation":
		return Do, nil
	case "check", "verify":
		return Check, nil
	case "act", "refine":
		return Act, nil
	case "completed", "complete", "done":
		return Completed, nil
	case "archived", "archive":
		return Archived, nil
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// DocType identifies a tracked document kind.
type DocType string

const (
	DocResearch DocType = "research"
	DocPlan     DocType = "plan"
	DocDesign   DocType = "design"
	DocAnalysis DocType = "analysis"
	DocReport   DocType = "report"
)

// DocTypes returns the known document types.
func DocTypes() []DocType {
	return []DocType{DocResearch, DocPlan, DocDesign, DocAnalysis, DocReport}
}

// docFolders maps the folder convention used under a feature's docs
// directory to the phase a write there implies.
var docFolders = map[string]Phase{
	"research": Research,
	"plan":     Plan,
	"design":   Design,
	"do":       Do,
	"check":    Check,
	"act":      Act,
}

// PhaseForFolder maps a docs subfolder name to its phase. The second return
// is false when the folder carries no phase meaning.
func PhaseForFolder(folder string) (Phase, bool) {
	p, ok := docFolders[folder]
	return p, ok
}

// DocTypeForFolder maps a docs subfolder to the document type recorded for
// writes there.
func DocTypeForFolder(folder string) (DocType, bool) {
	switch folder {
	case "research":
		return DocResearch, true
	case "plan":
		return DocPlan, true
	case "design":
		return DocDesign, true
	case "do":
		return DocAnalysis, true
	case "check":
		return DocAnalysis, true
	case "act":
		return DocReport, true
	}
	return "", false
}

// DocTypeForPhase maps a phase to the document type recorded for it.
// The terminal phases have no docs folder; their documents are filed
// as reports.
func DocTypeForPhase(p Phase) DocType {
	if dt, ok := DocTypeForFolder(string(p)); ok {
		return dt
	}
	return DocReport
}
