package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/csa-project/csa/internal/hooks"
	"github.com/csa-project/csa/internal/outputparser"
	"github.com/csa-project/csa/internal/session"
	"github.com/csa-project/csa/internal/transport"
)

// postExecution implements spec §4.7 step 10: persist structured output,
// update session/tool state, write result.toml, run PostRun and
// SessionComplete hooks, and decode a fork-call return packet if this run
// was one.
func (p *Pipeline) postExecution(ctx context.Context, req RunRequest, sess *session.Session, sessionDir, tool string, res transport.Result, hookVars hooks.Vars) (*RunResult, bool, error) {
	startedAt := time.Now().UTC()

	if err := writeOutputLog(sessionDir, res.Execution.Output+res.Execution.StderrOutput); err != nil {
		return nil, false, err
	}

	sections := outputparser.ParseSections(res.Execution.Output)
	idx, err := outputparser.PersistStructuredOutput(filepath.Join(sessionDir, "output"), res.Execution.Output, sections)
	if err != nil {
		return nil, false, err
	}

	var pkt *outputparser.ReturnPacket
	if req.ForkCall {
		if raw, err := outputparser.ReadAllSections(filepath.Join(sessionDir, "output"), idx); err == nil {
			if content, found := raw["return-packet"]; found {
				pkt = outputparser.ParseReturnPacket(content)
				for _, cf := range pkt.ChangedFiles {
					if verr := outputparser.ValidateReturnPacketPath(req.ProjectRoot, cf.Path, cf.Action); verr != nil {
						pkt.Status = outputparser.StatusFailure
						reason := "invalid changed_files path: " + verr.Error()
						pkt.ErrorContext = &reason
						break
					}
				}
				if sess.Genealogy.ParentSessionID != "" {
					if parent, perr := p.Store.LoadSession(sess.Genealogy.ParentSessionID); perr == nil {
						parent.LastReturnPacket = &session.ReturnPacketRef{
							ChildSessionID: sess.ID,
							SectionPath:    filepath.Join("output", sectionFilePath(idx, "return-packet")),
						}
						_ = p.Store.SaveSession(parent)
					}
				}
			}
		}
	}

	ts := sess.Tools[tool]
	ts.LastActionSummary = res.Execution.Summary
	ts.LastExitCode = res.Execution.ExitCode
	ts.UpdatedAt = time.Now().UTC()
	if res.ProviderSessionID != "" {
		ts.ProviderSessionID = res.ProviderSessionID
	}
	sess.Tools[tool] = ts
	sess.TurnCount++
	sess.LastAccessed = time.Now().UTC()

	if res.Execution.ExitCode == 137 {
		sess.TerminationReason = "idle_timeout"
	} else if res.Execution.ExitCode != 0 {
		sess.TerminationReason = fmt.Sprintf("exit_%d", res.Execution.ExitCode)
	} else {
		sess.TerminationReason = ""
	}

	if err := p.Store.SaveSession(sess); err != nil {
		return nil, false, err
	}

	status := "success"
	if res.Execution.ExitCode != 0 {
		status = "failure"
	}
	completedAt := time.Now().UTC()
	result := &session.Result{
		Status:      status,
		ExitCode:    res.Execution.ExitCode,
		Summary:     res.Execution.Summary,
		Tool:        tool,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		EventsCount: len(res.Events),
	}
	for _, sec := range idx.Sections {
		if sec.FilePath != "" {
			result.Artifacts = append(result.Artifacts, filepath.Join("output", sec.FilePath))
		}
	}
	if err := p.Store.SaveResult(sess.ID, result); err != nil {
		return nil, false, err
	}

	if _, err := hooks.Run(ctx, hooks.FilterEvent(p.Hooks, hooks.EventPostRun), hookVars, p.Waivers); err != nil {
		return nil, false, err
	}
	if _, err := hooks.Run(ctx, hooks.FilterEvent(p.Hooks, hooks.EventSessionComplete), hookVars, p.Waivers); err != nil {
		return nil, false, err
	}

	return &RunResult{
		Session:      sess,
		Result:       result,
		Tool:         tool,
		OutputIndex:  idx,
		ReturnPacket: pkt,
	}, false, nil
}

func sectionFilePath(idx *outputparser.OutputIndex, id string) string {
	for _, s := range idx.Sections {
		if s.ID == id {
			return s.FilePath
		}
	}
	return ""
}

// writeOutputLog persists the raw combined stdout/stderr spool next to the
// parsed structured output, so a session directory always has the verbatim
// transcript even when no CSA:SECTION markers were present.
func writeOutputLog(sessionDir, content string) error {
	path := filepath.Join(sessionDir, "output.log")
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
