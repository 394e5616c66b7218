package modes

// Builtin registers the modes shipped with the daemon itself. Additional
// modes can be layered on top via LoadDir (see cfg.ModesPath in cmd/borgd)
// without touching this file; Register is idempotent per name.
func init() {
	RegisterAll([]PipelineMode{sweborg(), lawborg()})
}

// sweborg is the default software-engineering pipeline: setup -> spec
// (writes spec.md) -> qa (writes tests) -> impl -> lint -> rebase -> done,
// with impl's test gate able to route either to qa_fix (the failure looks
// like a bad test) or to retry (a near-duplicate of impl reached by plain
// status), integrating via GitHub PRs.
func sweborg() PipelineMode {
	backlog := DefaultPhaseConfig()
	backlog.Name = "backlog"
	backlog.Label = "Backlog"
	backlog.Type = PhaseSetup
	backlog.Next = "spec"

	spec := DefaultPhaseConfig()
	spec.Name = "spec"
	spec.Label = "Specification"
	spec.Instruction = "Read the task and codebase, then write spec.md at the repository root: a task summary, files to modify or create, signatures for new or changed code, acceptance criteria, and edge cases. Verify every file path and API reference actually exists before finalizing. Do not modify source files."
	spec.AllowedTools = "Read,Glob,Grep,Write"
	spec.UseSandbox = true
	spec.IncludeTaskContext = true
	spec.IncludeFileListing = true
	spec.CheckArtifact = "spec.md"
	spec.Next = "qa"

	qa := DefaultPhaseConfig()
	qa.Name = "qa"
	qa.Label = "Testing"
	qa.Instruction = "Read spec.md and write test files covering every acceptance criterion. Only create or modify test files. Tests should fail initially since the feature isn't implemented yet. Verify the APIs and types referenced in spec.md actually exist in the codebase before writing against them."
	qa.AllowedTools = "Read,Glob,Grep,Write"
	qa.UseSandbox = true
	qa.IncludeTaskContext = true
	qa.Commits = true
	qa.CommitMessage = "test: add tests from QA agent"
	qa.AllowNoChanges = true
	qa.Next = "impl"

	qaFix := DefaultPhaseConfig()
	qaFix.Name = "qa_fix"
	qaFix.Label = "Test Fix"
	qaFix.Instruction = "Read spec.md and write test files covering every acceptance criterion. Only create or modify test files. Tests should fail initially since the feature isn't implemented yet. Verify the APIs and types referenced in spec.md actually exist in the codebase before writing against them."
	qaFix.ErrorInstruction = "\n\nYour tests from the previous QA pass have issues that prevent them from passing. The implementation agent tried multiple times but the test code itself is broken.\n\nTest output:\n{ERROR}\n\nFix the test files without weakening them or removing cases — correct the test code so it validates spec.md's behavior using only APIs that actually exist."
	qaFix.AllowedTools = "Read,Glob,Grep,Write"
	qaFix.UseSandbox = true
	qaFix.IncludeTaskContext = true
	qaFix.Commits = true
	qaFix.CommitMessage = "test: fix tests from QA agent"
	qaFix.AllowNoChanges = true
	qaFix.FreshSession = true
	qaFix.Next = "impl"

	const implTools = "Read,Glob,Grep,Write,Edit,Bash"
	const implInstruction = "Read spec.md and the test files. Write implementation code that makes all tests pass. Prefer to only modify files listed in spec.md. If tests reference APIs, types, or fields that don't exist in the codebase, fix them to match reality — keep the test intent but correct wrong API assumptions."
	const implRetryError = "\n\nPrevious attempt failed. Test output:\n{ERROR}\nFix the failures."

	impl := DefaultPhaseConfig()
	impl.Name = "impl"
	impl.Label = "Implementation"
	impl.Instruction = implInstruction
	impl.ErrorInstruction = implRetryError
	impl.AllowedTools = implTools
	impl.UseSandbox = true
	impl.IncludeTaskContext = true
	impl.IncludeFileListing = true
	impl.Commits = true
	impl.CommitMessage = "impl: implementation from worker agent"
	impl.RunsTests = true
	impl.HasQAFixRouting = true
	impl.Next = "lint_fix"

	// retry is impl's own routing target: a test-gate failure that doesn't
	// look like a bad test sets status to the literal "retry", which this
	// phase answers. It differs from impl only by name, so GetPhase("retry")
	// resolves to a real phase instead of the generic fail_or_retry path
	// re-running whatever phase happened to fail.
	retry := impl
	retry.Name = "retry"
	retry.Label = "Retry"

	lintFix := DefaultPhaseConfig()
	lintFix.Name = "lint_fix"
	lintFix.Label = "Lint"
	lintFix.Type = PhaseLintFix
	lintFix.Instruction = "The lint output below failed. Fix the findings without changing behavior."
	lintFix.AllowedTools = "Read,Glob,Grep,Write,Edit,Bash"
	lintFix.UseSandbox = true
	lintFix.Commits = true
	lintFix.CommitMessage = "Fix lint findings"
	lintFix.AllowNoChanges = true
	lintFix.Next = "rebase"

	rebase := DefaultPhaseConfig()
	rebase.Name = "rebase"
	rebase.Label = "Rebase onto main"
	rebase.Type = PhaseRebase
	rebase.SystemPrompt = "You are the implementation agent in an autonomous engineering pipeline."
	rebase.Instruction = "This branch has merge conflicts with main. Rebase onto origin/main, resolve all conflicts, and ensure tests pass. Read spec.md for context on what this branch does."
	rebase.ErrorInstruction = "\n\nPrevious error context:\n```\n{ERROR}\n```"
	rebase.AllowedTools = "Read,Glob,Grep,Write,Edit,Bash"
	rebase.FixInstruction = "The git rebase onto origin/main failed with conflicts. Resolve them: for files deleted on main, `git rm` them; for content conflicts, edit the file and `git add` it. Then run `git rebase --continue`. Do not run `git rebase --abort`."
	rebase.Next = "done"

	backlogSeed := SeedConfig{
		Name:       "backlog",
		Label:      "Scan for backlog tasks",
		Prompt:     "Scan this repository for well-scoped, independently shippable improvements. Emit each as a TASK_START/TASK_END block with Title: and Description: fields.",
		OutputType: SeedOutputTask,
	}
	proposalSeed := SeedConfig{
		Name:       "proposals",
		Label:      "Scan for proposals",
		Prompt:     "Scan this repository for larger architectural or product opportunities that need human review before becoming tasks. Emit each as a PROPOSAL_START/PROPOSAL_END block with Title:, Description:, and Rationale: fields.",
		OutputType: SeedOutputProposal,
	}

	return PipelineMode{
		Name:               "sweborg",
		Label:              "Software Engineering",
		Phases:             []PhaseConfig{backlog, spec, qa, qaFix, impl, retry, lintFix, rebase},
		SeedModes:          []SeedConfig{backlogSeed, proposalSeed},
		InitialStatus:      "backlog",
		UsesGitWorktrees:   true,
		UsesSandbox:        true,
		UsesTestCmd:        true,
		Integration:        IntegrationGitPR,
		DefaultMaxAttempts: 3,
	}
}

// lawborg is a document-review pipeline with no git integration: it
// drafts, then self-reviews, with no test or lint gates, ending at a
// plain "done" state an operator reviews out of band.
func lawborg() PipelineMode {
	draft := DefaultPhaseConfig()
	draft.Name = "draft"
	draft.Label = "Draft"
	draft.Instruction = "Draft the requested document."
	draft.AllowedTools = "Read,Glob,Grep,Write"
	draft.IncludeTaskContext = true
	draft.Commits = false
	draft.Next = "review"
	draft.FreshSession = true

	review := DefaultPhaseConfig()
	review.Name = "review"
	review.Label = "Self-review"
	review.Instruction = "Review the draft above for accuracy, tone, and completeness. Revise in place."
	review.AllowedTools = "Read,Glob,Grep,Write"
	review.IncludeTaskContext = true
	review.Next = "done"

	return PipelineMode{
		Name:               "lawborg",
		Label:              "Legal Drafting",
		Phases:             []PhaseConfig{draft, review},
		InitialStatus:      "draft",
		UsesGitWorktrees:   false,
		UsesSandbox:        false,
		UsesTestCmd:        false,
		Integration:        IntegrationNone,
		DefaultMaxAttempts: 2,
	}
}
