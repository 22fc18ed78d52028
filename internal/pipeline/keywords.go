package pipeline

// Default keyword sets for task classification. Reasoning vocabulary covers
// planning, analysis, and evaluation; execution vocabulary covers
// implementation, fixing, and operational commands. Callers extend either
// set through ClassifierOptions or the [pipeline] config table.

var defaultReasoningKeywords = []string{
	"think",
	"think about",
	"plan",
	"planning",
	"analyze",
	"analysis",
	"consider",
	"evaluate",
	"assess",
	"compare",
	"pros and cons",
	"trade-off",
	"trade-offs",
	"design",
	"architecture",
	"strategy",
	"approach",
	"reason",
	"explain why",
	"understand",
	"investigate",
	"algorithm",
	"solve",
	"proof",
	"prove",
	"optimal",
	"complexity",
}

var defaultExecutionKeywords = []string{
	"implement",
	"write",
	"create",
	"build",
	"add",
	"fix",
	"update",
	"change",
	"delete",
	"remove",
	"rename",
	"refactor",
	"install",
	"run",
	"execute",
	"deploy",
	"generate",
	"list files",
	"read file",
	"copy",
	"move",
	"format",
	"compile",
	"commit",
	"apply",
	"patch",
}
