package guard

// Reason codes are the log schema's primary compatibility surface
// (schema runtime_agent_guard.v1). Adding a code is backward compatible;
// renaming or removing one requires a schema bump. Keep the whole
// vocabulary here.
const (
	// SQL decision table.
	CodeSQLMissingQuery          = "SQL_MISSING_QUERY"
	CodeSQLClassifiedBlockStrict = "SQL_CLASSIFIED_BLOCK_STRICT"
	CodeSQLCriticalClassified    = "SQL_CRITICAL_CLASSIFIED"
	CodeSQLClassifiedAsk         = "SQL_CLASSIFIED_ASK"
	CodeSQLMissingLimit          = "SQL_MISSING_LIMIT"
	CodeSQLParseUncertain        = "SQL_PARSE_UNCERTAIN"
	CodeSQLLow                   = "SQL_LOW"

	// Email decision table, in rule order.
	CodeEmailInvalidRecipient      = "EMAIL_INVALID_RECIPIENT"
	CodeEmailContainsSecrets       = "EMAIL_CONTAINS_SECRETS"
	CodeEmailExfilPattern          = "EMAIL_EXFIL_PATTERN"
	CodeEgressAfterClassifiedBlock = "EGRESS_AFTER_CLASSIFIED_BLOCK"
	CodeEgressAfterClassifiedAsk   = "EGRESS_AFTER_CLASSIFIED_ASK"
	CodeEmailNotInGoal             = "EMAIL_NOT_IN_GOAL"
	CodeEmailDomainNotAllowed      = "EMAIL_DOMAIN_NOT_ALLOWED"
	CodeEmailAllowedAllowlist      = "EMAIL_ALLOWED_ALLOWLIST"
	CodeEmailAllowedInternalSafe   = "EMAIL_ALLOWED_INTERNAL_SAFE"
	CodeEmailTaintedContent        = "EMAIL_TAINTED_CONTENT"
	CodeEmailEgressConfirmDefault  = "EMAIL_EGRESS_CONFIRM_DEFAULT"

	// File and web handlers.
	CodeFileMissingPath       = "FILE_MISSING_PATH"
	CodeInvalidPath           = "INVALID_PATH"
	CodeFileOutsideAllowedDir = "FILE_OUTSIDE_ALLOWED_DIR"
	CodeFileAllowed           = "FILE_ALLOWED"
	CodeWikiQueryVague        = "WIKI_QUERY_VAGUE"
	CodeWikiAllowedTainted    = "WIKI_ALLOWED_TAINTED"
	CodeUnknownTool           = "UNKNOWN_TOOL"
	CodeIntentDriftAsk        = "INTENT_DRIFT_ASK"
	CodeDefaultAllow          = "DEFAULT_ALLOW"

	// Facade augmentations.
	CodeRepeatedBlocks        = "REPEATED_BLOCKS"
	CodeRepeatedAsks          = "REPEATED_ASKS"
	CodeRiskBudgetExhausted   = "RISK_BUDGET_EXHAUSTED"
	CodeRiskBudgetLowEscalate = "RISK_BUDGET_LOW_ESCALATE"
	CodeHighRiskHardBlock     = "HIGH_RISK_HARD_BLOCK"

	// Policy-as-code pre-gate (optional OPA bundle).
	CodeToolAccessDenied = "TOOL_ACCESS_DENIED"

	// Orchestrator outcomes.
	CodeHumanDenied = "HUMAN_DENIED"
)
