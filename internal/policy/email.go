package policy

import (
	"regexp"
	"strings"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

// EmailInput carries everything the email rule table needs. The monitor
// facade assembles it from the raw arguments, the session, and history.
type EmailInput struct {
	Goal    string
	To      string
	Subject string
	Body    string

	// TaintedInput is the direct taint flag on the arguments;
	// InferredTaint comes from scanning recent history; UsesTaint means
	// the outbound content textually references a known tainted marker.
	TaintedInput  bool
	InferredTaint bool
	UsesTaint     bool
}

// Content detectors. The keyword list and the regex set are both checked
// against subject and body; either firing is a hard BLOCK.
var credentialKeywords = []string{
	"password", "api key", "apikey", "secret", "token",
	"private key", "ssh", "credential",
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36,}\b`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{10,}\b`),
	regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`),
	regexp.MustCompile(`(?s)-----BEGIN (?:RSA |EC |OPENSSH |)PRIVATE KEY-----`),
	regexp.MustCompile(`\b[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`), // JWT-like
}

var exfilPhrases = []string{
	"all users", "dump", "export", "send everything",
	"entire database", "full list", "full user list",
}

var emailIntentTerms = []string{
	"email", "send", "mail", "message", "share", "forward", "notify", "report",
}

// Per-rule risk constants.
const (
	emailInvalidRecipientRisk = 0.50
	emailSecretsRisk          = 1.00
	emailExfilRisk            = 1.00
	egressClassifiedBlockRisk = 0.95
	egressClassifiedAskRisk   = 0.85
	emailNotInGoalRisk        = 0.60
	emailDomainNotAllowedRisk = 0.60
	emailAllowlistAllowRisk   = 0.20
	emailInternalSafeRisk     = 0.15
	emailTaintedContentRisk   = 0.65
	emailDefaultConfirmRisk   = 0.60
)

type emailCtx struct {
	in      EmailInput
	goal    string // lowercased
	content string // lowercased subject + body
	domain  string
	session *guard.SessionState
	cfg     guard.PolicyConfig
}

// emailRules is the fixed rule list. Order is the contract: the classified
// egress invariant (rule 4) deliberately dominates the safe-internal
// shortcut (rule 8), and the secret/exfil short circuits guarantee obvious
// leaks are blocked even when the goal justifies an email.
var emailRules = []func(*emailCtx) *guard.Decision{
	emailRuleInvalidRecipient,
	emailRuleSecrets,
	emailRuleExfil,
	emailRuleEgressAfterClassified,
	emailRuleNotInGoal,
	emailRuleDomainNotAllowed,
	emailRuleAllowlisted,
	emailRuleInternalSafe,
	emailRuleTainted,
	emailRuleDefaultConfirm,
}

// EvaluateEmail runs the email rule table. The first rule with an opinion
// wins; the trailing default always fires.
func EvaluateEmail(in EmailInput, session *guard.SessionState, cfg guard.PolicyConfig) guard.Decision {
	ctx := &emailCtx{
		in:      in,
		goal:    strings.ToLower(in.Goal),
		content: strings.ToLower(in.Subject + "\n" + in.Body),
		domain:  recipientDomain(in.To),
		session: session,
		cfg:     cfg,
	}

	var d guard.Decision
	for _, rule := range emailRules {
		if out := rule(ctx); out != nil {
			d = *out
			break
		}
	}
	d.Metadata["provenance"] = guard.Provenance{Source: "egress", Tainted: false}
	d.Metadata["recipient_domain"] = ctx.domain
	return d
}

func recipientDomain(to string) string {
	i := strings.LastIndex(to, "@")
	if i < 0 || i == len(to)-1 {
		return ""
	}
	return strings.ToLower(to[i+1:])
}

func emailRuleInvalidRecipient(c *emailCtx) *guard.Decision {
	if strings.Contains(c.in.To, "@") && c.domain != "" {
		return nil
	}
	d := decision(guard.VerdictAsk,
		"Recipient address is missing or invalid.",
		emailInvalidRecipientRisk,
		guard.CodeEmailInvalidRecipient)
	return &d
}

func emailRuleSecrets(c *emailCtx) *guard.Decision {
	matched := false
	for _, kw := range credentialKeywords {
		if strings.Contains(c.content, kw) {
			matched = true
			break
		}
	}
	if !matched {
		raw := c.in.Subject + "\n" + c.in.Body
		for _, re := range secretPatterns {
			if re.MatchString(raw) {
				matched = true
				break
			}
		}
	}
	if !matched {
		return nil
	}
	d := decision(guard.VerdictBlock,
		"Email content contains credential-like material.",
		emailSecretsRisk,
		guard.CodeEmailContainsSecrets)
	return &d
}

func emailRuleExfil(c *emailCtx) *guard.Decision {
	for _, p := range exfilPhrases {
		if strings.Contains(c.content, p) {
			d := decision(guard.VerdictBlock,
				"Email content looks like bulk data exfiltration.",
				emailExfilRisk,
				guard.CodeEmailExfilPattern)
			return &d
		}
	}
	return nil
}

// Multi-step invariant: once classified data has been read in this session,
// every outbound email is a controlled action no matter how innocuous its
// text looks.
func emailRuleEgressAfterClassified(c *emailCtx) *guard.Decision {
	if c.session == nil || !c.session.ClassifiedAccessed {
		return nil
	}
	if c.cfg.Mode == guard.ModeStrict {
		d := decision(guard.VerdictBlock,
			"Classified data was accessed earlier in this session; outbound email is blocked in strict mode.",
			egressClassifiedBlockRisk,
			guard.CodeEgressAfterClassifiedBlock)
		return &d
	}
	d := decision(guard.VerdictAsk,
		"Classified data was accessed earlier in this session; confirm this outbound email.",
		egressClassifiedAskRisk,
		guard.CodeEgressAfterClassifiedAsk)
	return &d
}

func emailRuleNotInGoal(c *emailCtx) *guard.Decision {
	for _, term := range emailIntentTerms {
		if strings.Contains(c.goal, term) {
			return nil
		}
	}
	d := decision(guard.VerdictAsk,
		"Sending email was not clearly requested in the goal.",
		emailNotInGoalRisk,
		guard.CodeEmailNotInGoal)
	return &d
}

func emailRuleDomainNotAllowed(c *emailCtx) *guard.Decision {
	if len(c.cfg.EmailDomainAllowlist) == 0 || containsFold(c.cfg.EmailDomainAllowlist, c.domain) {
		return nil
	}
	d := decision(guard.VerdictAsk,
		"Recipient domain is not on the configured allowlist.",
		emailDomainNotAllowedRisk,
		guard.CodeEmailDomainNotAllowed)
	return &d
}

func emailRuleAllowlisted(c *emailCtx) *guard.Decision {
	if len(c.cfg.EmailDomainAllowlist) == 0 || !containsFold(c.cfg.EmailDomainAllowlist, c.domain) {
		return nil
	}
	d := decision(guard.VerdictAllow,
		"Recipient domain is allowlisted and content is clean.",
		emailAllowlistAllowRisk,
		guard.CodeEmailAllowedAllowlist)
	return &d
}

// Safe-internal shortcut: internal recipients are fine when no taint is in
// play, or when taint exists but the content does not reference any tainted
// marker.
func emailRuleInternalSafe(c *emailCtx) *guard.Decision {
	if !containsFold(c.cfg.InternalEmailDomains, c.domain) {
		return nil
	}
	taintPresent := c.in.TaintedInput || c.in.InferredTaint
	if taintPresent && c.in.UsesTaint {
		return nil
	}
	d := decision(guard.VerdictAllow,
		"Internal recipient; content does not reference untrusted input.",
		emailInternalSafeRisk,
		guard.CodeEmailAllowedInternalSafe)
	return &d
}

func emailRuleTainted(c *emailCtx) *guard.Decision {
	if !c.in.TaintedInput && !c.in.InferredTaint {
		return nil
	}
	d := decision(guard.VerdictAsk,
		"Email content may derive from untrusted input.",
		emailTaintedContentRisk,
		guard.CodeEmailTaintedContent)
	return &d
}

func emailRuleDefaultConfirm(c *emailCtx) *guard.Decision {
	d := decision(guard.VerdictAsk,
		"Outbound email requires confirmation.",
		emailDefaultConfirmRisk,
		guard.CodeEmailEgressConfirmDefault)
	return &d
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
