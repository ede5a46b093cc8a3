package firewall

import (
	"regexp"
	"sort"
)

// injectionPattern is one fixed prompt-injection detector.
type injectionPattern struct {
	reasonCode string
	re         *regexp.Regexp
}

var injectionPatterns = []injectionPattern{
	{"prompt_override_ignore_previous", regexp.MustCompile(`(?i)ignore (all |any )?previous (instructions|prompts)`)},
	{"prompt_override_system_prompt", regexp.MustCompile(`(?i)(reveal|show|print) (the |your )?system prompt`)},
	{"prompt_override_privilege_escalation", regexp.MustCompile(`(?i)(grant|escalate) (me |yourself )?(admin|root|sudo) (access|privileges)`)},
	{"prompt_override_exfiltration", regexp.MustCompile(`(?i)(send|exfiltrate|upload) (all |the )?(data|secrets|credentials) to`)},
	{"prompt_override_instruction_hijack", regexp.MustCompile(`(?i)(disregard|override) (the )?(rules|guardrails|policy)`)},
	{"prompt_override_execution", regexp.MustCompile(`(?i)(execute|run) (this |the following )?(shell|arbitrary) command`)},
}

// ScanStatement matches statement against the fixed injection-pattern set
// and returns the sorted reason codes of every pattern that matched (nil if
// none matched).
func ScanStatement(statement string) []string {
	var reasons []string
	for _, p := range injectionPatterns {
		if p.re.MatchString(statement) {
			reasons = append(reasons, p.reasonCode)
		}
	}
	sort.Strings(reasons)
	return reasons
}
