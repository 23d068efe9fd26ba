package threat

import (
	"regexp"

	"polyglot-sandbox/internal/policy"
)

// universalPatterns apply to every language: dynamic evaluation, network and
// storage access, DOM mutation, navigation, cross-frame access, dangerous URI
// schemes, and common obfuscation idioms.
func universalPatterns() []pattern {
	return []pattern{
		{
			re:         regexp.MustCompile(`(?i)\beval\s*\(`),
			kind:       KindMaliciousCode,
			category:   "injection",
			severity:   SeverityCritical,
			message:    "dynamic code evaluation via eval()",
			suggestion: "avoid dynamic code evaluation - use a safer alternative",
		},
		{
			re:         regexp.MustCompile(`(?i)new\s+Function\s*\(`),
			kind:       KindMaliciousCode,
			category:   "injection",
			severity:   SeverityCritical,
			message:    "dynamic code construction via the Function constructor",
			suggestion: "construct behavior statically instead of from strings",
		},
		{
			re:         regexp.MustCompile(`(?i)\b(setTimeout|setInterval)\s*\(\s*["']`),
			kind:       KindMaliciousCode,
			category:   "injection",
			severity:   SeverityHigh,
			message:    "string argument to a timer is evaluated as code",
			suggestion: "pass a function to timers, not a string",
		},
		{
			re:         regexp.MustCompile(`(?i)\b(fetch|XMLHttpRequest|WebSocket|EventSource|navigator\.sendBeacon)\b`),
			kind:       KindNetworkAccess,
			category:   "network",
			severity:   SeverityHigh,
			message:    "network access attempted",
			suggestion: "network access is disabled in the sandbox",
		},
		{
			re:         regexp.MustCompile(`(?i)\b(localStorage|sessionStorage|indexedDB|document\.cookie)\b`),
			kind:       KindStorageAccess,
			category:   "storage",
			severity:   SeverityHigh,
			message:    "persistent storage access attempted",
			suggestion: "the sandbox does not expose persistent storage",
		},
		{
			re:         regexp.MustCompile(`(?i)document\s*\.\s*(write|writeln)\s*\(|\.innerHTML\s*=|\.outerHTML\s*=|insertAdjacentHTML`),
			kind:       KindMaliciousCode,
			category:   "dom_mutation",
			severity:   SeverityMedium,
			message:    "direct document mutation",
			suggestion: "use text content assignment instead of raw HTML injection",
		},
		{
			re:         regexp.MustCompile(`(?i)(window\.|document\.)?location\s*(\.href)?\s*=|location\.(replace|assign)\s*\(`),
			kind:       KindMaliciousCode,
			category:   "navigation",
			severity:   SeverityHigh,
			message:    "navigation or redirection attempt",
			suggestion: "sandboxed content may not navigate the hosting page",
		},
		{
			re:         regexp.MustCompile(`(?i)\b(window\.)?(parent|top|frames|opener)\s*[.\[]`),
			kind:       KindMaliciousCode,
			category:   "cross_frame",
			severity:   SeverityHigh,
			message:    "cross-frame access attempt",
			suggestion: "sandboxed content cannot reach the parent window",
		},
		{
			re:         regexp.MustCompile(`(?i)javascript\s*:|data\s*:\s*text/html|vbscript\s*:`),
			kind:       KindMaliciousCode,
			category:   "uri_scheme",
			severity:   SeverityHigh,
			message:    "dangerous URI scheme",
			suggestion: "use plain https or relative URIs",
		},
		{
			re:         regexp.MustCompile(`(?i)String\.fromCharCode|\bunescape\s*\(|\batob\s*\(|\\x[0-9a-f]{2}\\x[0-9a-f]{2}`),
			kind:       KindMaliciousCode,
			category:   "obfuscation",
			severity:   SeverityMedium,
			message:    "string obfuscation idiom",
			suggestion: "write the literal directly instead of decoding it at runtime",
		},
		{
			re:         regexp.MustCompile(`(?i)on(click|load|error|mouseover|focus|submit)\s*=`),
			kind:       KindMaliciousCode,
			category:   "dom_mutation",
			severity:   SeverityMedium,
			message:    "inline event handler attribute",
			suggestion: "attach handlers from script instead of inline attributes",
		},
	}
}

// languagePatterns are the per-language danger lists for the managed runtime
// and the query language.
func languagePatterns() map[policy.Language][]pattern {
	lua := []pattern{
		{
			re:         regexp.MustCompile(`(?i)\bos\s*\.\s*(execute|exit|remove|rename|getenv|tmpname)\b`),
			kind:       KindMaliciousCode,
			category:   "process",
			severity:   SeverityCritical,
			message:    "operating system access via the os library",
			suggestion: "the os library is not available in the sandbox",
		},
		{
			re:         regexp.MustCompile(`(?i)\bio\s*\.\s*(open|popen|read|write|lines|output|input)\b`),
			kind:       KindFileAccess,
			category:   "file_io",
			severity:   SeverityCritical,
			message:    "raw file I/O via the io library",
			suggestion: "file access is not available in the sandbox",
		},
		{
			re:         regexp.MustCompile(`(?i)\b(load|loadstring|loadfile|dofile)\s*\(`),
			kind:       KindMaliciousCode,
			category:   "injection",
			severity:   SeverityCritical,
			message:    "dynamic chunk compilation",
			suggestion: "define functions statically instead of compiling strings",
		},
		{
			re:         regexp.MustCompile(`(?i)\bpackage\s*\.\s*(loadlib|cpath|searchers|loaders)\b`),
			kind:       KindMaliciousCode,
			category:   "process",
			severity:   SeverityCritical,
			message:    "native library loading via the package system",
			suggestion: "only the preloadable sandbox modules are available",
		},
		{
			re:         regexp.MustCompile(`(?i)\bdebug\s*\.\s*\w+`),
			kind:       KindMaliciousCode,
			category:   "introspection",
			severity:   SeverityHigh,
			message:    "debug library access",
			suggestion: "the debug library is not available in the sandbox",
		},
		{
			re:         regexp.MustCompile(`(?i)\brequire\s*\(\s*["'](os|io|debug|ffi|socket)`),
			kind:       KindMaliciousCode,
			category:   "process",
			severity:   SeverityCritical,
			message:    "import of a restricted module",
			suggestion: "only the preloadable sandbox modules are available",
		},
	}

	sql := []pattern{
		{
			re:         regexp.MustCompile(`(?i)\bATTACH\s+DATABASE\b`),
			kind:       KindFileAccess,
			category:   "database",
			severity:   SeverityCritical,
			message:    "attaching external database files",
			suggestion: "the session database is the only reachable database",
		},
		{
			re:         regexp.MustCompile(`(?i)load_extension\s*\(`),
			kind:       KindMaliciousCode,
			category:   "database",
			severity:   SeverityCritical,
			message:    "loading a native database extension",
			suggestion: "extensions cannot be loaded in the sandbox",
		},
		{
			re:         regexp.MustCompile(`(?i)^\s*\.(shell|system|import|open|load)\b`),
			kind:       KindMaliciousCode,
			category:   "database",
			severity:   SeverityCritical,
			message:    "shell meta-command",
			suggestion: "meta-commands are not SQL and are rejected",
		},
		{
			re:         regexp.MustCompile(`(?i)\bPRAGMA\s+(writable_schema|temp_store_directory)\b`),
			kind:       KindMaliciousCode,
			category:   "database",
			severity:   SeverityHigh,
			message:    "dangerous PRAGMA",
			suggestion: "schema-altering pragmas are rejected",
		},
	}

	md := []pattern{
		{
			re:         regexp.MustCompile(`(?i)<\s*script\b`),
			kind:       KindMaliciousCode,
			category:   "injection",
			severity:   SeverityHigh,
			message:    "embedded script tag in markup",
			suggestion: "script tags are stripped from previews",
		},
		{
			re:         regexp.MustCompile(`(?i)<\s*(iframe|object|embed)\b`),
			kind:       KindMaliciousCode,
			category:   "cross_frame",
			severity:   SeverityHigh,
			message:    "embedded frame or plugin element",
			suggestion: "frame and plugin elements are stripped from previews",
		},
	}

	return map[policy.Language][]pattern{
		policy.LangLua:      lua,
		policy.LangSQL:      sql,
		policy.LangMarkdown: md,
	}
}
