package safety

// DefaultDenyPatterns are the built-in unconditional blocks. They target
// host destruction, disk overwrites, database drops and pipe-to-shell
// downloads. Operators extend or replace them through config.
var DefaultDenyPatterns = []string{
	`\brm\s+(-rf?\s+)?/\s*$`,
	`\brm\s+(-rf?\s+)?/\*`,
	`\bmkfs\b`,
	`\bdd\s+.*of=/dev/`,
	`:\(\)\{.*\};:`,
	`\bshutdown\b`,
	`\breboot\b`,
	`\binit\s+0\b`,
	`\bpoweroff\b`,
	`>\s*/dev/sd`,
	`\bchmod\s+777\s+/`,
	`\bchown\s+.*\s+/\s*$`,
	`DROP\s+DATABASE`,
	`DROP\s+TABLE.*CASCADE`,
	`TRUNCATE\s+TABLE`,
	`\bcurl\b.*\|\s*(ba)?sh`,
	`\bwget\b.*\|\s*(ba)?sh`,
	`python.*-c.*import\s+os.*system`,
	`\biptables\s+(-F|--flush)`,
	`docker\s+system\s+prune\s+-a`,
}

// DefaultConfirmPatterns escalate risky but legitimate operations to an
// operator confirmation, with the reason shown in the prompt.
var DefaultConfirmPatterns = map[string]string{
	`\bdocker\s+(stop|kill|rm|restart)`:         "This will affect a running container",
	`\bdocker\s+compose\s+(down|stop|restart)`:  "This will affect multiple containers",
	`\bsystemctl\s+(stop|restart|disable)`:      "This will affect a system service",
	`\bkill\b`:                                  "This will terminate a process",
	`\bapt\s+(remove|purge|autoremove)`:         "This will remove packages",
	`\bpip\s+uninstall\b`:                       "This will uninstall Python packages",
	`\bnpm\s+uninstall\b`:                       "This will uninstall npm packages",
	`DELETE\s+FROM`:                             "This will delete database records",
	`UPDATE\s+`:                                 "This will modify database records",
	`ALTER\s+TABLE`:                             "This will modify database schema",
}
