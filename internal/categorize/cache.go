package categorize

import (
	"regexp"
	"sync"

	"github.com/dvloznov/finance-ledger/internal/domain"
)

// regexCache holds compiled rule patterns keyed by rule key. An entry is
// only reused while its source pattern matches the rule's current pattern,
// so a rule edited by another process is recompiled on first use.
type regexCache struct {
	mu      sync.RWMutex
	entries map[string]cachedRegex
}

type cachedRegex struct {
	pattern string
	re      *regexp.Regexp
}

func newRegexCache() *regexCache {
	return &regexCache{entries: make(map[string]cachedRegex)}
}

// compilePattern compiles a rule pattern for case-insensitive matching.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, domain.Validationf("invalid regex pattern %q: %v", pattern, err)
	}
	return re, nil
}

func (c *regexCache) get(r *domain.PayeeRule) (*regexp.Regexp, error) {
	c.mu.RLock()
	e, ok := c.entries[r.Key]
	c.mu.RUnlock()
	if ok && e.pattern == r.Pattern {
		return e.re, nil
	}

	re, err := compilePattern(r.Pattern)
	if err != nil {
		return nil, err
	}
	c.put(r.Key, r.Pattern, re)
	return re, nil
}

func (c *regexCache) put(key, pattern string, re *regexp.Regexp) {
	c.mu.Lock()
	c.entries[key] = cachedRegex{pattern: pattern, re: re}
	c.mu.Unlock()
}

func (c *regexCache) invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *regexCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
