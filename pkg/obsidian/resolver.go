package obsidian

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mklimuk/tasksync/pkg/config"
)

const projectTagPrefix = "project/"

// Resolver assigns a project name to a parsed task via an ordered
// cascade:
//
//  1. explicit #project/name tag
//  2. section heading vs section rules
//  3. vault-relative folder prefix vs folder rules
//  4. remaining tags vs tag rules
//  5. default project
//
// Rules are evaluated first-match-wins in declaration order. Section
// patterns are compiled once at construction; rebuild the resolver
// when the configuration changes.
type Resolver struct {
	cfg             *config.SyncConfig
	sectionPatterns []sectionPattern
}

type sectionPattern struct {
	re      *regexp.Regexp
	project string
}

// NewResolver builds a resolver from an immutable config snapshot.
func NewResolver(cfg *config.SyncConfig) *Resolver {
	r := &Resolver{cfg: cfg}
	for _, rule := range cfg.SectionRules {
		re, err := regexp.Compile(`(?i)` + rule.Pattern)
		if err != nil {
			// Invalid patterns degrade to literal substrings.
			re = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(rule.Pattern))
		}
		r.sectionPatterns = append(r.sectionPatterns, sectionPattern{re: re, project: rule.Project})
	}
	return r
}

// Resolve returns the project name for a task. Deterministic for a
// fixed config and task.
func (r *Resolver) Resolve(task *ParsedTask) string {
	if project := r.fromProjectTag(task.Tags); project != "" {
		return project
	}
	if task.Section != "" {
		if project := r.fromSection(task.Section); project != "" {
			return project
		}
	}
	if task.SourceFile != "" {
		if project := r.fromFolder(task.SourceFile); project != "" {
			return project
		}
	}
	if project := r.fromTags(task.Tags); project != "" {
		return project
	}
	return r.cfg.DefaultProject
}

// TagsForProject returns every tag whose rule maps to the project.
func (r *Resolver) TagsForProject(project string) []string {
	var tags []string
	for _, rule := range r.cfg.TagRules {
		if rule.Project == project {
			tags = append(tags, rule.Tag)
		}
	}
	return tags
}

func (r *Resolver) fromProjectTag(tags []string) string {
	for _, tag := range tags {
		if strings.HasPrefix(tag, projectTagPrefix) {
			return tag[len(projectTagPrefix):]
		}
	}
	return ""
}

func (r *Resolver) fromSection(section string) string {
	for _, p := range r.sectionPatterns {
		if p.re.MatchString(section) {
			return p.project
		}
	}
	return ""
}

func (r *Resolver) fromFolder(sourceFile string) string {
	rel, err := filepath.Rel(r.cfg.VaultPath, sourceFile)
	if err != nil || strings.HasPrefix(rel, "..") {
		// File is outside the vault.
		return ""
	}
	rel = filepath.ToSlash(rel)

	for _, rule := range r.cfg.FolderRules {
		if strings.HasPrefix(rel, filepath.ToSlash(rule.Folder)) {
			return rule.Project
		}
	}
	return ""
}

func (r *Resolver) fromTags(tags []string) string {
	for _, tag := range tags {
		if strings.HasPrefix(tag, projectTagPrefix) {
			continue
		}
		for _, rule := range r.cfg.TagRules {
			if strings.EqualFold(tag, rule.Tag) {
				return rule.Project
			}
		}
	}
	return ""
}
