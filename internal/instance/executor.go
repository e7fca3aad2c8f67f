package instance

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"abwart/internal/model"
	"abwart/internal/registryclient"
	"abwart/internal/rule"
)

// repoConcurrency bounds how many repositories a single rule execution
// hydrates and deletes from in parallel.
const repoConcurrency = 4

// executeRule runs one rule to completion: repository selection, per-repo
// tag hydration and selection, then deletion of every selected tag.
// It returns whether the rule's tidy flag applies to this run (§4.2),
// the signal the caller uses to decide whether to trigger GC.
func executeRule(ctx context.Context, inst *Instance, r rule.Rule) bool {
	entry := inst.log.WithField("rule", r.Name)
	now := time.Now()

	repoNames, err := inst.client.ListRepositories(ctx)
	if err != nil {
		entry.WithError(err).Warn("rule: failed to list repositories")
		return false
	}

	repos := make([]model.Repository, len(repoNames))
	for idx, name := range repoNames {
		repos[idx] = model.Repository{Name: name}
	}
	selectedRepos := r.SelectRepositories(repos)

	type outcome struct {
		deleted int
		applied []string
	}

	jobs := make(chan model.Repository)
	results := make(chan outcome, len(selectedRepos))

	worker := func() {
		for repo := range jobs {
			deleted, applied := executeRuleOnRepository(ctx, inst, r, repo.Name, now, entry)
			results <- outcome{deleted: deleted, applied: applied}
		}
	}

	workers := repoConcurrency
	if workers > len(selectedRepos) {
		workers = len(selectedRepos)
	}
	for w := 0; w < workers; w++ {
		go worker()
	}
	go func() {
		for _, repo := range selectedRepos {
			jobs <- repo
		}
		close(jobs)
	}()

	totalDeleted := 0
	var appliedAny []string
	for range selectedRepos {
		o := <-results
		totalDeleted += o.deleted
		appliedAny = append(appliedAny, o.applied...)
	}

	entry.WithFields(logrus.Fields{
		"repositories_considered": len(repos),
		"repositories_selected":   len(selectedRepos),
		"tags_deleted":            totalDeleted,
	}).Info("rule: execution complete")

	return r.AppliedTidy(appliedAny)
}

func executeRuleOnRepository(ctx context.Context, inst *Instance, r rule.Rule, repoName string, now time.Time, log *logrus.Entry) (int, []string) {
	entry := log.WithField("repository", repoName)
	client := inst.client

	tagNames, err := client.ListTags(ctx, repoName)
	if err != nil {
		entry.WithError(err).Warn("rule: failed to list tags")
		return 0, nil
	}

	tags := make([]model.Tag, 0, len(tagNames))
	for _, name := range tagNames {
		tag, err := client.FetchTagMetadata(ctx, repoName, name)
		if err != nil {
			entry.WithField("tag", name).WithError(err).Warn("rule: failed to fetch tag metadata, skipping")
			continue
		}
		tags = append(tags, tag)
	}

	selected := r.SelectTags(tags, now)

	var appliedIdentifiers []string
	for id, p := range r.Policies {
		if p.AffectsTags() && len(p.ApplyTags(tags, now)) > 0 {
			appliedIdentifiers = append(appliedIdentifiers, id)
		}
	}

	deleted := 0
	for _, tag := range selected {
		if inst.deletesAreDisabled() {
			break
		}
		if err := client.DeleteTag(ctx, repoName, tag.Name); err != nil {
			if errors.Is(err, registryclient.ErrDeletesDisabled) {
				inst.disableDeletes()
				break
			}
			entry.WithField("tag", tag.Name).WithError(err).Warn("rule: failed to delete tag")
			continue
		}
		deleted++
	}
	if deleted > 0 {
		entry.WithField("count", deleted).Info("rule: tags deleted")
	}
	return deleted, appliedIdentifiers
}
