// Package tagger suggests and records release tags.
package tagger

import (
	"context"
	"fmt"

	"github.com/oshokin/releaser/internal/domain/release"
	"github.com/oshokin/releaser/internal/logger"
)

// FirstTag is suggested for a repository without release tags.
var FirstTag = release.Tag{Major: 0, Minor: 0, Patch: 1}

// Repository stores tags.
type Repository interface {
	// ListTags returns tag names in storage order.
	ListTags(ctx context.Context) ([]string, error)
	// CreateTag creates a tag at HEAD.
	CreateTag(ctx context.Context, name string) error
}

// Prompter asks the operator.
type Prompter interface {
	Confirm(question string, def bool) (bool, error)
	Ask(question, def string) (string, error)
}

// Suggestion is the previous tag and its proposed successor.
type Suggestion struct {
	// Previous is the highest existing release tag, empty when there is none.
	Previous string
	// Next is the proposed tag.
	Next release.Tag
}

// Tagger manages release tags of a repository.
type Tagger struct {
	repo Repository
}

// New creates a tagger for repo.
func New(repo Repository) *Tagger {
	return &Tagger{repo: repo}
}

// Suggest returns the highest release tag and the tag that should follow it.
func (t *Tagger) Suggest(ctx context.Context) (Suggestion, error) {
	names, err := t.repo.ListTags(ctx)
	if err != nil {
		return Suggestion{}, err
	}

	latest, ok := release.LatestTag(names)
	if !ok {
		return Suggestion{Previous: "", Next: FirstTag}, nil
	}

	return Suggestion{Previous: latest.String(), Next: latest.Next()}, nil
}

// Create validates name and tags HEAD with it.
// The tag must be greater than every existing release tag.
func (t *Tagger) Create(ctx context.Context, name string) (release.Tag, error) {
	name = release.NormalizeTagName(name)

	tag, err := release.ParseTag(name)
	if err != nil {
		return release.Tag{}, err
	}

	names, err := t.repo.ListTags(ctx)
	if err != nil {
		return release.Tag{}, err
	}

	if latest, ok := release.LatestTag(names); ok && tag.Compare(latest) <= 0 {
		return release.Tag{}, fmt.Errorf("%s is not greater than %s: %w", tag, latest, release.ErrTagNotIncreasing)
	}

	if err = t.repo.CreateTag(ctx, tag.String()); err != nil {
		return release.Tag{}, err
	}

	logger.InfoKV(logger.WithName(ctx, "tagger"), "Tag created", "tag", tag.String())

	return tag, nil
}

// Set asks whether to tag the release, offers the suggested tag and creates the chosen one.
// The second result is false when the operator declined.
func (t *Tagger) Set(ctx context.Context, prompter Prompter) (release.Tag, bool, error) {
	proceed, err := prompter.Confirm("Do you want to tag this release?", true)
	if err != nil || !proceed {
		return release.Tag{}, false, err
	}

	suggestion, err := t.Suggest(ctx)
	if err != nil {
		return release.Tag{}, false, err
	}

	previous := suggestion.Previous
	if previous == "" {
		previous = "none"
	}

	question := fmt.Sprintf("Please enter a tag: previous: %s suggested: %s", previous, suggestion.Next)

	name, err := prompter.Ask(question, suggestion.Next.String())
	if err != nil {
		return release.Tag{}, false, err
	}

	tag, err := t.Create(ctx, name)
	if err != nil {
		return release.Tag{}, false, err
	}

	return tag, true, nil
}
