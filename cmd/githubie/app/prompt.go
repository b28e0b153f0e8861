package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"githubie.shikanime.studio/internal/collections"
	"githubie.shikanime.studio/internal/encoding"
	"githubie.shikanime.studio/internal/types"
)

// Choose presents a list of options and returns the selected option
func Choose(prompt string, options []string) (string, error) {
	var result string
	q := &survey.Select{
		Message: prompt,
		Options: options,
	}
	return result, survey.AskOne(q, &result)
}

// Input gets a text input from the user
func Input(prompt string) (string, error) {
	var result string
	q := &survey.Input{Message: prompt}
	return result, survey.AskOne(q, &result, survey.WithValidator(survey.Required))
}

// InputWithDefault gets a text input from the user with a default value
func InputWithDefault(prompt string, defaultValue string) (string, error) {
	var result string
	q := &survey.Input{
		Message: prompt,
		Default: defaultValue,
	}
	return result, survey.AskOne(q, &result)
}

// Confirm asks for confirmation
func Confirm(prompt string, defaultYes bool) (bool, error) {
	var result bool
	q := &survey.Confirm{Message: prompt, Default: defaultYes}
	return result, survey.AskOne(q, &result)
}

// PromptDraft asks for the fields of a new collection.
func PromptDraft(defaultMinStars int) (types.Collection, error) {
	name, err := Input("Collection name:")
	if err != nil {
		return types.Collection{}, err
	}
	raw, err := Input("Topics (comma-separated, name or name:stars):")
	if err != nil {
		return types.Collection{}, err
	}
	topics, err := ParseTopics(raw)
	if err != nil {
		return types.Collection{}, err
	}
	stars, err := InputWithDefault("Minimum stars:", strconv.Itoa(defaultMinStars))
	if err != nil {
		return types.Collection{}, err
	}
	minStars, err := strconv.Atoi(stars)
	if err != nil || minStars < 0 {
		return types.Collection{}, fmt.Errorf("invalid minimum stars %q", stars)
	}
	return types.Collection{Name: name, MinStars: minStars, Topics: topics}, nil
}

const (
	optionMore = "Load more..."
	optionDone = "Done"

	actionSeen     = "Mark as seen"
	actionFavorite = "Toggle favorite"
	actionBack     = "Back"
)

// Browse walks the unseen repositories of a collection page by page, letting
// the user mark them seen or favorite them.
func Browse(ctx context.Context, c *collections.Collections, id int64) error {
	if _, err := c.Select(ctx, id); err != nil {
		return err
	}
	page := 1
	for {
		repos, more := c.Page(id, page)
		if len(repos) == 0 {
			fmt.Println("No unseen repositories left.")
			return nil
		}
		options := make([]string, 0, len(repos)+2)
		for _, r := range repos {
			options = append(options, RepositoryOption(r))
		}
		if more {
			options = append(options, optionMore)
		}
		options = append(options, optionDone)

		choice, err := Choose("Repositories:", options)
		if err != nil {
			return interrupted(err)
		}
		switch choice {
		case optionDone:
			return nil
		case optionMore:
			page++
			continue
		}
		i := indexOf(options, choice)
		if i < 0 || i >= len(repos) {
			continue
		}
		r := repos[i]

		action, err := Choose(r.Owner+"/"+r.Name+":", []string{actionSeen, actionFavorite, actionBack})
		if err != nil {
			return interrupted(err)
		}
		switch action {
		case actionSeen:
			if err := c.MarkSeen(ctx, id, r.ID); err != nil {
				return err
			}
		case actionFavorite:
			if _, err := c.ToggleFavorite(ctx, id, r.ID); err != nil {
				return err
			}
		}
	}
}

// RepositoryOption renders r as a single prompt line.
func RepositoryOption(r types.Repository) string {
	return Truncate(fmt.Sprintf("%s/%s (%d★) %s", r.Owner, r.Name, r.Stars, encoding.PlainText(r.Description)), 100)
}

func indexOf(options []string, choice string) int {
	for i, o := range options {
		if o == choice {
			return i
		}
	}
	return -1
}

func interrupted(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return nil
	}
	return err
}
