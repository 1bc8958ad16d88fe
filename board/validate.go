package board

import (
	"strings"
	"unicode/utf8"

	"prism-board/domain"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 4000
	maxLabels            = 20
	maxLabelLength       = 50
	maxSubtasks          = 100
)

// TaskInput carries the fields of a new task.
type TaskInput struct {
	Title       string
	Description string
	Labels      []string
	Priority    domain.Priority
	Subtasks    []domain.Subtask
}

// TaskPatch carries the task fields to change. Nil fields are left alone.
type TaskPatch struct {
	Title       *string
	Description *string
	Labels      *[]string
	Priority    *domain.Priority
	Subtasks    *[]domain.Subtask
}

func (p TaskPatch) empty() bool {
	return p.Title == nil && p.Description == nil && p.Labels == nil && p.Priority == nil && p.Subtasks == nil
}

func (p TaskPatch) apply(t domain.Task) domain.Task {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Labels != nil {
		t.Labels = append([]string(nil), (*p.Labels)...)
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Subtasks != nil {
		t.Subtasks = append([]domain.Subtask(nil), (*p.Subtasks)...)
	}
	return t
}

func validateTitle(field, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", domain.InvalidInputf("%s is required", field)
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", domain.InvalidInputf("%s exceeds %d characters", field, maxTitleLength)
	}
	return title, nil
}

func validateTask(t domain.Task) error {
	if _, err := validateTitle("title", t.Title); err != nil {
		return err
	}
	if utf8.RuneCountInString(t.Description) > maxDescriptionLength {
		return domain.InvalidInputf("description exceeds %d characters", maxDescriptionLength)
	}
	if !t.Priority.Valid() {
		return domain.InvalidInputf("unknown priority %q", t.Priority)
	}
	if len(t.Labels) > maxLabels {
		return domain.InvalidInputf("at most %d labels allowed", maxLabels)
	}
	seen := make(map[string]struct{}, len(t.Labels))
	for _, l := range t.Labels {
		if l == "" || utf8.RuneCountInString(l) > maxLabelLength {
			return domain.InvalidInputf("label %q must be 1-%d characters", l, maxLabelLength)
		}
		if _, dup := seen[l]; dup {
			return domain.InvalidInputf("label %q listed twice", l)
		}
		seen[l] = struct{}{}
	}
	if len(t.Subtasks) > maxSubtasks {
		return domain.InvalidInputf("at most %d subtasks allowed", maxSubtasks)
	}
	for _, st := range t.Subtasks {
		if _, err := validateTitle("subtask title", st.Title); err != nil {
			return err
		}
	}
	return nil
}

func validIndex(index *int) error {
	if index == nil {
		return nil
	}
	return domain.ValidateIndex("index", *index)
}
