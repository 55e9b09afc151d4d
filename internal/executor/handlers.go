package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/adjutant/adjutant/internal/capability"
	"github.com/adjutant/adjutant/internal/knowledge"
	"github.com/adjutant/adjutant/internal/oauth"
	"github.com/adjutant/adjutant/internal/workspace"
)

// registerBuiltins wires the standard capabilities onto the handler table.
// Capabilities whose backing service is missing stay unregistered so the
// catalog can be narrowed by deployment config.
func (e *Executor) registerBuiltins(deps Deps) {
	if deps.Knowledge != nil {
		e.Register(capability.FindEmployee, findEmployeeHandler(deps.Knowledge))
		e.Register(capability.SearchKnowledge, searchKnowledgeHandler(deps.Knowledge))
		e.Register(capability.ListTasks, listTasksHandler(deps.Knowledge))
	}
	if deps.Tokens != nil && deps.Calendar != nil {
		e.Register(capability.CheckCalendar, checkCalendarHandler(deps.Tokens, deps.Calendar))
		e.Register(capability.BookCalendarEvent, bookEventHandler(deps.Tokens, deps.Calendar))
	}
	if deps.Tokens != nil && deps.Mail != nil {
		e.Register(capability.SendEmail, sendEmailHandler(deps.Tokens, deps.Mail))
	}
}

func findEmployeeHandler(know KnowledgeService) Handler {
	return func(ctx context.Context, _ string, params any) (*Result, error) {
		p, ok := params.(capability.FindEmployeeParams)
		if !ok {
			return nil, fmt.Errorf("find_employee: unexpected params type %T", params)
		}
		profile, err := know.ResolveEmployee(ctx, p.Key)
		if err != nil {
			if errors.Is(err, knowledge.ErrNotFound) {
				// A miss is an answer, not a failure; let the model relay it.
				return &Result{Summary: fmt.Sprintf("No employee found matching %q.", p.Key)}, nil
			}
			return nil, err
		}
		return &Result{Data: profile, Summary: summarizeProfile(profile)}, nil
	}
}

func searchKnowledgeHandler(know KnowledgeService) Handler {
	return func(ctx context.Context, _ string, params any) (*Result, error) {
		p, ok := params.(capability.SearchKnowledgeParams)
		if !ok {
			return nil, fmt.Errorf("search_knowledge: unexpected params type %T", params)
		}
		results, err := know.Search(ctx, p.Query, p.Limit, p.Category)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return &Result{Summary: fmt.Sprintf("No knowledge base results for %q.", p.Query)}, nil
		}
		return &Result{
			Data:    results,
			Summary: fmt.Sprintf("%d knowledge base result(s) for %q.", len(results), p.Query),
		}, nil
	}
}

func listTasksHandler(know KnowledgeService) Handler {
	return func(ctx context.Context, _ string, params any) (*Result, error) {
		p, ok := params.(capability.ListTasksParams)
		if !ok {
			return nil, fmt.Errorf("list_tasks: unexpected params type %T", params)
		}
		tasks, err := know.ListTasks(ctx, p.Assignee, p.Status)
		if err != nil {
			return nil, err
		}
		return &Result{Data: tasks, Summary: summarizeTasks(tasks, p)}, nil
	}
}

func checkCalendarHandler(tokens TokenSource, cal CalendarService) Handler {
	return func(ctx context.Context, userID string, params any) (*Result, error) {
		p, ok := params.(capability.CheckCalendarParams)
		if !ok {
			return nil, fmt.Errorf("check_calendar: unexpected params type %T", params)
		}
		calendarIDs := p.CalendarIDs
		if len(calendarIDs) == 0 {
			calendarIDs = []string{""}
		}
		var all []workspace.Event
		for _, id := range calendarIDs {
			events, err := withToken(ctx, tokens, userID, oauth.ProviderCalendar, func(token string) ([]workspace.Event, error) {
				return cal.ListEvents(ctx, token, id, p.StartDate, p.EndDate)
			})
			if err != nil {
				return nil, err
			}
			all = append(all, events...)
		}
		summary := fmt.Sprintf("%d event(s) between %s and %s.", len(all), p.StartDate, p.EndDate)
		if len(all) == 0 {
			summary = fmt.Sprintf("No events between %s and %s.", p.StartDate, p.EndDate)
		}
		return &Result{Data: all, Summary: summary}, nil
	}
}

func bookEventHandler(tokens TokenSource, cal CalendarService) Handler {
	return func(ctx context.Context, userID string, params any) (*Result, error) {
		p, ok := params.(capability.BookCalendarEventParams)
		if !ok {
			return nil, fmt.Errorf("book_calendar_event: unexpected params type %T", params)
		}
		req := workspace.EventRequest{
			Title:     p.Title,
			Start:     p.StartDate,
			End:       p.EndDate,
			Attendees: p.Attendees,
		}
		if p.WholeDay() {
			req.AllDay = true
			req.Start = workspace.TruncateToDate(p.StartDate)
			req.End = workspace.TruncateToDate(p.EndDate)
		}
		event, err := withToken(ctx, tokens, userID, oauth.ProviderCalendar, func(token string) (*workspace.Event, error) {
			return cal.CreateEvent(ctx, token, req)
		})
		if err != nil {
			return nil, err
		}
		summary := fmt.Sprintf("Booked %q from %s to %s.", event.Title, event.Start, event.End)
		if event.AllDay {
			if event.Start == event.End {
				summary = fmt.Sprintf("Booked %q on %s (whole day).", event.Title, event.Start)
			} else {
				summary = fmt.Sprintf("Booked %q from %s to %s (whole day).", event.Title, event.Start, event.End)
			}
		}
		return &Result{Data: event, Summary: summary}, nil
	}
}

func sendEmailHandler(tokens TokenSource, mail MailService) Handler {
	return func(ctx context.Context, userID string, params any) (*Result, error) {
		p, ok := params.(capability.SendEmailParams)
		if !ok {
			return nil, fmt.Errorf("send_email: unexpected params type %T", params)
		}
		msg := workspace.MailMessage{
			To:      p.To,
			Cc:      p.Cc,
			Bcc:     p.Bcc,
			Subject: p.Subject,
			Body:    p.Body,
		}
		receipt, err := withToken(ctx, tokens, userID, oauth.ProviderMail, func(token string) (*workspace.SentReceipt, error) {
			return mail.Send(ctx, token, msg)
		})
		if err != nil {
			return nil, err
		}
		return &Result{
			Data:    receipt,
			Summary: fmt.Sprintf("Email %q sent to %s.", p.Subject, strings.Join(p.To, ", ")),
		}, nil
	}
}

func summarizeProfile(p *knowledge.Profile) string {
	var b strings.Builder
	b.WriteString(p.Name)
	if p.Title != "" {
		fmt.Fprintf(&b, ", %s", p.Title)
	}
	if p.Department != "" {
		fmt.Fprintf(&b, " (%s)", p.Department)
	}
	if p.Email != "" {
		fmt.Fprintf(&b, " <%s>", p.Email)
	}
	if p.Manager != nil && p.Manager.Name != "" {
		fmt.Fprintf(&b, ", reports to %s", p.Manager.Name)
	}
	b.WriteString(".")
	return b.String()
}

func summarizeTasks(tasks []knowledge.Task, p capability.ListTasksParams) string {
	var b strings.Builder
	if len(tasks) == 0 {
		b.WriteString("No tasks")
	} else {
		fmt.Fprintf(&b, "%d task(s)", len(tasks))
	}
	if p.Assignee != "" {
		fmt.Fprintf(&b, " for %s", p.Assignee)
	}
	if p.Status != "" {
		fmt.Fprintf(&b, " with status %s", p.Status)
	}
	b.WriteString(".")
	return b.String()
}
