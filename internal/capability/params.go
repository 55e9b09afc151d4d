package capability

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// Built-in capability names.
const (
	FindEmployee      = "find_employee"
	SearchKnowledge   = "search_knowledge"
	ListTasks         = "list_tasks"
	CheckCalendar     = "check_calendar"
	BookCalendarEvent = "book_calendar_event"
	SendEmail         = "send_email"
)

const dateLayout = "2006-01-02"

type FindEmployeeParams struct {
	Key string
}

type SearchKnowledgeParams struct {
	Query    string
	Limit    int
	Category string
}

type ListTasksParams struct {
	Assignee string
	Status   string
}

type CheckCalendarParams struct {
	StartDate   string
	EndDate     string
	CalendarIDs []string
}

type BookCalendarEventParams struct {
	Title     string
	StartDate string
	EndDate   string
	Attendees []string
	AllDay    *bool
}

type SendEmailParams struct {
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Body    string
}

// CustomParams carries the validated arguments of a config-declared
// capability; handlers receive the map as-is.
type CustomParams map[string]any

// wholeDayKeywords mark event titles that imply a whole-day booking when the
// model did not set the all_day flag.
var wholeDayKeywords = []string{
	"birthday", "anniversary", "holiday", "pto", "out of office", "offsite", "vacation",
}

// WholeDay decides whether the booking is a whole-day event. The explicit
// flag always wins; otherwise date-only boundaries or a keyword in the title
// imply whole-day.
func (p BookCalendarEventParams) WholeDay() bool {
	if p.AllDay != nil {
		return *p.AllDay
	}
	if isDateOnly(p.StartDate) && isDateOnly(p.EndDate) {
		return true
	}
	title := strings.ToLower(p.Title)
	for _, kw := range wholeDayKeywords {
		if strings.Contains(title, kw) {
			return true
		}
	}
	return false
}

func isDateOnly(s string) bool {
	_, err := time.Parse(dateLayout, s)
	return err == nil
}

func isDateTime(s string) bool {
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}

// Builtins returns the definitions of the built-in capability set.
func Builtins() []Definition {
	return []Definition{
		{
			Name:        FindEmployee,
			Description: "Look up an employee in the company directory by name, email, or employee id. Returns their profile (title, department, manager, location).",
			Parameters: []Parameter{
				{Name: "key", Type: TypeString, Description: "Name, email address, or employee id", Required: true},
			},
			decode: decodeFindEmployee,
			describe: func(params any) string {
				p := params.(FindEmployeeParams)
				return fmt.Sprintf("Look up employee %q", p.Key)
			},
		},
		{
			Name:        SearchKnowledge,
			Description: "Search the company knowledge base (policies, FAQs, documentation). Returns ranked excerpts.",
			Parameters: []Parameter{
				{Name: "query", Type: TypeString, Description: "Search query", Required: true},
				{Name: "limit", Type: TypeInt, Description: "Maximum results (default 5)", Required: false},
				{Name: "category", Type: TypeString, Description: "Restrict to a category, e.g. faq or doc", Required: false},
			},
			decode: decodeSearchKnowledge,
			describe: func(params any) string {
				p := params.(SearchKnowledgeParams)
				return fmt.Sprintf("Search the knowledge base for %q", p.Query)
			},
		},
		{
			Name:        ListTasks,
			Description: "List tasks from the task tracker, optionally filtered by assignee and status.",
			Parameters: []Parameter{
				{Name: "assignee", Type: TypeString, Description: "Employee id or email; defaults to the requesting user", Required: false},
				{Name: "status", Type: TypeString, Description: "Task status filter, e.g. open or done", Required: false},
			},
			decode: decodeListTasks,
			describe: func(params any) string {
				p := params.(ListTasksParams)
				if p.Assignee == "" {
					return "List tasks"
				}
				return fmt.Sprintf("List tasks for %s", p.Assignee)
			},
		},
		{
			Name:        CheckCalendar,
			Description: "Check calendar events and availability between two dates (inclusive).",
			Parameters: []Parameter{
				{Name: "start_date", Type: TypeDate, Description: "First day to check, YYYY-MM-DD", Required: true},
				{Name: "end_date", Type: TypeDate, Description: "Last day to check (inclusive), YYYY-MM-DD", Required: true},
				{Name: "calendar_ids", Type: TypeStringArray, Description: "Calendars to check; defaults to the user's primary calendar", Required: false},
			},
			decode: decodeCheckCalendar,
			describe: func(params any) string {
				p := params.(CheckCalendarParams)
				return fmt.Sprintf("Check calendar from %s to %s", p.StartDate, p.EndDate)
			},
		},
		{
			Name:             BookCalendarEvent,
			Description:      "Create a calendar event. Whole-day events take YYYY-MM-DD boundaries (end inclusive); timed events take RFC3339 timestamps.",
			ApprovalRequired: true,
			Parameters: []Parameter{
				{Name: "title", Type: TypeString, Description: "Event title", Required: true},
				{Name: "start_date", Type: TypeString, Description: "Start: YYYY-MM-DD or RFC3339", Required: true},
				{Name: "end_date", Type: TypeString, Description: "End (inclusive for whole-day): YYYY-MM-DD or RFC3339", Required: true},
				{Name: "attendees", Type: TypeStringArray, Description: "Attendee email addresses", Required: false},
				{Name: "all_day", Type: TypeBool, Description: "Force whole-day handling", Required: false},
			},
			decode: decodeBookCalendarEvent,
			describe: func(params any) string {
				p := params.(BookCalendarEventParams)
				s := fmt.Sprintf("Book %q from %s to %s", p.Title, p.StartDate, p.EndDate)
				if p.WholeDay() {
					s += " (whole day)"
				}
				if len(p.Attendees) > 0 {
					s += " with " + strings.Join(p.Attendees, ", ")
				}
				return s
			},
		},
		{
			Name:             SendEmail,
			Description:      "Send an email from the user's account.",
			ApprovalRequired: true,
			Parameters: []Parameter{
				{Name: "to", Type: TypeStringArray, Description: "Recipient email addresses", Required: true},
				{Name: "cc", Type: TypeStringArray, Description: "CC addresses", Required: false},
				{Name: "bcc", Type: TypeStringArray, Description: "BCC addresses", Required: false},
				{Name: "subject", Type: TypeString, Description: "Subject line", Required: true},
				{Name: "body", Type: TypeString, Description: "Plain-text body", Required: true},
			},
			decode: decodeSendEmail,
			describe: func(params any) string {
				p := params.(SendEmailParams)
				return fmt.Sprintf("Send email %q to %s", p.Subject, strings.Join(p.To, ", "))
			},
		},
	}
}

// NewCustomDefinition builds a definition for a config-declared capability.
// Arguments get generic validation against the parameter list and reach the
// handler as CustomParams.
func NewCustomDefinition(name, description string, approvalRequired bool, params []Parameter) Definition {
	return Definition{
		Name:             name,
		Description:      description,
		ApprovalRequired: approvalRequired,
		Parameters:       params,
	}
}

// -- decoding --

// decoder accumulates missing/invalid findings while pulling typed values
// out of a raw argument map.
type decoder struct {
	params  map[string]any
	missing []string
	invalid map[string]string
}

func newDecoder(params map[string]any) *decoder {
	return &decoder{params: params, invalid: make(map[string]string)}
}

func (d *decoder) str(key string, required bool) string {
	v, ok := d.params[key]
	if !ok || v == nil {
		if required {
			d.missing = append(d.missing, key)
		}
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.invalid[key] = "expected string"
		return ""
	}
	if required && strings.TrimSpace(s) == "" {
		d.missing = append(d.missing, key)
		return ""
	}
	return s
}

func (d *decoder) strSlice(key string, required bool) []string {
	v, ok := d.params[key]
	if !ok || v == nil {
		if required {
			d.missing = append(d.missing, key)
		}
		return nil
	}
	switch vv := v.(type) {
	case []string:
		if required && len(vv) == 0 {
			d.missing = append(d.missing, key)
		}
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				d.invalid[key] = "expected array of strings"
				return nil
			}
			out = append(out, s)
		}
		if required && len(out) == 0 {
			d.missing = append(d.missing, key)
		}
		return out
	case string:
		// Models occasionally send a single recipient as a bare string.
		return []string{vv}
	default:
		d.invalid[key] = "expected array of strings"
		return nil
	}
}

func (d *decoder) intVal(key string) int {
	v, ok := d.params[key]
	if !ok || v == nil {
		return 0
	}
	switch vv := v.(type) {
	case int:
		return vv
	case float64:
		return int(vv)
	default:
		d.invalid[key] = "expected integer"
		return 0
	}
}

func (d *decoder) boolPtr(key string) *bool {
	v, ok := d.params[key]
	if !ok || v == nil {
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		d.invalid[key] = "expected boolean"
		return nil
	}
	return &b
}

func (d *decoder) date(key string, required bool) string {
	s := d.str(key, required)
	if s == "" {
		return ""
	}
	if !isDateOnly(s) {
		d.invalid[key] = "expected date in YYYY-MM-DD form"
		return ""
	}
	return s
}

func (d *decoder) addresses(key string, required bool) []string {
	addrs := d.strSlice(key, required)
	for _, a := range addrs {
		if _, err := mail.ParseAddress(a); err != nil {
			d.invalid[key] = fmt.Sprintf("invalid address %q", a)
			return nil
		}
	}
	return addrs
}

func (d *decoder) err() *ValidationError {
	if len(d.missing) == 0 && len(d.invalid) == 0 {
		return nil
	}
	inv := d.invalid
	if len(inv) == 0 {
		inv = nil
	}
	return &ValidationError{Missing: d.missing, Invalid: inv}
}

func decodeFindEmployee(params map[string]any) (any, *ValidationError) {
	d := newDecoder(params)
	p := FindEmployeeParams{Key: d.str("key", true)}
	if verr := d.err(); verr != nil {
		return nil, verr
	}
	return p, nil
}

func decodeSearchKnowledge(params map[string]any) (any, *ValidationError) {
	d := newDecoder(params)
	p := SearchKnowledgeParams{
		Query:    d.str("query", true),
		Limit:    d.intVal("limit"),
		Category: d.str("category", false),
	}
	if p.Limit < 0 {
		d.invalid["limit"] = "must not be negative"
	}
	if verr := d.err(); verr != nil {
		return nil, verr
	}
	return p, nil
}

func decodeListTasks(params map[string]any) (any, *ValidationError) {
	d := newDecoder(params)
	p := ListTasksParams{
		Assignee: d.str("assignee", false),
		Status:   d.str("status", false),
	}
	if verr := d.err(); verr != nil {
		return nil, verr
	}
	return p, nil
}

func decodeCheckCalendar(params map[string]any) (any, *ValidationError) {
	d := newDecoder(params)
	p := CheckCalendarParams{
		StartDate:   d.date("start_date", true),
		EndDate:     d.date("end_date", true),
		CalendarIDs: d.strSlice("calendar_ids", false),
	}
	if p.StartDate != "" && p.EndDate != "" && p.EndDate < p.StartDate {
		d.invalid["end_date"] = "must not be before start_date"
	}
	if verr := d.err(); verr != nil {
		return nil, verr
	}
	return p, nil
}

func decodeBookCalendarEvent(params map[string]any) (any, *ValidationError) {
	d := newDecoder(params)
	p := BookCalendarEventParams{
		Title:     d.str("title", true),
		StartDate: d.str("start_date", true),
		EndDate:   d.str("end_date", true),
		Attendees: d.addresses("attendees", false),
		AllDay:    d.boolPtr("all_day"),
	}
	validateEventBounds(d, p)
	if verr := d.err(); verr != nil {
		return nil, verr
	}
	return p, nil
}

func validateEventBounds(d *decoder, p BookCalendarEventParams) {
	if p.StartDate == "" || p.EndDate == "" {
		return
	}
	startIsDate, endIsDate := isDateOnly(p.StartDate), isDateOnly(p.EndDate)
	startIsTime, endIsTime := isDateTime(p.StartDate), isDateTime(p.EndDate)

	switch {
	case !startIsDate && !startIsTime:
		d.invalid["start_date"] = "expected YYYY-MM-DD or RFC3339"
	case !endIsDate && !endIsTime:
		d.invalid["end_date"] = "expected YYYY-MM-DD or RFC3339"
	case startIsDate != endIsDate:
		d.invalid["end_date"] = "start_date and end_date must both be dates or both be timestamps"
	case p.AllDay != nil && *p.AllDay && !startIsDate:
		d.invalid["start_date"] = "all_day events take YYYY-MM-DD boundaries"
	case startIsDate && p.EndDate < p.StartDate:
		d.invalid["end_date"] = "must not be before start_date"
	case startIsTime:
		start, _ := time.Parse(time.RFC3339, p.StartDate)
		end, _ := time.Parse(time.RFC3339, p.EndDate)
		if end.Before(start) {
			d.invalid["end_date"] = "must not be before start_date"
		}
	}
}

func decodeSendEmail(params map[string]any) (any, *ValidationError) {
	d := newDecoder(params)
	p := SendEmailParams{
		To:      d.addresses("to", true),
		Cc:      d.addresses("cc", false),
		Bcc:     d.addresses("bcc", false),
		Subject: d.str("subject", true),
		Body:    d.str("body", true),
	}
	if verr := d.err(); verr != nil {
		return nil, verr
	}
	return p, nil
}

func genericDecode(def *Definition, params map[string]any) (any, error) {
	d := newDecoder(params)
	for _, spec := range def.Parameters {
		switch spec.Type {
		case TypeInt:
			d.intVal(spec.Name)
			if spec.Required {
				if _, ok := params[spec.Name]; !ok {
					d.missing = append(d.missing, spec.Name)
				}
			}
		case TypeBool:
			d.boolPtr(spec.Name)
			if spec.Required {
				if _, ok := params[spec.Name]; !ok {
					d.missing = append(d.missing, spec.Name)
				}
			}
		case TypeStringArray:
			d.strSlice(spec.Name, spec.Required)
		case TypeDate:
			d.date(spec.Name, spec.Required)
		default:
			d.str(spec.Name, spec.Required)
		}
	}
	if verr := d.err(); verr != nil {
		verr.Capability = def.Name
		return nil, verr
	}
	out := make(CustomParams, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out, nil
}
