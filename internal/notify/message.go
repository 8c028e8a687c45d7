package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"volunteerreminder/internal/model"
)

const dueDateLayout = "Mon Jan 2, 2006"

// ReminderMessage renders one consolidated reminder listing every task in
// tasks. The caller guarantees the volunteer has an address.
func ReminderMessage(v model.Volunteer, tasks []model.Task) Message {
	addr, _ := v.Address()
	name := displayName(v)

	subject := "Reminder: you have an open volunteer task"
	if len(tasks) > 1 {
		subject = fmt.Sprintf("Reminder: you have %d open volunteer tasks", len(tasks))
	}

	var plain, body strings.Builder
	fmt.Fprintf(&plain, "Hello %s,\n\nThe following tasks assigned to you are still open:\n\n", name)
	fmt.Fprintf(&body, "<p>Hello %s,</p><p>The following tasks assigned to you are still open:</p><ul>", html.EscapeString(name))
	for _, t := range tasks {
		due := dueText(t.DueDate)
		fmt.Fprintf(&plain, "  - %s (%s)\n", t.Title, due)
		fmt.Fprintf(&body, "<li><strong>%s</strong> (%s)</li>", html.EscapeString(t.Title), html.EscapeString(due))
	}
	plain.WriteString("\nThank you for volunteering!\n")
	body.WriteString("</ul><p>Thank you for volunteering!</p>")

	return Message{
		ToEmail:   addr,
		ToName:    v.FullName,
		Subject:   subject,
		PlainText: plain.String(),
		HTML:      body.String(),
	}
}

// OverdueAlertMessage renders the alert an administrator receives for one
// overdue (task, volunteer) pair.
func OverdueAlertMessage(admin string, p model.Pair, daysOverdue int) Message {
	name := displayName(p.Volunteer)
	contact := "no email on file"
	if addr, ok := p.Volunteer.Address(); ok {
		contact = addr
	}
	days := "1 day"
	if daysOverdue != 1 {
		days = fmt.Sprintf("%d days", daysOverdue)
	}

	subject := fmt.Sprintf("Overdue task: %s", p.Task.Title)
	plain := fmt.Sprintf(
		"Task %q assigned to %s (%s) was %s and is %s overdue.\nCurrent status: %s\n",
		p.Task.Title, name, contact, dueText(p.Task.DueDate), days, p.Task.Status,
	)
	body := fmt.Sprintf(
		"<p>Task <strong>%s</strong> assigned to %s (%s) was %s and is <strong>%s overdue</strong>.</p><p>Current status: %s</p>",
		html.EscapeString(p.Task.Title), html.EscapeString(name), html.EscapeString(contact),
		html.EscapeString(dueText(p.Task.DueDate)), days, html.EscapeString(string(p.Task.Status)),
	)

	return Message{
		ToEmail:   admin,
		Subject:   subject,
		PlainText: plain,
		HTML:      body,
	}
}

func displayName(v model.Volunteer) string {
	if n := strings.TrimSpace(v.FullName); n != "" {
		return n
	}
	return fmt.Sprintf("volunteer #%d", v.ID)
}

func dueText(due *time.Time) string {
	if due == nil {
		return "no due date"
	}
	return "due " + due.Format(dueDateLayout)
}
